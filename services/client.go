package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flashbots/inbox-arena/archive"
	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/game"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/flashbots/inbox-arena/registry"
)

// Client talks to an arena server on behalf of one participant. It keeps the
// current credential and picks up refreshed ones from response headers.
type Client struct {
	baseURL       string
	participantID string
	signingKey    crypto.PrivateKey
	httpClient    *http.Client
	streamClient  *http.Client

	mu         sync.RWMutex
	credential *registry.Credential
}

// NewClient creates a client for participantID signing with signingKey.
func NewClient(baseURL, participantID string, signingKey crypto.PrivateKey) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		participantID: participantID,
		signingKey:    signingKey,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		streamClient:  &http.Client{},
	}
}

func (c *Client) ParticipantID() string {
	return c.participantID
}

// Credential returns the current credential, nil before registration.
func (c *Client) Credential() *registry.Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credential
}

// SetCredential installs a credential obtained elsewhere.
func (c *Client) SetCredential(cred *registry.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = cred
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.credential == nil {
		return ""
	}
	return c.credential.Token
}

// pickUpRefresh stores a credential handed out with a response.
func (c *Client) pickUpRefresh(h http.Header) {
	token := h.Get(HeaderToken)
	if token == "" {
		return
	}
	expires, _ := time.Parse(time.RFC3339, h.Get(HeaderTokenExpires))
	c.SetCredential(&registry.Credential{ParticipantID: c.participantID, Token: token, ExpiresAt: expires})
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do performs a request and decodes a 200 response into out. Any other
// status becomes a *protocol.Error carrying the server's reason code.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.pickUpRefresh(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	var e ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Reason == "" {
		reason := protocol.ReasonInternal
		if resp.StatusCode == http.StatusUnauthorized {
			reason = protocol.ReasonUnauthorized
		}
		return protocol.Errorf(reason, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &protocol.Error{Reason: e.Reason, Msg: e.Error}
}

// Register signs a registration with the client's key and stores the
// returned credential.
func (c *Client) Register(ctx context.Context, displayName string) (*registry.Credential, error) {
	signed, err := protocol.NewSigned(c.signingKey, &protocol.Registration{
		ParticipantID: c.participantID,
		DisplayName:   displayName,
	})
	if err != nil {
		return nil, err
	}
	var cred registry.Credential
	if err := c.do(ctx, http.MethodPost, "/participants/register", nil, signed, &cred); err != nil {
		return nil, err
	}
	c.SetCredential(&cred)
	return &cred, nil
}

// Refresh exchanges the current credential for a new one.
func (c *Client) Refresh(ctx context.Context) (*registry.Credential, error) {
	var cred registry.Credential
	if err := c.do(ctx, http.MethodPost, "/participants/refresh", nil, nil, &cred); err != nil {
		return nil, err
	}
	c.SetCredential(&cred)
	return &cred, nil
}

func (c *Client) Me(ctx context.Context) (*registry.Participant, error) {
	var p registry.Participant
	if err := c.do(ctx, http.MethodGet, "/participants/me", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) Participants(ctx context.Context) ([]registry.Participant, error) {
	var resp struct {
		Participants []registry.Participant `json:"participants"`
	}
	if err := c.do(ctx, http.MethodGet, "/participants", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

func (c *Client) Send(ctx context.Context, req SendRequest) (*protocol.Receipt, error) {
	var receipt protocol.Receipt
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) SendBatch(ctx context.Context, reqs []SendRequest) ([]BatchItem, error) {
	var resp BatchResponse
	if err := c.do(ctx, http.MethodPost, "/messages/batch", nil, BatchRequest{Messages: reqs}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ListOptions narrows a Messages call.
type ListOptions struct {
	Direction     string
	Correspondent string
	State         protocol.DeliveryState
	Since         uint64
	Limit         int
	// Peek leaves returned inbound messages in the sent state.
	Peek bool
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Direction != "" {
		q.Set("direction", o.Direction)
	}
	if o.Correspondent != "" {
		q.Set("correspondent", o.Correspondent)
	}
	if o.State != "" {
		q.Set("state", string(o.State))
	}
	if o.Since > 0 {
		q.Set("since", strconv.FormatUint(o.Since, 10))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Peek {
		q.Set("peek", "true")
	}
	return q
}

func (c *Client) Messages(ctx context.Context, opts ListOptions) ([]*protocol.Message, error) {
	var resp MessageList
	if err := c.do(ctx, http.MethodGet, "/messages", opts.query(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Message(ctx context.Context, id string) (*protocol.Message, error) {
	var msg protocol.Message
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkDelivered(ctx context.Context, id string) (*protocol.Message, error) {
	var msg protocol.Message
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(id)+"/delivered", nil, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) (*protocol.Message, error) {
	var msg protocol.Message
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(id)+"/read", nil, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) JoinQueue(ctx context.Context) (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.do(ctx, http.MethodPost, "/queue/join", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) LeaveQueue(ctx context.Context) (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.do(ctx, http.MethodPost, "/queue/leave", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) QueueStatus(ctx context.Context) (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.do(ctx, http.MethodGet, "/queue/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignFor signs the digest of text with the client's key.
func (c *Client) SignFor(text string) (*protocol.Artifact, error) {
	digest := crypto.DigestMessage(text)
	sig, err := crypto.SignDigest(c.signingKey, digest)
	if err != nil {
		return nil, err
	}
	return &protocol.Artifact{Signer: c.participantID, Digest: digest, Signature: sig}, nil
}

// Submit presents a signature. A rejection returns the result together with
// an error carrying the same reason.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/submissions", nil, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	c.pickUpRefresh(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	var out SubmitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("submit: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		if out.Reason == "" {
			// Failures outside the scorer (auth, malformed body) use ErrorResponse.
			var e ErrorResponse
			_ = json.Unmarshal(body, &e)
			out.Reason = e.Reason
		}
		return &out, &protocol.Error{Reason: out.Reason, Msg: out.Error}
	}
	return &out, nil
}

func (c *Client) CurrentSession(ctx context.Context) (*game.View, error) {
	var view game.View
	if err := c.do(ctx, http.MethodGet, "/sessions/current", nil, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) Session(ctx context.Context, id string) (*game.Summary, error) {
	var sum game.Summary
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (c *Client) Sessions(ctx context.Context) ([]game.Summary, error) {
	var resp struct {
		Sessions []game.Summary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) Archive(ctx context.Context, id string) (*archive.Record, error) {
	var rec archive.Record
	if err := c.do(ctx, http.MethodGet, "/archive/"+url.PathEscape(id), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) ArchiveList(ctx context.Context) ([]archive.Summary, error) {
	var resp struct {
		Sessions []archive.Summary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/archive", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Config(ctx context.Context) (*protocol.ArenaConfig, error) {
	var cfg protocol.ArenaConfig
	if err := c.do(ctx, http.MethodGet, "/config", nil, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) Moderator(ctx context.Context) (*ModeratorResponse, error) {
	var resp ModeratorResponse
	if err := c.do(ctx, http.MethodGet, "/moderator", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Live opens the participant's event stream. The channel is closed when the
// stream ends, either because ctx is done or the server closed it.
func (c *Client) Live(ctx context.Context) (<-chan LiveEvent, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/live", nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	c.pickUpRefresh(resp.Header)

	events := make(chan LiveEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, events)
	}()
	return events, nil
}

// readEvents parses a server-sent event stream. Comment lines are heartbeats.
func readEvents(ctx context.Context, r io.Reader, out chan<- LiveEvent) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxBodyBytes)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev LiveEvent
			if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
