package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/flashbots/inbox-arena/protocol"
)

const (
	subjectSignRequest = "sign-request"
	subjectSignature   = "signature"
)

// SignRequestSubject is the subject a Player uses to ask for a signature.
func SignRequestSubject(round int) string {
	return fmt.Sprintf("%s r%d", subjectSignRequest, round)
}

// SignatureSubject is the subject a Player replies with.
func SignatureSubject(round int) string {
	return fmt.Sprintf("%s r%d", subjectSignature, round)
}

// parseSubject splits "<kind> r<n>".
func parseSubject(subject string) (kind string, round int, ok bool) {
	kind, rest, found := strings.Cut(subject, " r")
	if !found {
		return "", 0, false
	}
	round, err := strconv.Atoi(rest)
	if err != nil {
		return "", 0, false
	}
	return kind, round, true
}

// Outcome is how a Player's session ended.
type Outcome struct {
	SessionID string
	Status    protocol.EventType
	Scores    map[string]int
}

// Player is an honest bot: it asks its assigned signers, signs only for
// requesters it is authorized to sign for, and submits every signature it
// receives. An aliased authorization is resolved to whoever the player signed
// for in the previous round.
type Player struct {
	client *Client
	log    *slog.Logger

	lastSeq   uint64
	sessionID string
	members   []string
	round     int
	view      *protocol.ParticipantView

	// pending holds sign requests for a round whose announcement has not arrived.
	pending    []*protocol.Message
	signedFor  map[string]bool
	aliasUsed  int
	signedLast []string
	submitted  map[string]bool
	Accepted   int
	Rejections map[protocol.Reason]int
}

func NewPlayer(client *Client, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		client:     client,
		log:        log.With("player", client.ParticipantID()),
		signedFor:  make(map[string]bool),
		submitted:  make(map[string]bool),
		Rejections: make(map[protocol.Reason]int),
	}
}

// Play opens the live stream, joins the queue and plays one session to its
// end. The client must already be registered.
func (p *Player) Play(ctx context.Context) (*Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.reset()

	events, err := p.client.Live(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := p.client.JoinQueue(ctx); err != nil && !errors.Is(err, protocol.ErrAlreadyInSession) {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, errors.New("live stream closed")
			}
			out, err := p.handle(ctx, ev)
			if err != nil {
				return nil, err
			}
			if out != nil {
				return out, nil
			}
		}
	}
}

// reset forgets the previous session. The inbox cursor is kept so old mail
// is not replayed.
func (p *Player) reset() {
	p.sessionID, p.members = "", nil
	p.round, p.view = 0, nil
	p.pending, p.signedLast = nil, nil
	p.aliasUsed = 0
	clear(p.signedFor)
	clear(p.submitted)
}

func (p *Player) handle(ctx context.Context, ev LiveEvent) (*Outcome, error) {
	switch ev.Type {
	case protocol.EventSessionFormed:
		var n protocol.SessionNotice
		if err := ev.Decode(&n); err != nil {
			return nil, err
		}
		p.sessionID, p.members = n.SessionID, n.Members
		p.log.Debug("session formed", "session", n.SessionID)

	case protocol.EventRoundAnnounced:
		var n protocol.RoundNotice
		if err := ev.Decode(&n); err != nil {
			return nil, err
		}
		return nil, p.startRound(ctx, n)

	case protocol.EventMessage:
		return nil, p.drainInbox(ctx)

	case protocol.EventSessionFinished, protocol.EventSessionAborted:
		var n protocol.SessionNotice
		if err := ev.Decode(&n); err != nil {
			return nil, err
		}
		return &Outcome{SessionID: n.SessionID, Status: ev.Type, Scores: n.Scores}, nil

	case protocol.EventFormationTimeout:
		p.log.Info("formation timed out, waiting in queue again")
	}
	return nil, nil
}

func (p *Player) startRound(ctx context.Context, n protocol.RoundNotice) error {
	if n.Assignment == nil {
		return fmt.Errorf("round %d announced without an assignment", n.Round)
	}
	p.sessionID = n.SessionID
	p.round = n.Round
	p.view = n.Assignment
	p.signedLast = slices.Collect(maps.Keys(p.signedFor))
	p.aliasUsed = 0
	clear(p.signedFor)
	clear(p.submitted)

	reqs := make([]SendRequest, 0, len(p.view.RequestFrom))
	for _, signer := range p.view.RequestFrom {
		reqs = append(reqs, SendRequest{To: signer, Subject: SignRequestSubject(n.Round), Body: p.view.AssignedMessage})
	}
	if len(reqs) > 0 {
		if _, err := p.client.SendBatch(ctx, reqs); err != nil {
			return err
		}
	}

	pending := p.pending
	p.pending = nil
	for _, msg := range pending {
		if err := p.onMessage(ctx, msg); err != nil {
			return err
		}
	}
	return p.drainInbox(ctx)
}

func (p *Player) drainInbox(ctx context.Context) error {
	msgs, err := p.client.Messages(ctx, ListOptions{Direction: "inbox", Since: p.lastSeq})
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		p.lastSeq = max(p.lastSeq, msg.Seq)
		if err := p.onMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) onMessage(ctx context.Context, msg *protocol.Message) error {
	kind, round, ok := parseSubject(msg.Subject)
	if !ok {
		return nil
	}
	if p.view == nil || round > p.round {
		p.pending = append(p.pending, msg)
		return nil
	}
	if round < p.round {
		return nil
	}

	switch kind {
	case subjectSignRequest:
		return p.onSignRequest(ctx, msg)
	case subjectSignature:
		return p.onSignature(ctx, msg)
	}
	return nil
}

// authorized decides whether to sign for requester.
func (p *Player) authorized(requester string) bool {
	if slices.Contains(p.view.SignFor, requester) {
		return true
	}
	aliases := 0
	for _, label := range p.view.SignFor {
		if !slices.Contains(p.members, label) {
			aliases++
		}
	}
	if p.aliasUsed < aliases && slices.Contains(p.signedLast, requester) {
		p.aliasUsed++
		return true
	}
	return false
}

func (p *Player) onSignRequest(ctx context.Context, msg *protocol.Message) error {
	requester := msg.From
	if p.signedFor[requester] {
		return nil
	}
	if !p.authorized(requester) {
		p.log.Debug("declining to sign", "requester", requester, "round", p.round)
		return nil
	}

	artifact, err := p.client.SignFor(msg.Body)
	if err != nil {
		return err
	}
	p.signedFor[requester] = true
	_, err = p.client.Send(ctx, SendRequest{
		To:       requester,
		Subject:  SignatureSubject(p.round),
		Body:     "signed",
		Artifact: artifact,
	})
	return err
}

func (p *Player) onSignature(ctx context.Context, msg *protocol.Message) error {
	a := msg.Artifact
	if a == nil || a.Signer != msg.From || p.submitted[a.Signer] {
		return nil
	}
	if !slices.Contains(p.view.RequestFrom, a.Signer) {
		return nil
	}
	p.submitted[a.Signer] = true

	res, err := p.client.Submit(ctx, SubmitRequest{
		Signer:    a.Signer,
		Digest:    a.Digest,
		Signature: a.Signature,
		Round:     p.round,
		MessageID: msg.ID,
	})
	if err != nil {
		if res == nil {
			return err
		}
		p.Rejections[res.Reason]++
		p.log.Info("submission rejected", "signer", a.Signer, "reason", res.Reason)
		return nil
	}
	p.Accepted++
	return nil
}
