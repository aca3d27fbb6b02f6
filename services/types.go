package services

import (
	"encoding/json"
	"time"

	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/matchmaking"
	"github.com/flashbots/inbox-arena/protocol"
)

const (
	// HeaderToken carries a refreshed credential on any authenticated response.
	HeaderToken = "X-Arena-Token"
	// HeaderTokenExpires is the refreshed credential's expiry in RFC 3339.
	HeaderTokenExpires = "X-Arena-Token-Expires"

	MaxBatchSize = 50
	maxListLimit = 500
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string          `json:"error"`
	Reason protocol.Reason `json:"reason"`
}

// SendRequest is one outgoing message. The sender is the caller.
type SendRequest struct {
	ID       string             `json:"id,omitempty"`
	To       string             `json:"to"`
	Subject  string             `json:"subject"`
	Body     string             `json:"body"`
	Artifact *protocol.Artifact `json:"artifact,omitempty"`
}

type BatchRequest struct {
	Messages []SendRequest `json:"messages"`
}

// BatchItem is the outcome of one message in a batch, in request order.
type BatchItem struct {
	Receipt *protocol.Receipt `json:"receipt,omitempty"`
	Reason  protocol.Reason   `json:"reason,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type BatchResponse struct {
	Results []BatchItem `json:"results"`
}

type MessageList struct {
	Messages []*protocol.Message `json:"messages"`
	Count    int                 `json:"count"`
}

type QueueResponse struct {
	matchmaking.Status
	// SessionID is set when joining completed a cohort that includes the caller.
	SessionID string `json:"session_id,omitempty"`
}

// SubmitRequest presents a signature. The requester is the caller.
type SubmitRequest struct {
	Signer    string           `json:"signer"`
	Digest    crypto.Digest    `json:"digest"`
	Signature crypto.Signature `json:"signature"`
	Round     int              `json:"round,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
}

// SubmitResponse is returned for accepted and rejected submissions alike.
type SubmitResponse struct {
	protocol.SubmissionResult
	Error string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Uptime         string `json:"uptime"`
	Participants   int    `json:"participants"`
	Messages       int    `json:"messages"`
	Connected      int    `json:"connected"`
	QueueLength    int    `json:"queue_length"`
	ActiveSessions int    `json:"active_sessions"`
}

type ModeratorResponse struct {
	ParticipantID string           `json:"participant_id"`
	PublicKey     crypto.PublicKey `json:"public_key"`
}

// LiveEvent is an event read from the live stream with its payload undecoded.
type LiveEvent struct {
	Type protocol.EventType `json:"type"`
	At   time.Time          `json:"at"`
	Data json.RawMessage    `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (e LiveEvent) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
