package protocol

import (
	"time"

	"github.com/flashbots/inbox-arena/crypto"
)

// DeliveryState is a message's lifecycle marker. It only moves forward.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

func (s DeliveryState) rank() int {
	switch s {
	case StateSent:
		return 1
	case StateDelivered:
		return 2
	case StateRead:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known states.
func (s DeliveryState) Valid() bool {
	return s.rank() > 0
}

// IsAfter reports whether s is strictly later in the lifecycle than other.
func (s DeliveryState) IsAfter(other DeliveryState) bool {
	return s.rank() > other.rank()
}

// ArtifactState distinguishes an embedded signature that has not been checked
// from one that an accepted submission has vouched for.
type ArtifactState string

const (
	ArtifactAbsent     ArtifactState = "absent"
	ArtifactUnverified ArtifactState = "unverified"
	ArtifactVerified   ArtifactState = "verified"
)

// Artifact is a signed digest carried inside a message.
type Artifact struct {
	Signer    string           `json:"signer"`
	Digest    crypto.Digest    `json:"digest"`
	Signature crypto.Signature `json:"signature"`
	State     ArtifactState    `json:"state"`
}

// Message is one piece of arena mail.
type Message struct {
	ID          string        `json:"id"`
	Seq         uint64        `json:"seq"`
	SessionID   string        `json:"session_id,omitempty"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Subject     string        `json:"subject"`
	Body        string        `json:"body"`
	CreatedAt   time.Time     `json:"created_at"`
	State       DeliveryState `json:"state"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
	Artifact    *Artifact     `json:"artifact,omitempty"`
}

// ArtifactState reports the state of the embedded artifact, absent if there is none.
func (m *Message) ArtifactState() ArtifactState {
	if m.Artifact == nil {
		return ArtifactAbsent
	}
	return m.Artifact.State
}

// Clone returns a deep copy safe to hand out of the ledger.
func (m *Message) Clone() *Message {
	c := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	if m.Artifact != nil {
		a := *m.Artifact
		a.Signature = crypto.NewSignature(m.Artifact.Signature)
		c.Artifact = &a
	}
	return &c
}

// Receipt acknowledges a send.
type Receipt struct {
	MessageID string        `json:"message_id"`
	Seq       uint64        `json:"seq"`
	State     DeliveryState `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	// Duplicate is set when the id was already stored and the send was a no-op.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Submission is a requester presenting a signer's signature over a digest.
type Submission struct {
	Requester string           `json:"requester"`
	Signer    string           `json:"signer"`
	Digest    crypto.Digest    `json:"digest"`
	Signature crypto.Signature `json:"signature"`
	// Round optionally pins the round the requester is submitting for. A
	// submission for any round other than the collecting one is late.
	Round int `json:"round,omitempty"`
	// MessageID optionally points at the mail that carried the artifact.
	MessageID   string    `json:"message_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmissionResult is the synchronous answer to a submission.
type SubmissionResult struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
	Session  string `json:"session_id,omitempty"`
	Round    int    `json:"round,omitempty"`
}
