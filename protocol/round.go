package protocol

import (
	"fmt"
	"time"
)

// RoundStatus is the lifecycle position of a single round.
type RoundStatus string

const (
	RoundAnnounced  RoundStatus = "announced"
	RoundCollecting RoundStatus = "collecting"
	RoundClosed     RoundStatus = "closed"
	RoundScored     RoundStatus = "scored"
)

var roundOrder = map[RoundStatus]int{
	RoundAnnounced:  1,
	RoundCollecting: 2,
	RoundClosed:     3,
	RoundScored:     4,
}

// IsAfter reports whether r comes later in the round lifecycle than r2.
func (r RoundStatus) IsAfter(r2 RoundStatus) bool {
	return roundOrder[r] > roundOrder[r2]
}

// Advance returns the status that follows r. Scored is terminal.
func (r RoundStatus) Advance() (RoundStatus, error) {
	switch r {
	case RoundAnnounced:
		return RoundCollecting, nil
	case RoundCollecting:
		return RoundClosed, nil
	case RoundClosed:
		return RoundScored, nil
	}
	return r, fmt.Errorf("round status %q has no successor", r)
}

// SessionStatus is the lifecycle position of a session.
type SessionStatus string

const (
	SessionForming  SessionStatus = "forming"
	SessionActive   SessionStatus = "active"
	SessionFinished SessionStatus = "finished"
	SessionAborted  SessionStatus = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionFinished || s == SessionAborted
}

// ConnectionStatus describes how a participant is attached to the arena.
type ConnectionStatus string

const (
	Disconnected ConnectionStatus = "disconnected"
	Connected    ConnectionStatus = "connected"
	InSession    ConnectionStatus = "in-session"
)

// Performance is one participant's outcome for a scored round.
type Performance struct {
	RequestFrom   []string `json:"request_from"`
	ObtainedFrom  []string `json:"obtained_from"`
	Missed        []string `json:"missed"`
	AuthorizedFor []string `json:"authorized_for"`
	SignedFor     []string `json:"signed_for"`
	Points        int      `json:"points"`
}

// RoundRecord is the persisted history of one round. It is sealed once the
// round is scored.
type RoundRecord struct {
	Number       int                    `json:"number"`
	Status       RoundStatus            `json:"status"`
	AnnouncedAt  time.Time              `json:"announced_at"`
	Deadline     time.Time              `json:"deadline"`
	ClosedAt     *time.Time             `json:"closed_at,omitempty"`
	ScoredAt     *time.Time             `json:"scored_at,omitempty"`
	Instructions map[string]string      `json:"instructions"`
	Assignment   *Assignment            `json:"assignment"`
	Submissions  []Submission           `json:"submissions"`
	Rejections   map[Reason]int         `json:"rejections,omitempty"`
	Scores       map[string]int         `json:"scores,omitempty"`
	Performance  map[string]Performance `json:"performance,omitempty"`
}
