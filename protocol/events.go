package protocol

import "time"

// EventType names a live channel event. It is sent as the SSE event name.
type EventType string

const (
	EventHello            EventType = "hello"
	EventMessage          EventType = "message"
	EventSessionFormed    EventType = "session_formed"
	EventFormationTimeout EventType = "formation_timeout"
	EventRoundAnnounced   EventType = "round_announced"
	EventRoundClosed      EventType = "round_closed"
	EventRoundScored      EventType = "round_scored"
	EventSessionFinished  EventType = "session_finished"
	EventSessionAborted   EventType = "session_aborted"
)

// Event is a push notification for one participant.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, data any) Event {
	return Event{Type: t, At: time.Now().UTC(), Data: data}
}

// MessageNotice announces a new message without carrying its body.
type MessageNotice struct {
	MessageID string `json:"message_id"`
	Seq       uint64 `json:"seq"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
}

// SessionNotice is attached to session lifecycle events.
type SessionNotice struct {
	SessionID string         `json:"session_id"`
	Members   []string       `json:"members,omitempty"`
	Reason    Reason         `json:"reason,omitempty"`
	Scores    map[string]int `json:"scores,omitempty"`
}

// RoundNotice is attached to round lifecycle events.
type RoundNotice struct {
	SessionID    string           `json:"session_id"`
	Round        int              `json:"round"`
	TotalRounds  int              `json:"total_rounds"`
	Deadline     time.Time        `json:"deadline"`
	Instructions string           `json:"instructions,omitempty"`
	Assignment   *ParticipantView `json:"assignment,omitempty"`
	RoundScores  map[string]int   `json:"round_scores,omitempty"`
	Scores       map[string]int   `json:"scores,omitempty"`
}

// HelloNotice opens every live stream.
type HelloNotice struct {
	ParticipantID string `json:"participant_id"`
	SessionID     string `json:"session_id,omitempty"`
	Heartbeat     string `json:"heartbeat"`
}
