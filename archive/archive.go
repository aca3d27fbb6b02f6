// Package archive keeps the immutable record of every completed session.
//
// A record is written once, when a session finishes or aborts, and is never
// modified afterwards. Stores reject a second write for the same session id.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/flashbots/inbox-arena/protocol"
)

// Record is the full history of one session.
type Record struct {
	SessionID   string                 `json:"session_id"`
	Status      protocol.SessionStatus `json:"status"`
	Outcome     protocol.Reason        `json:"outcome,omitempty"`
	Members     []string               `json:"members"`
	Config      protocol.ArenaConfig   `json:"config"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Rounds      []protocol.RoundRecord `json:"rounds"`
	Messages    []*protocol.Message    `json:"messages"`
	FinalScores map[string]int         `json:"final_scores"`
}

// Summary is the listing view of a record.
type Summary struct {
	SessionID   string                 `json:"session_id"`
	Status      protocol.SessionStatus `json:"status"`
	Members     []string               `json:"members"`
	Rounds      int                    `json:"rounds"`
	CompletedAt time.Time              `json:"completed_at"`
	FinalScores map[string]int         `json:"final_scores"`
}

func (r *Record) Summary() Summary {
	return Summary{
		SessionID:   r.SessionID,
		Status:      r.Status,
		Members:     slices.Clone(r.Members),
		Rounds:      len(r.Rounds),
		CompletedAt: r.CompletedAt,
		FinalScores: maps.Clone(r.FinalScores),
	}
}

func (r *Record) validate() error {
	if r == nil || r.SessionID == "" {
		return protocol.Errorf(protocol.ReasonInvalidRequest, "archive record needs a session id")
	}
	if !r.Status.Terminal() {
		return protocol.Errorf(protocol.ReasonInvalidRequest, "session %s is %s, not terminal", r.SessionID, r.Status)
	}
	return nil
}

// Store persists session records.
type Store interface {
	// Save writes a record. A second save for the same session fails with
	// protocol.ErrConflict.
	Save(ctx context.Context, r *Record) error
	// Get fails with protocol.ErrNotFound for unknown sessions.
	Get(ctx context.Context, sessionID string) (*Record, error)
	// List returns summaries, most recently completed first.
	List(ctx context.Context) ([]Summary, error)
	Close() error
}

// clone deep-copies a record through its JSON form so stored records share
// nothing with the caller.
func clone(r *Record) (*Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &out, nil
}

func sortSummaries(out []Summary) {
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.CompletedAt.Compare(a.CompletedAt); c != 0 {
			return c
		}
		if a.SessionID < b.SessionID {
			return -1
		}
		if a.SessionID > b.SessionID {
			return 1
		}
		return 0
	})
}

const (
	KindMemory   = "memory"
	KindFile     = "file"
	KindPostgres = "postgres"
)

// Open returns the store named by kind: memory, file (target is a directory)
// or postgres (target is a connection string).
func Open(kind, target string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindFile:
		return NewFileStore(target)
	case KindPostgres:
		return NewPostgresStore(target)
	}
	return nil, fmt.Errorf("unknown archive backend %q", kind)
}
