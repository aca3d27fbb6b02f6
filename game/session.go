package game

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/flashbots/inbox-arena/archive"
	"github.com/flashbots/inbox-arena/assignment"
	"github.com/flashbots/inbox-arena/protocol"
)

// Session is one cohort's game. Its goroutine is the only writer of round
// transitions; submissions and views take mu.
type Session struct {
	ID      string
	members []string
	cfg     protocol.ArenaConfig
	log     *slog.Logger
	plan    *assignment.Plan

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu          sync.Mutex
	status      protocol.SessionStatus
	outcome     protocol.Reason
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	rounds      []*round
	scores      map[string]int
}

// View is what one member sees of its session.
type View struct {
	SessionID    string                    `json:"session_id"`
	Status       protocol.SessionStatus    `json:"status"`
	Members      []string                  `json:"members"`
	Round        int                       `json:"round"`
	TotalRounds  int                       `json:"total_rounds"`
	RoundStatus  protocol.RoundStatus      `json:"round_status,omitempty"`
	Deadline     *time.Time                `json:"deadline,omitempty"`
	Instructions string                    `json:"instructions,omitempty"`
	Assignment   *protocol.ParticipantView `json:"assignment,omitempty"`
	Scores       map[string]int            `json:"scores"`
}

// Summary is the public view of a session.
type Summary struct {
	SessionID   string                 `json:"session_id"`
	Status      protocol.SessionStatus `json:"status"`
	Members     []string               `json:"members"`
	Round       int                    `json:"round"`
	TotalRounds int                    `json:"total_rounds"`
	RoundStatus protocol.RoundStatus   `json:"round_status,omitempty"`
	Scores      map[string]int         `json:"scores"`
	CreatedAt   time.Time              `json:"created_at"`
}

// poke wakes the session goroutine to re-check membership and completion.
func (s *Session) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the session goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Members() []string {
	return slices.Clone(s.members)
}

func (s *Session) Status() protocol.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// currentLocked returns the latest round, or nil before the first announcement.
func (s *Session) currentLocked() *round {
	if len(s.rounds) == 0 {
		return nil
	}
	return s.rounds[len(s.rounds)-1]
}

func (s *Session) start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = protocol.SessionActive
	s.startedAt = now
}

func (s *Session) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.startedAt.IsZero()
}

// terminate moves the session to a terminal status once. It reports false if
// the session had already ended.
func (s *Session) terminate(status protocol.SessionStatus, outcome protocol.Reason, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	s.outcome = outcome
	s.completedAt = now
	return true
}

func (s *Session) addRound(rec protocol.RoundRecord) *round {
	r := newRound(rec)
	s.mu.Lock()
	s.rounds = append(s.rounds, r)
	s.mu.Unlock()
	return r
}

func (s *Session) setRoundStatus(r *round, status protocol.RoundStatus, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.rec.Status = status
	if status == protocol.RoundClosed {
		r.rec.ClosedAt = &now
	}
}

func (s *Session) roundComplete(r *round) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.complete()
}

// score seals the round and folds its points into the session totals. It
// returns the round's scores and a copy of the cumulative scores.
func (s *Session) score(r *round, sc *Scorer, now time.Time) (map[string]int, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scores, perf := sc.Tally(&r.rec, s.members)
	r.rec.Scores = scores
	r.rec.Performance = perf
	r.rec.Status = protocol.RoundScored
	r.rec.ScoredAt = &now
	for id, pts := range scores {
		s.scores[id] += pts
	}
	return maps.Clone(scores), maps.Clone(s.scores)
}

// submit checks and records a submission against the collecting round. The
// returned bool reports whether the round now has every request fulfilled.
func (s *Session) submit(now time.Time, sub *protocol.Submission, sc *Scorer) (protocol.SubmissionResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := protocol.SubmissionResult{Session: s.ID}
	r := s.currentLocked()
	if r != nil {
		res.Round = r.rec.Number
	}
	if s.status.Terminal() {
		r = nil
	}

	if err := sc.Verify(r, now, sub); err != nil {
		res.Reason = protocol.ReasonOf(err)
		if r != nil {
			r.rec.Rejections[res.Reason]++
		}
		return res, false, err
	}
	r.accept(sub)
	res.Accepted = true
	return res, r.complete(), nil
}

func (s *Session) view(participant string) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		SessionID:   s.ID,
		Status:      s.status,
		Members:     slices.Clone(s.members),
		TotalRounds: s.cfg.Rounds,
		Scores:      maps.Clone(s.scores),
	}
	if r := s.currentLocked(); r != nil {
		deadline := r.rec.Deadline
		pv := r.rec.Assignment.ViewFor(participant)
		v.Round = r.rec.Number
		v.RoundStatus = r.rec.Status
		v.Deadline = &deadline
		v.Instructions = r.rec.Instructions[participant]
		v.Assignment = &pv
	}
	return v
}

func (s *Session) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		SessionID:   s.ID,
		Status:      s.status,
		Members:     slices.Clone(s.members),
		TotalRounds: s.cfg.Rounds,
		Scores:      maps.Clone(s.scores),
		CreatedAt:   s.createdAt,
	}
	if r := s.currentLocked(); r != nil {
		sum.Round = r.rec.Number
		sum.RoundStatus = r.rec.Status
	}
	return sum
}

// record builds the archive record. The session must be terminal.
func (s *Session) record(messages []*protocol.Message) *archive.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rounds := make([]protocol.RoundRecord, len(s.rounds))
	for i, r := range s.rounds {
		rounds[i] = r.rec
	}
	return &archive.Record{
		SessionID:   s.ID,
		Status:      s.status,
		Outcome:     s.outcome,
		Members:     slices.Clone(s.members),
		Config:      s.cfg,
		CreatedAt:   s.createdAt,
		CompletedAt: s.completedAt,
		Rounds:      rounds,
		Messages:    messages,
		FinalScores: maps.Clone(s.scores),
	}
}
