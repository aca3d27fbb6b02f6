// Package matchmaking holds participants waiting to play and admits them in
// fixed-size cohorts, oldest first.
package matchmaking

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/flashbots/inbox-arena/protocol"
)

// DefaultCohortSize is the number of participants admitted per session.
const DefaultCohortSize = 4

// Entry is one waiting participant.
type Entry struct {
	ParticipantID string    `json:"participant_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Status is a snapshot of the queue for observability.
type Status struct {
	Length     int      `json:"queue_length"`
	Waiting    []string `json:"agents_waiting"`
	CohortSize int      `json:"cohort_size"`
}

// SessionChecker reports whether a participant is currently in a session.
type SessionChecker interface {
	InSession(participantID string) bool
}

// CohortHandler receives each admitted cohort. It is called with the queue
// locked, so it must not call back into the queue. If it fails the cohort is
// put back at the head of the queue.
type CohortHandler func(cohort []string) error

// Queue is the single owner of queue entries.
type Queue struct {
	log        *slog.Logger
	now        func() time.Time
	cohortSize int

	mu       sync.Mutex
	entries  []Entry
	sessions SessionChecker
	handler  CohortHandler
}

type Option func(*Queue)

func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue that admits cohorts of cohortSize.
func New(cohortSize int, opts ...Option) *Queue {
	if cohortSize <= 0 {
		cohortSize = DefaultCohortSize
	}
	q := &Queue{
		log:        slog.Default(),
		now:        time.Now,
		cohortSize: cohortSize,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetSessionChecker installs the lookup used to reject participants mid-game.
func (q *Queue) SetSessionChecker(c SessionChecker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sessions = c
}

// SetCohortHandler installs the receiver of admitted cohorts.
func (q *Queue) SetCohortHandler(h CohortHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.entries, func(e Entry) bool { return e.ParticipantID == id })
}

// Enqueue adds a participant and admits a cohort if enough are waiting.
func (q *Queue) Enqueue(participantID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(participantID) >= 0 {
		return protocol.Errorf(protocol.ReasonAlreadyQueued, "%s is already queued", participantID)
	}
	if q.sessions != nil && q.sessions.InSession(participantID) {
		return protocol.Errorf(protocol.ReasonAlreadyInSession, "%s is in a session", participantID)
	}

	q.entries = append(q.entries, Entry{ParticipantID: participantID, EnqueuedAt: q.now().UTC()})
	q.log.Info("participant queued", "participant", participantID, "queue_length", len(q.entries))

	q.tryFormLocked()
	return nil
}

// Dequeue withdraws a waiting participant.
func (q *Queue) Dequeue(participantID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(participantID)
	if i < 0 {
		return protocol.Errorf(protocol.ReasonNotQueued, "%s is not queued", participantID)
	}
	q.entries = slices.Delete(q.entries, i, i+1)
	q.log.Info("participant left queue", "participant", participantID, "queue_length", len(q.entries))
	return nil
}

// Requeue puts participants back at the head of the queue in the given order,
// ahead of everyone who joined later. Participants already queued or in a
// session are skipped.
func (q *Queue) Requeue(participantIDs []string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	head := make([]Entry, 0, len(participantIDs))
	for _, id := range participantIDs {
		if q.indexLocked(id) >= 0 || (q.sessions != nil && q.sessions.InSession(id)) {
			continue
		}
		head = append(head, Entry{ParticipantID: id, EnqueuedAt: now})
	}
	q.entries = append(head, q.entries...)
	if len(head) > 0 {
		q.log.Info("participants returned to queue", "count", len(head), "queue_length", len(q.entries))
	}

	q.tryFormLocked()
}

// TryFormSession admits as many cohorts as the queue can fill and returns them.
func (q *Queue) TryFormSession() [][]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tryFormLocked()
}

func (q *Queue) tryFormLocked() [][]string {
	var formed [][]string
	for len(q.entries) >= q.cohortSize {
		batch := q.entries[:q.cohortSize]
		cohort := make([]string, len(batch))
		for i, e := range batch {
			cohort[i] = e.ParticipantID
		}

		if q.handler != nil {
			if err := q.handler(cohort); err != nil {
				q.log.Error("cohort hand-off failed", "err", err)
				break
			}
		}

		q.entries = slices.Clone(q.entries[q.cohortSize:])
		formed = append(formed, cohort)
		q.log.Info("cohort admitted", "cohort", cohort, "queue_length", len(q.entries))
	}
	return formed
}

// Contains reports whether a participant is waiting.
func (q *Queue) Contains(participantID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(participantID) >= 0
}

// Status returns the current length and waiting ids in join order.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	waiting := make([]string, len(q.entries))
	for i, e := range q.entries {
		waiting[i] = e.ParticipantID
	}
	return Status{Length: len(q.entries), Waiting: waiting, CohortSize: q.cohortSize}
}

// Reset empties the queue.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
