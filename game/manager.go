package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/flashbots/inbox-arena/archive"
	"github.com/flashbots/inbox-arena/assignment"
	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/metrics"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/google/uuid"
)

// Directory is the registry surface sessions use.
type Directory interface {
	KeyLookup
	CreditScore(id string, points int)
	SetStatus(id string, status protocol.ConnectionStatus)
}

// Mail is the mailbox surface sessions use.
type Mail interface {
	Send(msg *protocol.Message) (*protocol.Receipt, error)
	MarkArtifactVerified(id, signer string, digest crypto.Digest) bool
	Session(sessionID string) []*protocol.Message
}

// Channels is the live channel surface sessions use.
type Channels interface {
	Publish(participantID string, event protocol.Event) bool
	Broadcast(participantIDs []string, event protocol.Event)
	Connected(participantID string) bool
}

// Admission is the queue surface sessions use when they end.
type Admission interface {
	Requeue(participantIDs []string)
	TryFormSession() [][]string
}

// Dependencies are the components a Manager drives.
type Dependencies struct {
	Directory Directory
	Mail      Mail
	Live      Channels
	Queue     Admission
	Archive   archive.Store
	Pool      *assignment.Pool
	// Moderator signs round instructions.
	Moderator crypto.PrivateKey
}

// Manager owns every session.
type Manager struct {
	cfg       protocol.ArenaConfig
	log       *slog.Logger
	now       func() time.Time
	seed      func() uint64
	deps      Dependencies
	generator *assignment.Generator
	scorer    *Scorer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	sessions map[string]*Session
	members  map[string]*Session
}

type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the time source for deadlines and records. Round
// timers still run on wall-clock durations.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSeed fixes the message selection seed of every session.
func WithSeed(seed uint64) Option {
	return func(m *Manager) { m.seed = func() uint64 { return seed } }
}

// New validates the rules and creates a manager. Queue may be nil if
// sessions are started by hand.
func New(cfg protocol.ArenaConfig, deps Dependencies, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Directory == nil || deps.Mail == nil || deps.Live == nil {
		return nil, errors.New("game manager needs a directory, a mailbox and live channels")
	}
	if deps.Archive == nil {
		deps.Archive = archive.NewMemoryStore()
	}
	if deps.Pool == nil {
		deps.Pool = assignment.DefaultPool()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		log:       slog.Default(),
		now:       time.Now,
		seed:      rand.Uint64,
		deps:      deps,
		generator: assignment.NewGenerator(cfg.RequestsPerParticipant, cfg.Fuzziness, deps.Pool),
		scorer:    NewScorer(deps.Directory, cfg),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
		members:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the rules sessions are played under.
func (m *Manager) Config() protocol.ArenaConfig {
	return m.cfg
}

// StartSession creates a session for an admitted cohort. It is the queue's
// cohort handler, so it runs with the queue locked and must not call it.
func (m *Manager) StartSession(cohort []string) error {
	plan, err := m.generator.NewPlan(cohort, m.seed())
	if err != nil {
		return err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		ID:        id,
		members:   slices.Clone(cohort),
		cfg:       m.cfg,
		log:       m.log.With("session", id),
		plan:      plan,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		status:    protocol.SessionForming,
		createdAt: m.now().UTC(),
		scores:    make(map[string]int, len(cohort)),
	}
	for _, p := range cohort {
		s.scores[p] = 0
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return errors.New("arena is shutting down")
	}
	for _, p := range cohort {
		if _, busy := m.members[p]; busy {
			m.mu.Unlock()
			cancel()
			return protocol.Errorf(protocol.ReasonAlreadyInSession, "%s is already in a session", p)
		}
	}
	m.sessions[id] = s
	for _, p := range cohort {
		m.members[p] = s
	}
	m.wg.Add(1)
	m.mu.Unlock()

	for _, p := range cohort {
		m.deps.Directory.SetStatus(p, protocol.InSession)
		m.deps.Live.Publish(p, protocol.NewEvent(protocol.EventSessionFormed, protocol.SessionNotice{
			SessionID: id,
			Members:   s.Members(),
		}))
	}
	s.log.Info("session formed", "members", cohort)

	go m.run(s)
	return nil
}

func (m *Manager) run(s *Session) {
	defer m.wg.Done()
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session failed", "panic", r, "stack", string(debug.Stack()))
			m.abort(s, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if !m.awaitCohort(s) {
		return
	}
	for n := 1; n <= s.cfg.Rounds; n++ {
		if err := m.playRound(s, n); err != nil {
			m.abort(s, err.Error())
			return
		}
	}
	m.finish(s)
}

func (m *Manager) connected(s *Session) []string {
	var ids []string
	for _, id := range s.members {
		if m.deps.Live.Connected(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// awaitCohort waits for every member's live channel. It reports false if the
// session ended instead.
func (m *Manager) awaitCohort(s *Session) bool {
	timer := time.NewTimer(s.cfg.FormationTimeout)
	defer timer.Stop()

	for {
		if len(m.connected(s)) == len(s.members) {
			s.start(m.now().UTC())
			s.log.Info("cohort connected")
			return true
		}
		select {
		case <-s.wake:
		case <-timer.C:
			m.dissolve(s, protocol.ReasonFormationTimeout)
			return false
		case <-s.ctx.Done():
			m.dissolve(s, protocol.ReasonAborted)
			return false
		}
	}
}

// dissolve ends a session that never started. Members still connected go back
// to the head of the queue on a formation timeout.
func (m *Manager) dissolve(s *Session, reason protocol.Reason) {
	if !s.terminate(protocol.SessionAborted, reason, m.now().UTC()) {
		return
	}
	connected := m.connected(s)
	s.log.Warn("session did not form", "reason", reason, "connected", connected, "members", s.members)

	ev := protocol.EventSessionAborted
	if reason == protocol.ReasonFormationTimeout {
		ev = protocol.EventFormationTimeout
		metrics.IncSession("formation_timeout")
	} else {
		metrics.IncSession("aborted")
	}
	for _, id := range s.members {
		m.deps.Live.Publish(id, protocol.NewEvent(ev, protocol.SessionNotice{
			SessionID: s.ID,
			Members:   s.Members(),
			Reason:    reason,
		}))
	}

	m.release(s)
	if reason == protocol.ReasonFormationTimeout && m.deps.Queue != nil && len(connected) > 0 {
		m.deps.Queue.Requeue(connected)
	}
}

func (m *Manager) playRound(s *Session, n int) error {
	a, err := s.plan.Next()
	if err != nil {
		return err
	}

	now := m.now().UTC()
	deadline := now.Add(s.cfg.RoundDuration)
	instructions := make(map[string]string, len(s.members))
	for _, id := range s.members {
		instructions[id] = renderInstructions(n, s.cfg.Rounds, a.ViewFor(id), deadline)
	}
	r := s.addRound(protocol.RoundRecord{
		Number:       n,
		Status:       protocol.RoundAnnounced,
		AnnouncedAt:  now,
		Deadline:     deadline,
		Instructions: instructions,
		Assignment:   a,
	})
	log := s.log.With("round", n)
	log.Info("round announced", "deadline", deadline)

	m.announce(s, r)
	s.setRoundStatus(r, protocol.RoundCollecting, now)

	timer := time.NewTimer(s.cfg.RoundDuration)
	defer timer.Stop()
collect:
	for {
		if len(m.connected(s)) == 0 {
			return protocol.Errorf(protocol.ReasonAborted, "every member disconnected in round %d", n)
		}
		select {
		case <-timer.C:
			break collect
		case <-s.wake:
			if s.cfg.CloseWhenComplete && s.roundComplete(r) {
				log.Info("every request fulfilled, closing early")
				break collect
			}
		case <-s.ctx.Done():
			return protocol.Errorf(protocol.ReasonAborted, "session cancelled")
		}
	}

	s.setRoundStatus(r, protocol.RoundClosed, m.now().UTC())
	m.broadcast(s, protocol.EventRoundClosed, protocol.RoundNotice{
		SessionID:   s.ID,
		Round:       n,
		TotalRounds: s.cfg.Rounds,
		Deadline:    deadline,
	})

	roundScores, total := s.score(r, m.scorer, m.now().UTC())
	for id, pts := range roundScores {
		if pts > 0 {
			m.deps.Directory.CreditScore(id, pts)
		}
	}
	metrics.IncRounds()
	log.Info("round scored", "scores", roundScores)

	m.broadcast(s, protocol.EventRoundScored, protocol.RoundNotice{
		SessionID:   s.ID,
		Round:       n,
		TotalRounds: s.cfg.Rounds,
		Deadline:    deadline,
		RoundScores: roundScores,
		Scores:      total,
	})
	return nil
}

// announce mails each member its moderator-signed instructions and pushes the
// assignment over the live channel.
func (m *Manager) announce(s *Session, r *round) {
	n := r.rec.Number
	for _, id := range s.members {
		body := r.rec.Instructions[id]
		msg := &protocol.Message{
			ID:        fmt.Sprintf("%s-r%d-%s", s.ID, n, id),
			SessionID: s.ID,
			From:      protocol.ModeratorID,
			To:        id,
			Subject:   fmt.Sprintf("Round %d of %d", n, s.cfg.Rounds),
			Body:      body,
		}
		artifact, err := m.moderatorArtifact(body)
		if err != nil {
			s.log.Error("signing instructions", "err", err)
		}
		msg.Artifact = artifact
		if _, err := m.deps.Mail.Send(msg); err != nil {
			s.log.Warn("mailing instructions", "to", id, "err", err)
		} else if artifact != nil {
			m.deps.Mail.MarkArtifactVerified(msg.ID, protocol.ModeratorID, artifact.Digest)
		}

		view := r.rec.Assignment.ViewFor(id)
		m.deps.Live.Publish(id, protocol.NewEvent(protocol.EventRoundAnnounced, protocol.RoundNotice{
			SessionID:    s.ID,
			Round:        n,
			TotalRounds:  s.cfg.Rounds,
			Deadline:     r.rec.Deadline,
			Instructions: body,
			Assignment:   &view,
		}))
	}
}

func (m *Manager) moderatorArtifact(body string) (*protocol.Artifact, error) {
	if m.deps.Moderator == nil {
		return nil, nil
	}
	digest := crypto.DigestMessage(body)
	sig, err := crypto.SignDigest(m.deps.Moderator, digest)
	if err != nil {
		return nil, err
	}
	return &protocol.Artifact{Signer: protocol.ModeratorID, Digest: digest, Signature: sig}, nil
}

func (m *Manager) broadcast(s *Session, t protocol.EventType, data any) {
	m.deps.Live.Broadcast(s.members, protocol.NewEvent(t, data))
}

func (m *Manager) finish(s *Session) {
	if !s.terminate(protocol.SessionFinished, "", m.now().UTC()) {
		return
	}
	sum := s.summary()
	s.log.Info("session finished", "scores", sum.Scores)
	m.broadcast(s, protocol.EventSessionFinished, protocol.SessionNotice{
		SessionID: s.ID,
		Members:   sum.Members,
		Scores:    sum.Scores,
	})
	metrics.IncSession("finished")
	m.archiveSession(s)
	m.release(s)
	m.admitNext()
}

// abort ends a started session. Points already credited stay credited.
func (m *Manager) abort(s *Session, cause string) {
	if !s.started() {
		m.dissolve(s, protocol.ReasonAborted)
		return
	}
	if !s.terminate(protocol.SessionAborted, protocol.ReasonAborted, m.now().UTC()) {
		return
	}
	sum := s.summary()
	s.log.Warn("session aborted", "cause", cause)
	m.broadcast(s, protocol.EventSessionAborted, protocol.SessionNotice{
		SessionID: s.ID,
		Members:   sum.Members,
		Reason:    protocol.ReasonAborted,
		Scores:    sum.Scores,
	})
	metrics.IncSession("aborted")
	m.archiveSession(s)
	m.release(s)
	m.admitNext()
}

func (m *Manager) archiveSession(s *Session) {
	rec := s.record(m.deps.Mail.Session(s.ID))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.deps.Archive.Save(ctx, rec); err != nil {
		s.log.Error("archiving session", "err", err)
		return
	}
	s.log.Info("session archived", "status", rec.Status, "rounds", len(rec.Rounds), "messages", len(rec.Messages))
}

// release frees the members for the queue and drops the session.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	for _, id := range s.members {
		if m.members[id] == s {
			delete(m.members, id)
		}
	}
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	for _, id := range s.members {
		status := protocol.Disconnected
		if m.deps.Live.Connected(id) {
			status = protocol.Connected
		}
		m.deps.Directory.SetStatus(id, status)
	}
	s.cancel()
}

func (m *Manager) admitNext() {
	if m.deps.Queue == nil {
		return
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if !closed {
		m.deps.Queue.TryFormSession()
	}
}

func (m *Manager) sessionOf(participantID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[participantID]
}

// InSession reports whether the participant belongs to a running session.
func (m *Manager) InSession(participantID string) bool {
	return m.sessionOf(participantID) != nil
}

// SessionOf returns the id of the participant's session, or "".
func (m *Manager) SessionOf(participantID string) string {
	if s := m.sessionOf(participantID); s != nil {
		return s.ID
	}
	return ""
}

// NotifyConnected records a participant's live channel opening.
func (m *Manager) NotifyConnected(participantID string) {
	s := m.sessionOf(participantID)
	status := protocol.Connected
	if s != nil {
		status = protocol.InSession
	}
	m.deps.Directory.SetStatus(participantID, status)
	if s != nil {
		s.poke()
	}
}

// NotifyDisconnected records a participant's live channel closing. Sessions
// keep running until every member is gone.
func (m *Manager) NotifyDisconnected(participantID string) {
	m.deps.Directory.SetStatus(participantID, protocol.Disconnected)
	if s := m.sessionOf(participantID); s != nil {
		s.poke()
	}
}

// Submit scores a signature presented by sub.Requester.
func (m *Manager) Submit(sub protocol.Submission) (protocol.SubmissionResult, error) {
	s := m.sessionOf(sub.Requester)
	if s == nil {
		metrics.IncSubmission(string(protocol.ReasonNotInSession))
		return protocol.SubmissionResult{Reason: protocol.ReasonNotInSession},
			protocol.Errorf(protocol.ReasonNotInSession, "%s is not in a session", sub.Requester)
	}

	now := m.now().UTC()
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = now
	}
	res, complete, err := s.submit(now, &sub, m.scorer)
	if err != nil {
		metrics.IncSubmission(string(res.Reason))
		s.log.Debug("submission rejected", "requester", sub.Requester, "signer", sub.Signer, "reason", res.Reason)
		return res, err
	}

	metrics.IncSubmission("accepted")
	s.log.Info("submission accepted", "round", res.Round, "requester", sub.Requester, "signer", sub.Signer)
	if sub.MessageID != "" {
		m.deps.Mail.MarkArtifactVerified(sub.MessageID, sub.Signer, sub.Digest)
	}
	if complete && s.cfg.CloseWhenComplete {
		s.poke()
	}
	return res, nil
}

// CurrentView returns the caller's view of its session.
func (m *Manager) CurrentView(participantID string) (View, error) {
	s := m.sessionOf(participantID)
	if s == nil {
		return View{}, protocol.Errorf(protocol.ReasonNotInSession, "%s is not in a session", participantID)
	}
	return s.view(participantID), nil
}

// Summary returns the public view of a running session.
func (m *Manager) Summary(sessionID string) (Summary, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return Summary{}, protocol.Errorf(protocol.ReasonNotFound, "session %s is not running", sessionID)
	}
	return s.summary(), nil
}

// List returns every running session, oldest first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.summary())
	}
	slices.SortFunc(out, func(a, b Summary) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// ActiveCount is the number of running sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Archive returns the store finished sessions are written to.
func (m *Manager) Archive() archive.Store {
	return m.deps.Archive
}

// Reset aborts every running session and waits for them to end.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.cancel()
	}
	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting cohorts, aborts running sessions and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}
