package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flashbots/inbox-arena/archive"
	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/livechannel"
	"github.com/flashbots/inbox-arena/mailbox"
	"github.com/flashbots/inbox-arena/matchmaking"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/flashbots/inbox-arena/registry"
	"github.com/flashbots/inbox-arena/testutil"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type skewClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *skewClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *skewClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type harness struct {
	t       *testing.T
	reg     *registry.Registry
	mail    *mailbox.Mailbox
	hub     *livechannel.Hub
	queue   *matchmaking.Queue
	store   *archive.MemoryStore
	mgr     *Manager
	clock   *skewClock
	players map[string]*testutil.Participant
	subs    map[string]*livechannel.Subscription
}

func newHarness(t *testing.T, cfg protocol.ArenaConfig, ids ...string) *harness {
	t.Helper()
	reg, err := registry.New(registry.Config{TokenTTL: time.Hour, Secret: testutil.TokenSecret})
	require.NoError(t, err)
	hub := livechannel.NewHub(256, nil)
	mail := mailbox.New(reg, hub)
	queue := matchmaking.New(cfg.CohortSize)
	store := archive.NewMemoryStore()
	clock := &skewClock{}
	_, moderator, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mgr, err := New(cfg, Dependencies{
		Directory: reg,
		Mail:      mail,
		Live:      hub,
		Queue:     queue,
		Archive:   store,
		Moderator: moderator,
	}, WithClock(clock.Now), WithSeed(7))
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	queue.SetSessionChecker(mgr)
	queue.SetCohortHandler(mgr.StartSession)
	hub.SetHooks(livechannel.Hooks{OnConnect: mgr.NotifyConnected, OnDisconnect: mgr.NotifyDisconnected})

	h := &harness{
		t: t, reg: reg, mail: mail, hub: hub, queue: queue, store: store, mgr: mgr, clock: clock,
		players: map[string]*testutil.Participant{},
		subs:    map[string]*livechannel.Subscription{},
	}
	for _, id := range ids {
		p := testutil.NewParticipant(t, id)
		_, err := reg.Register(p.Registration(t, id))
		require.NoError(t, err)
		h.players[id] = p
	}
	return h
}

func (h *harness) connect(ids ...string) {
	for _, id := range ids {
		h.subs[id] = h.hub.Subscribe(id)
	}
}

func (h *harness) disconnect(id string) {
	h.hub.Unsubscribe(h.subs[id])
}

func (h *harness) join(ids ...string) {
	for _, id := range ids {
		require.NoError(h.t, h.queue.Enqueue(id))
	}
}

// awaitRound waits until the participant's session reports round n in status.
func (h *harness) awaitRound(id string, n int, status protocol.RoundStatus) View {
	var view View
	require.Eventually(h.t, func() bool {
		v, err := h.mgr.CurrentView(id)
		if err != nil {
			return false
		}
		view = v
		return v.Round == n && v.RoundStatus == status
	}, waitFor, 5*time.Millisecond)
	return view
}

// submitAssigned has signer sign requester's assigned message and submits it.
func (h *harness) submitAssigned(requester, signer string) (protocol.SubmissionResult, error) {
	view, err := h.mgr.CurrentView(requester)
	require.NoError(h.t, err)
	digest, sig := h.players[signer].Sign(h.t, view.Assignment.AssignedMessage)
	return h.mgr.Submit(protocol.Submission{
		Requester: requester,
		Signer:    signer,
		Digest:    digest,
		Signature: sig,
	})
}

func (h *harness) submitAll(ids ...string) {
	for _, requester := range ids {
		view, err := h.mgr.CurrentView(requester)
		require.NoError(h.t, err)
		for _, signer := range view.Assignment.RequestFrom {
			res, err := h.submitAssigned(requester, signer)
			require.NoError(h.t, err)
			require.True(h.t, res.Accepted)
		}
	}
}

func (h *harness) awaitArchive(sessionID string) *archive.Record {
	var rec *archive.Record
	require.Eventually(h.t, func() bool {
		r, err := h.store.Get(context.Background(), sessionID)
		rec = r
		return err == nil
	}, waitFor, 10*time.Millisecond)
	return rec
}

// nextEvent reads the participant's stream until an event of type t arrives.
func (h *harness) nextEvent(id string, t protocol.EventType) protocol.Event {
	h.t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-h.subs[id].Events():
			require.True(h.t, ok, "stream closed while waiting for %s", t)
			if ev.Type == t {
				return ev
			}
		case <-timeout:
			h.t.Fatalf("no %s event for %s", t, id)
		}
	}
}

func TestManager_SessionPlaysToCompletion(t *testing.T) {
	cfg := testutil.NewArenaConfig(testutil.WithRequestsPerParticipant(1), testutil.WithRoundDuration(time.Second))
	h := newHarness(t, cfg, "A", "B", "C", "D")
	h.connect("A", "B", "C", "D")
	h.join("A", "B", "C", "D")

	require.True(t, h.mgr.InSession("A"))
	sessionID := h.mgr.SessionOf("A")
	require.Equal(t, 0, h.queue.Status().Length)
	require.ErrorIs(t, h.queue.Enqueue("A"), protocol.ErrAlreadyInSession)

	view := h.awaitRound("A", 1, protocol.RoundCollecting)
	require.Equal(t, []string{"A", "B", "C", "D"}, view.Members)
	require.Equal(t, []string{"B"}, view.Assignment.RequestFrom)

	res, err := h.submitAssigned("A", "B")
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, sessionID, res.Session)
	require.Equal(t, 1, res.Round)

	_, err = h.submitAssigned("A", "B")
	require.ErrorIs(t, err, protocol.ErrDuplicate)

	// C was assigned D, not A.
	res, err = h.submitAssigned("C", "A")
	require.ErrorIs(t, err, protocol.ErrUnauthorizedSubmission)
	require.Equal(t, protocol.ReasonUnauthorizedSubmission, res.Reason)

	rec := h.awaitArchive(sessionID)
	require.Equal(t, protocol.SessionFinished, rec.Status)
	require.Equal(t, map[string]int{"A": 1, "B": 0, "C": 0, "D": 0}, rec.FinalScores)
	require.Len(t, rec.Rounds, 1)
	round := rec.Rounds[0]
	require.Equal(t, protocol.RoundScored, round.Status)
	require.Len(t, round.Submissions, 1)
	require.Equal(t, 1, round.Rejections[protocol.ReasonDuplicate])
	require.Equal(t, 1, round.Rejections[protocol.ReasonUnauthorizedSubmission])
	require.Equal(t, []string{"C"}, round.Performance["B"].Missed, "B never obtained C's signature")
	require.Len(t, rec.Messages, 4, "one instruction mail per member")

	p, ok := h.reg.Get("A")
	require.True(t, ok)
	require.Equal(t, 1, p.Score)

	require.Eventually(t, func() bool {
		p, _ := h.reg.Get("A")
		return !h.mgr.InSession("A") && p.Status == protocol.Connected
	}, waitFor, 5*time.Millisecond)

	for _, ev := range []protocol.EventType{
		protocol.EventSessionFormed, protocol.EventRoundAnnounced, protocol.EventRoundClosed,
		protocol.EventRoundScored, protocol.EventSessionFinished,
	} {
		h.nextEvent("A", ev)
	}
}

func TestManager_InstructionsAreSignedByModerator(t *testing.T) {
	cfg := testutil.NewArenaConfig(testutil.WithCohortSize(2), testutil.WithRequestsPerParticipant(1),
		testutil.WithRoundDuration(5*time.Second))
	h := newHarness(t, cfg, "A", "B")
	h.connect("A", "B")
	h.join("A", "B")

	view := h.awaitRound("A", 1, protocol.RoundCollecting)

	msgs := h.mail.List("A", mailbox.Filter{Correspondent: protocol.ModeratorID})
	require.Len(t, msgs, 1)
	msg := msgs[0]
	require.Equal(t, view.Instructions, msg.Body)
	require.Equal(t, protocol.ArtifactVerified, msg.ArtifactState())
	require.Equal(t, crypto.DigestMessage(msg.Body), msg.Artifact.Digest)
	require.Contains(t, msg.Body, view.Assignment.AssignedMessage)
	require.Equal(t, h.mgr.SessionOf("A"), msg.SessionID)

	ev := h.nextEvent("A", protocol.EventRoundAnnounced)
	notice, ok := ev.Data.(protocol.RoundNotice)
	require.True(t, ok)
	require.Equal(t, []string{"B"}, notice.Assignment.RequestFrom)
}

func TestManager_LateSubmissionIsRoundClosed(t *testing.T) {
	cfg := testutil.NewArenaConfig(testutil.WithCohortSize(2), testutil.WithRequestsPerParticipant(1),
		testutil.WithRoundDuration(10*time.Second))
	h := newHarness(t, cfg, "A", "B")
	h.connect("A", "B")
	h.join("A", "B")
	h.awaitRound("A", 1, protocol.RoundCollecting)

	h.clock.Advance(11 * time.Second)
	res, err := h.submitAssigned("A", "B")
	require.ErrorIs(t, err, protocol.ErrRoundClosed)
	require.False(t, res.Accepted)
}

func TestManager_FormationTimeoutRequeuesConnectedMembers(t *testing.T) {
	cfg := testutil.NewArenaConfig(testutil.WithCohortSize(2), testutil.WithRequestsPerParticipant(1),
		testutil.WithFormationTimeout(200*time.Millisecond))
	h := newHarness(t, cfg, "A", "B")
	h.connect("A")
	h.join("A", "B")

	require.True(t, h.mgr.InSession("B"))
	ev := h.nextEvent("A", protocol.EventSessionFormed)
	sessionID := ev.Data.(protocol.SessionNotice).SessionID

	ev = h.nextEvent("A", protocol.EventFormationTimeout)
	require.Equal(t, protocol.ReasonFormationTimeout, ev.Data.(protocol.SessionNotice).Reason)

	require.Eventually(t, func() bool { return h.queue.Contains("A") }, waitFor, 5*time.Millisecond)
	require.False(t, h.queue.Contains("B"))
	require.False(t, h.mgr.InSession("B"))

	p, _ := h.reg.Get("B")
	require.Equal(t, protocol.Disconnected, p.Status)

	_, err := h.store.Get(context.Background(), sessionID)
	require.ErrorIs(t, err, protocol.ErrNotFound, "sessions that never formed are not archived")
}

func TestManager_FormationCompletesWhenLateMemberConnects(t *testing.T) {
	cfg := testutil.NewArenaConfig(testutil.WithCohortSize(2), testutil.WithRequestsPerParticipant(1),
		testutil.WithRoundDuration(5*time.Second))
	h := newHarness(t, cfg, "A", "B")
	h.connect("A")
	h.join("A", "B")

	time.Sleep(50 * time.Millisecond)
	view, err := h.mgr.CurrentView("A")
	require.NoError(t, err)
	require.Equal(t, protocol.SessionForming, view.Status)

	h.connect("B")
	h.awaitRound("B", 1, protocol.RoundCollecting)
	p, _ := h.reg.Get("B")
	require.Equal(t, protocol.InSession, p.Status)
}

func TestManager_AbortsOnlyWhenEveryMemberDisconnects(t *testing.T) {
	cfg := testutil.NewArenaConfig(testutil.WithCohortSize(2), testutil.WithRequestsPerParticipant(1),
		testutil.WithRoundDuration(10*time.Second))
	h := newHarness(t, cfg, "A", "B")
	h.connect("A", "B")
	h.join("A", "B")
	h.awaitRound("A", 1, protocol.RoundCollecting)
	sessionID := h.mgr.SessionOf("A")

	h.disconnect("A")
	time.Sleep(50 * time.Millisecond)
	sum, err := h.mgr.Summary(sessionID)
	require.NoError(t, err)
	require.Equal(t, protocol.SessionActive, sum.Status)

	h.disconnect("B")
	rec := h.awaitArchive(sessionID)
	require.Equal(t, protocol.SessionAborted, rec.Status)
	require.Equal(t, protocol.ReasonAborted, rec.Outcome)
	require.False(t, h.mgr.InSession("A"))
}

func TestManager_MultipleRoundsAccumulate(t *testing.T) {
	cfg := testutil.NewArenaConfig(testutil.WithCohortSize(3), testutil.WithRequestsPerParticipant(1),
		testutil.WithRounds(2), testutil.WithRoundDuration(10*time.Second), testutil.WithCloseWhenComplete())
	h := newHarness(t, cfg, "A", "B", "C")
	h.connect("A", "B", "C")
	h.join("A", "B", "C")
	sessionID := h.mgr.SessionOf("A")

	first := h.awaitRound("A", 1, protocol.RoundCollecting)
	h.submitAll("A", "B", "C")

	second := h.awaitRound("A", 2, protocol.RoundCollecting)
	require.NotEqual(t, first.Assignment.RequestFrom, second.Assignment.RequestFrom)
	require.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, second.Scores)
	h.submitAll("A", "B", "C")

	rec := h.awaitArchive(sessionID)
	require.Equal(t, protocol.SessionFinished, rec.Status)
	require.Equal(t, map[string]int{"A": 2, "B": 2, "C": 2}, rec.FinalScores)
	for _, id := range []string{"A", "B", "C"} {
		p, _ := h.reg.Get(id)
		require.Equal(t, 2, p.Score)
	}
}

func TestManager_SubmitOutsideSession(t *testing.T) {
	h := newHarness(t, testutil.NewArenaConfig(), "A")
	res, err := h.mgr.Submit(protocol.Submission{Requester: "A", Signer: "B"})
	require.ErrorIs(t, err, protocol.ErrNotInSession)
	require.Equal(t, protocol.ReasonNotInSession, res.Reason)

	_, err = h.mgr.CurrentView("A")
	require.ErrorIs(t, err, protocol.ErrNotInSession)
}

func TestManager_ResetAbortsRunningSessions(t *testing.T) {
	cfg := testutil.NewArenaConfig(testutil.WithCohortSize(2), testutil.WithRequestsPerParticipant(1),
		testutil.WithRoundDuration(10*time.Second))
	h := newHarness(t, cfg, "A", "B", "C", "D")
	h.connect("A", "B", "C", "D")
	h.join("A", "B", "C", "D")
	require.Equal(t, 2, h.mgr.ActiveCount())
	require.Len(t, h.mgr.List(), 2)

	h.awaitRound("A", 1, protocol.RoundCollecting)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.mgr.Reset(ctx))
	require.Equal(t, 0, h.mgr.ActiveCount())
	require.False(t, h.mgr.InSession("A"))
}
