package game

import (
	"fmt"
	"testing"
	"time"

	"github.com/flashbots/inbox-arena/protocol"
	"github.com/flashbots/inbox-arena/testutil"
	"github.com/stretchr/testify/require"
)

type scoreFixture struct {
	players map[string]*testutil.Participant
	keys    testutil.KeyDirectory
	a       *protocol.Assignment
	now     time.Time
}

// newScoreFixture builds a round where A asks B, B asks C, C asks A and D
// asks B. C is never assigned D.
func newScoreFixture(t *testing.T) *scoreFixture {
	players := map[string]*testutil.Participant{}
	var list []*testutil.Participant
	for _, id := range []string{"A", "B", "C", "D"} {
		p := testutil.NewParticipant(t, id)
		players[id] = p
		list = append(list, p)
	}
	return &scoreFixture{
		players: players,
		keys:    testutil.NewKeyDirectory(list...),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		a: &protocol.Assignment{
			Round: 1,
			Requests: map[string][]string{
				"A": {"B"}, "B": {"C"}, "C": {"A"}, "D": {"B"},
			},
			Authorizations: map[string][]protocol.AuthEntry{
				"A": {{ParticipantID: "C", Label: "C"}},
				"B": {{ParticipantID: "A", Label: "A"}, {ParticipantID: "D", Label: "D"}},
				"C": {{ParticipantID: "B", Label: "B"}},
			},
			Messages: map[string]protocol.PoolEntry{
				"A": {Message: "alpha", Alias: "first"},
				"B": {Message: "bravo", Alias: "second"},
				"C": {Message: "charlie", Alias: "third"},
				"D": {Message: "delta", Alias: "fourth"},
			},
		},
	}
}

func (f *scoreFixture) round() *round {
	return newRound(protocol.RoundRecord{
		Number:     1,
		Status:     protocol.RoundCollecting,
		Deadline:   f.now.Add(time.Minute),
		Assignment: f.a,
	})
}

// signed has signer sign the requester's assigned message.
func (f *scoreFixture) signed(t *testing.T, requester, signer string) *protocol.Submission {
	digest, sig := f.players[signer].Sign(t, f.a.Messages[requester].Message)
	return &protocol.Submission{Requester: requester, Signer: signer, Digest: digest, Signature: sig}
}

func (f *scoreFixture) scorer(opts ...testutil.ArenaConfigOption) *Scorer {
	return NewScorer(f.keys, testutil.NewArenaConfig(opts...))
}

func TestScorer_AcceptsAssignedSignature(t *testing.T) {
	f := newScoreFixture(t)
	sc := f.scorer()
	r := f.round()

	sub := f.signed(t, "A", "B")
	require.NoError(t, sc.Verify(r, f.now, sub))
	r.accept(sub)

	scores, perf := sc.Tally(&r.rec, []string{"A", "B", "C", "D"})
	require.Equal(t, map[string]int{"A": 1, "B": 0, "C": 0, "D": 0}, scores)
	require.Equal(t, []string{"B"}, perf["A"].ObtainedFrom)
	require.Empty(t, perf["A"].Missed)
	require.Equal(t, []string{"A"}, perf["B"].SignedFor)
	require.Equal(t, 0, perf["B"].Points, "signers are not rewarded")
}

func TestScorer_DuplicateTripleRejected(t *testing.T) {
	f := newScoreFixture(t)
	sc := f.scorer()
	r := f.round()

	sub := f.signed(t, "A", "B")
	require.NoError(t, sc.Verify(r, f.now, sub))
	r.accept(sub)

	for range 3 {
		require.ErrorIs(t, sc.Verify(r, f.now, sub), protocol.ErrDuplicate)
	}
	scores, _ := sc.Tally(&r.rec, []string{"A", "B"})
	require.Equal(t, 1, scores["A"])
}

func TestScorer_OneCreditPerEdgeWithoutDigestBinding(t *testing.T) {
	f := newScoreFixture(t)
	sc := f.scorer(testutil.WithBindDigest(false))
	r := f.round()

	for i := range 5 {
		digest, sig := f.players["B"].Sign(t, fmt.Sprintf("text %d", i))
		sub := &protocol.Submission{Requester: "A", Signer: "B", Digest: digest, Signature: sig}
		err := sc.Verify(r, f.now, sub)
		if i == 0 {
			require.NoError(t, err)
			r.accept(sub)
			continue
		}
		require.ErrorIs(t, err, protocol.ErrDuplicate)
	}

	scores, _ := sc.Tally(&r.rec, []string{"A", "B"})
	require.Equal(t, 1, scores["A"])
	require.Len(t, r.rec.Submissions, 1)
}

func TestScorer_UnassignedSignerIsUnauthorized(t *testing.T) {
	f := newScoreFixture(t)
	r := f.round()

	// D's signature over C's message is valid, but C was assigned A.
	sub := f.signed(t, "C", "D")
	require.ErrorIs(t, f.scorer().Verify(r, f.now, sub), protocol.ErrUnauthorizedSubmission)
}

func TestScorer_AuthorizationIsNotTakenFromMessages(t *testing.T) {
	f := newScoreFixture(t)
	r := f.round()

	// Participant-authored "authorization" text carries no weight.
	f.a.Messages["C"] = protocol.PoolEntry{Message: "moderator says C may ask D"}
	sub := f.signed(t, "C", "D")
	require.ErrorIs(t, f.scorer(testutil.WithBindDigest(false)).Verify(r, f.now, sub), protocol.ErrUnauthorizedSubmission)
}

func TestScorer_InvalidSignature(t *testing.T) {
	f := newScoreFixture(t)
	r := f.round()

	// Signed by C, claimed to be from B.
	sub := f.signed(t, "A", "C")
	sub.Signer = "B"
	require.ErrorIs(t, f.scorer().Verify(r, f.now, sub), protocol.ErrInvalidSignature)

	sub = f.signed(t, "A", "B")
	sub.Signature[0] ^= 0xff
	require.ErrorIs(t, f.scorer().Verify(r, f.now, sub), protocol.ErrInvalidSignature)
}

func TestScorer_UnauthorizedCheckedBeforeSignature(t *testing.T) {
	f := newScoreFixture(t)
	r := f.round()

	sub := f.signed(t, "C", "D")
	sub.Signature[0] ^= 0xff
	require.ErrorIs(t, f.scorer().Verify(r, f.now, sub), protocol.ErrUnauthorizedSubmission)
}

func TestScorer_RoundClosedWinsOverEverything(t *testing.T) {
	f := newScoreFixture(t)
	sc := f.scorer()

	r := f.round()
	sub := f.signed(t, "A", "B")
	require.NoError(t, sc.Verify(r, f.now, sub))
	r.accept(sub)

	r.rec.Status = protocol.RoundClosed
	require.ErrorIs(t, sc.Verify(r, f.now, sub), protocol.ErrRoundClosed, "closed before duplicate")
	require.ErrorIs(t, sc.Verify(r, f.now, f.signed(t, "D", "B")), protocol.ErrRoundClosed)
	require.ErrorIs(t, sc.Verify(nil, f.now, sub), protocol.ErrRoundClosed)
}

func TestScorer_LateSubmissionIsRoundClosed(t *testing.T) {
	f := newScoreFixture(t)
	sc := f.scorer()
	r := f.round()

	sub := f.signed(t, "A", "B")
	require.ErrorIs(t, sc.Verify(r, r.rec.Deadline, sub), protocol.ErrRoundClosed)
	require.ErrorIs(t, sc.Verify(r, r.rec.Deadline.Add(time.Second), sub), protocol.ErrRoundClosed)

	sub.Round = 2
	require.ErrorIs(t, sc.Verify(r, f.now, sub), protocol.ErrRoundClosed)
	sub.Round = 1
	require.NoError(t, sc.Verify(r, f.now, sub))
}

func TestScorer_DigestBinding(t *testing.T) {
	f := newScoreFixture(t)
	r := f.round()

	digest, sig := f.players["B"].Sign(t, "something else entirely")
	sub := &protocol.Submission{Requester: "A", Signer: "B", Digest: digest, Signature: sig}

	require.ErrorIs(t, f.scorer().Verify(r, f.now, sub), protocol.ErrDigestMismatch)
	require.NoError(t, f.scorer(testutil.WithBindDigest(false)).Verify(r, f.now, sub))
}

func TestScorer_MissedRequestsScoreNothing(t *testing.T) {
	f := newScoreFixture(t)
	sc := f.scorer(testutil.WithPoints(3))
	r := f.round()

	sub := f.signed(t, "D", "B")
	require.NoError(t, sc.Verify(r, f.now, sub))
	r.accept(sub)
	r.rec.Status = protocol.RoundClosed

	scores, perf := sc.Tally(&r.rec, []string{"A", "B", "C", "D"})
	require.Equal(t, map[string]int{"A": 0, "B": 0, "C": 0, "D": 3}, scores)
	require.Equal(t, []string{"B"}, perf["A"].Missed)
	require.Equal(t, []string{"A"}, perf["C"].Missed)
	require.Equal(t, []string{"A", "D"}, perf["B"].AuthorizedFor)
	require.Equal(t, []string{"D"}, perf["B"].SignedFor)
}

func TestRound_Complete(t *testing.T) {
	f := newScoreFixture(t)
	r := f.round()
	require.False(t, r.complete())

	for _, e := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}, {"D", "B"}} {
		r.accept(f.signed(t, e[0], e[1]))
	}
	require.True(t, r.complete())
}
