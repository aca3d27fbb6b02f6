package protocol

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/flashbots/inbox-arena/crypto"
	"github.com/stretchr/testify/require"
)

func TestSignedRegistrationRoundTrip(t *testing.T) {
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := NewSigned(sk, &Registration{ParticipantID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)

	data, err := json.Marshal(signed)
	require.NoError(t, err)

	decoded, err := UnmarshalMessage[Signed[Registration]](data)
	require.NoError(t, err)

	reg, signer, err := decoded.Recover()
	require.NoError(t, err)
	require.Equal(t, "alice", reg.ParticipantID)
	require.True(t, pk.Equal(signer))
}

func TestSignedRejectsTampering(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	otherPK, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := NewSigned(sk, &Registration{ParticipantID: "alice"})
	require.NoError(t, err)

	signed.Object.ParticipantID = "mallory"
	_, _, err = signed.Recover()
	require.Error(t, err)

	signed.Object.ParticipantID = "alice"
	signed.PublicKey = otherPK
	_, _, err = signed.Recover()
	require.Error(t, err)

	empty := &Signed[Registration]{PublicKey: otherPK}
	_, _, err = empty.Recover()
	require.Error(t, err)
}

func TestValidParticipantID(t *testing.T) {
	require.True(t, ValidParticipantID("agent_007"))
	require.True(t, ValidParticipantID(ModeratorID))
	require.False(t, ValidParticipantID(""))
	require.False(t, ValidParticipantID("has space"))
	require.False(t, ValidParticipantID("semi;colon"))
	require.False(t, ValidParticipantID(string(make([]byte, 51))))
}

func TestReasonErrors(t *testing.T) {
	err := fmt.Errorf("submit: %w", Errorf(ReasonRoundClosed, "round %d closed", 2))

	require.ErrorIs(t, err, ErrRoundClosed)
	require.NotErrorIs(t, err, ErrDuplicate)
	require.Equal(t, ReasonRoundClosed, ReasonOf(err))
	require.Equal(t, ReasonInternal, ReasonOf(fmt.Errorf("plain")))
	require.Equal(t, "DUPLICATE", ErrDuplicate.Error())
}

func TestDeliveryStateOrdering(t *testing.T) {
	require.True(t, StateDelivered.IsAfter(StateSent))
	require.True(t, StateRead.IsAfter(StateDelivered))
	require.False(t, StateSent.IsAfter(StateRead))
	require.False(t, StateRead.IsAfter(StateRead))
	require.False(t, DeliveryState("lost").Valid())
}

func TestRoundStatusAdvance(t *testing.T) {
	status := RoundAnnounced
	var seen []RoundStatus
	for {
		next, err := status.Advance()
		if err != nil {
			break
		}
		require.True(t, next.IsAfter(status))
		seen = append(seen, next)
		status = next
	}
	require.Equal(t, []RoundStatus{RoundCollecting, RoundClosed, RoundScored}, seen)
}

func TestMessageCloneIsDeep(t *testing.T) {
	msg := &Message{
		ID:       "m1",
		Artifact: &Artifact{Signer: "bob", Signature: crypto.Signature{1, 2, 3}, State: ArtifactUnverified},
	}
	clone := msg.Clone()
	clone.Artifact.State = ArtifactVerified
	clone.Artifact.Signature[0] = 9

	require.Equal(t, ArtifactUnverified, msg.ArtifactState())
	require.Equal(t, byte(1), msg.Artifact.Signature[0])
	require.Equal(t, ArtifactAbsent, (&Message{}).ArtifactState())
}

func TestAssignmentView(t *testing.T) {
	a := &Assignment{
		Round: 2,
		Requests: map[string][]string{
			"a": {"b"},
			"c": {"b"},
		},
		Authorizations: map[string][]AuthEntry{
			"b": {
				{ParticipantID: "a", Label: "a"},
				{ParticipantID: "c", Label: "the one who wrote about tides", Fuzzy: true},
			},
		},
		Messages: map[string]PoolEntry{"a": {Message: "hello", Alias: "greeting"}},
	}

	require.True(t, a.HasRequest("a", "b"))
	require.False(t, a.HasRequest("b", "a"))
	require.Equal(t, 2, a.ExpectedSubmissions())
	require.Equal(t, []string{"a", "c"}, a.AuthorizedFor("b"))

	view := a.ViewFor("b")
	require.Equal(t, []string{"a", "the one who wrote about tides"}, view.SignFor)
	require.Empty(t, view.RequestFrom)

	digest, ok := a.AssignedDigest("a")
	require.True(t, ok)
	require.Equal(t, crypto.DigestMessage("hello"), digest)
}

func TestArenaConfigValidate(t *testing.T) {
	cfg := DefaultArenaConfig()
	require.NoError(t, cfg.Validate())

	cfg.RequestsPerParticipant = cfg.CohortSize
	require.Error(t, cfg.Validate())

	cfg = DefaultArenaConfig()
	cfg.CohortSize = 1
	require.Error(t, cfg.Validate())
}
