package services

import (
	"testing"

	"github.com/flashbots/inbox-arena/protocol"
	"github.com/stretchr/testify/require"
)

func TestPlayer_AuthorizedResolvesAliases(t *testing.T) {
	p := NewPlayer(NewClient("http://unused", "S", nil), nil)
	p.members = []string{"A", "B", "C", "S"}
	p.signedLast = []string{"A", "C"}
	p.view = &protocol.ParticipantView{
		Round:   2,
		SignFor: []string{"B", "whoever asked you last round to sign a message about the sea"},
	}

	require.True(t, p.authorized("B"), "listed by id")
	require.False(t, p.authorized("D"), "never signed for D")
	require.True(t, p.authorized("A"), "alias resolves to a previous requester")
	require.False(t, p.authorized("C"), "only one alias slot")
}

func TestPlayer_StashesEarlyRequests(t *testing.T) {
	p := NewPlayer(NewClient("http://unused", "S", nil), nil)
	early := &protocol.Message{ID: "m1", From: "A", Subject: SignRequestSubject(1), Body: "x"}

	require.NoError(t, p.onMessage(t.Context(), early))
	require.Len(t, p.pending, 1)

	p.reset()
	require.Empty(t, p.pending)
}
