package main

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/flashbots/inbox-arena/crypto"
	"github.com/stretchr/testify/require"
)

func TestClient_KeyHandling(t *testing.T) {
	// No key at all is fine for read-only commands.
	g := &globalFlags{server: "http://localhost:8080", id: "alice"}
	c, err := g.client()
	require.NoError(t, err)
	require.Equal(t, "alice", c.ParticipantID())

	g.key = "not-hex"
	_, err = g.client()
	require.Error(t, err)

	g.key = ""
	g.keyFile = filepath.Join(t.TempDir(), "missing.hex")
	_, err = g.client()
	require.Error(t, err)

	_, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(g.keyFile, []byte(hex.EncodeToString(priv.Seed())), 0o600))
	c, err = g.client()
	require.NoError(t, err)
	_, err = c.SignFor("hello")
	require.NoError(t, err)
}

func TestAuthedClient_RequiresToken(t *testing.T) {
	g := &globalFlags{server: "http://localhost:8080", id: "alice"}
	_, err := g.authedClient()
	require.Error(t, err)

	g.token = "t"
	c, err := g.authedClient()
	require.NoError(t, err)
	require.Equal(t, "t", c.Credential().Token)
}
