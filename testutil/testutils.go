package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/stretchr/testify/require"
)

// =====================================
// Participants
// =====================================

// Participant bundles a test identity with its keys.
type Participant struct {
	ID         string
	PublicKey  crypto.PublicKey
	PrivateKey crypto.PrivateKey
}

// NewParticipant generates a fresh key pair for id.
func NewParticipant(t testing.TB, id string) *Participant {
	t.Helper()
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return &Participant{ID: id, PublicKey: pk, PrivateKey: sk}
}

// NewCohort creates participants named prefix0..prefix{n-1}.
func NewCohort(t testing.TB, prefix string, n int) []*Participant {
	t.Helper()
	cohort := make([]*Participant, n)
	for i := range cohort {
		cohort[i] = NewParticipant(t, fmt.Sprintf("%s%d", prefix, i))
	}
	return cohort
}

// IDs returns the ids of the given participants in order.
func IDs(ps []*Participant) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

// Registration returns a signed registration for the participant.
func (p *Participant) Registration(t testing.TB, displayName string) *protocol.Signed[protocol.Registration] {
	t.Helper()
	signed, err := protocol.NewSigned(p.PrivateKey, &protocol.Registration{
		ParticipantID: p.ID,
		DisplayName:   displayName,
	})
	require.NoError(t, err)
	return signed
}

// Sign signs the digest of text.
func (p *Participant) Sign(t testing.TB, text string) (crypto.Digest, crypto.Signature) {
	t.Helper()
	digest := crypto.DigestMessage(text)
	sig, err := crypto.SignDigest(p.PrivateKey, digest)
	require.NoError(t, err)
	return digest, sig
}

// =====================================
// Keys
// =====================================

// KeyDirectory is an in-memory public key lookup for scorer tests.
type KeyDirectory map[string]crypto.PublicKey

// NewKeyDirectory indexes the participants' public keys.
func NewKeyDirectory(ps ...*Participant) KeyDirectory {
	dir := make(KeyDirectory, len(ps))
	for _, p := range ps {
		dir[p.ID] = p.PublicKey
	}
	return dir
}

func (d KeyDirectory) PublicKey(id string) (crypto.PublicKey, error) {
	pk, ok := d[id]
	if !ok {
		return nil, protocol.Errorf(protocol.ReasonNotFound, "unknown participant %q", id)
	}
	return pk, nil
}

// =====================================
// Configuration
// =====================================

// ArenaConfigOption modifies a test arena configuration.
type ArenaConfigOption func(*protocol.ArenaConfig)

func WithRounds(n int) ArenaConfigOption {
	return func(c *protocol.ArenaConfig) { c.Rounds = n }
}

func WithRoundDuration(d time.Duration) ArenaConfigOption {
	return func(c *protocol.ArenaConfig) { c.RoundDuration = d }
}

func WithFormationTimeout(d time.Duration) ArenaConfigOption {
	return func(c *protocol.ArenaConfig) { c.FormationTimeout = d }
}

func WithCohortSize(n int) ArenaConfigOption {
	return func(c *protocol.ArenaConfig) { c.CohortSize = n }
}

func WithRequestsPerParticipant(k int) ArenaConfigOption {
	return func(c *protocol.ArenaConfig) { c.RequestsPerParticipant = k }
}

func WithBindDigest(on bool) ArenaConfigOption {
	return func(c *protocol.ArenaConfig) { c.BindDigest = on }
}

func WithPoints(n int) ArenaConfigOption {
	return func(c *protocol.ArenaConfig) { c.PointsPerSubmission = n }
}

func WithCloseWhenComplete() ArenaConfigOption {
	return func(c *protocol.ArenaConfig) { c.CloseWhenComplete = true }
}

// NewArenaConfig returns fast rules for tests: one short round, cohort of 4.
func NewArenaConfig(opts ...ArenaConfigOption) protocol.ArenaConfig {
	cfg := protocol.DefaultArenaConfig()
	cfg.Rounds = 1
	cfg.RoundDuration = 500 * time.Millisecond
	cfg.FormationTimeout = 2 * time.Second
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// TokenSecret is a fixed credential secret for tests.
var TokenSecret = []byte("0123456789abcdef0123456789abcdef")
