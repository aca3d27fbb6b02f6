// Package registry issues and verifies participant credentials.
//
// A participant registers once by signing a protocol.Registration with its
// Ed25519 key. The registry keeps that key for signature verification and
// returns a short-lived bearer token (HS256 JWT). Tokens close to expiry are
// refreshed transparently by AuthenticateAndRefresh.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const maxDisplayNameLength = 100

// Config controls credential lifetime and re-registration policy.
type Config struct {
	// TokenTTL is the lifetime of an issued token.
	TokenTTL time.Duration
	// RefreshWindow is how close to expiry a token must be before a request
	// using it receives a fresh one.
	RefreshWindow time.Duration
	// AllowRotation lets a participant re-register with the same key to
	// rotate its credential. Otherwise re-registration is a conflict.
	AllowRotation bool
	// Secret is the HS256 signing key.
	Secret []byte
	Issuer string
}

// Participant is the registry's record of one registered identity.
type Participant struct {
	ID           string                    `json:"participant_id"`
	DisplayName  string                    `json:"display_name"`
	PublicKey    crypto.PublicKey          `json:"public_key"`
	Status       protocol.ConnectionStatus `json:"status"`
	Score        int                       `json:"score"`
	RegisteredAt time.Time                 `json:"registered_at"`

	generation int
}

// Credential is a bearer token and its expiry.
type Credential struct {
	ParticipantID string    `json:"participant_id"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type claims struct {
	Generation int    `json:"gen"`
	Epoch      string `json:"epoch"`
	jwt.RegisteredClaims
}

// Registry is the single owner of participant identities.
type Registry struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu           sync.RWMutex
	epoch        string
	participants map[string]*Participant
	// byKey maps a hex public key to the id registered with it.
	byKey map[string]string
}

type Option func(*Registry)

// WithClock overrides the time source used for issuing and checking tokens.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New creates a registry. The secret must be at least 32 bytes.
func New(cfg Config, opts ...Option) (*Registry, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(cfg.Secret))
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "inbox-arena"
	}

	r := &Registry{
		cfg:          cfg,
		log:          slog.Default(),
		now:          time.Now,
		epoch:        uuid.NewString(),
		participants: make(map[string]*Participant),
		byKey:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register verifies the signed registration and returns a credential.
func (r *Registry) Register(signed *protocol.Signed[protocol.Registration]) (*Credential, error) {
	if signed == nil {
		return nil, protocol.Errorf(protocol.ReasonInvalidRequest, "missing registration")
	}
	reg, publicKey, err := signed.Recover()
	if err != nil {
		return nil, protocol.Errorf(protocol.ReasonInvalidRequest, "registration: %v", err)
	}
	if !protocol.ValidParticipantID(reg.ParticipantID) {
		return nil, protocol.Errorf(protocol.ReasonInvalidRequest, "participant id must match [A-Za-z0-9_]{1,50}")
	}
	if reg.ParticipantID == protocol.ModeratorID {
		return nil, protocol.Errorf(protocol.ReasonConflict, "%q is reserved", protocol.ModeratorID)
	}

	displayName := strings.TrimSpace(reg.DisplayName)
	if displayName == "" {
		displayName = reg.ParticipantID
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameLength {
		displayName = string([]rune(displayName)[:maxDisplayNameLength])
	}
	key := crypto.NewPublicKeyFromBytes(publicKey)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, taken := r.byKey[key.String()]; taken && owner != reg.ParticipantID {
		return nil, protocol.Errorf(protocol.ReasonConflict, "key is already registered to another participant")
	}

	p, exists := r.participants[reg.ParticipantID]
	switch {
	case !exists:
		p = &Participant{
			ID:           reg.ParticipantID,
			DisplayName:  displayName,
			PublicKey:    key,
			Status:       protocol.Disconnected,
			RegisteredAt: r.now().UTC(),
		}
		r.participants[p.ID] = p
		r.byKey[key.String()] = p.ID
		r.log.Info("participant registered", "participant", p.ID)
	case !p.PublicKey.Equal(publicKey):
		return nil, protocol.Errorf(protocol.ReasonConflict, "participant %q is registered with a different key", p.ID)
	case !r.cfg.AllowRotation:
		return nil, protocol.Errorf(protocol.ReasonConflict, "participant %q is already registered", p.ID)
	default:
		p.generation++
		p.DisplayName = displayName
		r.log.Info("participant credential rotated", "participant", p.ID, "generation", p.generation)
	}

	return r.issueLocked(p.ID, p.generation)
}

func (r *Registry) issue(id string, generation int) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.issueLocked(id, generation)
}

func (r *Registry) issueLocked(id string, generation int) (*Credential, error) {
	now := r.now()
	expiresAt := now.Add(r.cfg.TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Generation: generation,
		Epoch:      r.epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    r.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(r.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &Credential{ParticipantID: id, Token: signed, ExpiresAt: expiresAt.UTC().Truncate(time.Second)}, nil
}

func (r *Registry) parse(token string) (*claims, error) {
	if token == "" {
		return nil, protocol.Errorf(protocol.ReasonUnauthorized, "missing token")
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return r.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(r.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, protocol.Errorf(protocol.ReasonExpired, "token expired")
	}
	if err != nil {
		return nil, protocol.Errorf(protocol.ReasonUnauthorized, "invalid token")
	}

	r.mu.RLock()
	p, ok := r.participants[c.Subject]
	current := ok && p.generation == c.Generation && c.Epoch == r.epoch
	r.mu.RUnlock()
	if !current {
		return nil, protocol.Errorf(protocol.ReasonUnauthorized, "credential revoked")
	}
	return &c, nil
}

// Authenticate maps a token to the participant id it was issued for.
func (r *Registry) Authenticate(token string) (string, error) {
	c, err := r.parse(token)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

// AuthenticateAndRefresh authenticates token and, if it expires within the
// refresh window, also returns a replacement credential.
func (r *Registry) AuthenticateAndRefresh(token string) (string, *Credential, error) {
	c, err := r.parse(token)
	if err != nil {
		return "", nil, err
	}
	if c.ExpiresAt.Time.Sub(r.now()) > r.cfg.RefreshWindow {
		return c.Subject, nil, nil
	}
	cred, err := r.issue(c.Subject, c.Generation)
	if err != nil {
		return "", nil, err
	}
	return c.Subject, cred, nil
}

// Refresh exchanges a valid token for a new one.
func (r *Registry) Refresh(token string) (*Credential, error) {
	c, err := r.parse(token)
	if err != nil {
		return nil, err
	}
	return r.issue(c.Subject, c.Generation)
}

// Exists reports whether id can receive mail. The moderator always exists.
func (r *Registry) Exists(id string) bool {
	if id == protocol.ModeratorID {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.participants[id]
	return ok
}

// PublicKey returns the key a participant registered with.
func (r *Registry) PublicKey(id string) (crypto.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return nil, protocol.Errorf(protocol.ReasonNotFound, "unknown participant %q", id)
	}
	return p.PublicKey, nil
}

// SetStatus records a participant's connection status. Unknown ids are ignored.
func (r *Registry) SetStatus(id string, status protocol.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		p.Status = status
	}
}

// CreditScore adds points to a participant's cumulative score.
func (r *Registry) CreditScore(id string, points int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		p.Score += points
	}
}

// Get returns a copy of the participant record.
func (r *Registry) Get(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// List returns all participants ordered by id.
func (r *Registry) List() []Participant {
	r.mu.RLock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Participant) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Reset forgets every participant. Outstanding tokens become invalid.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[string]*Participant)
	r.byKey = make(map[string]string)
	r.epoch = uuid.NewString()
}
