package protocol

import (
	"encoding/json"
	"errors"
	"regexp"

	"github.com/flashbots/inbox-arena/crypto"
)

// ModeratorID is the reserved participant id the orchestrator sends instructions from.
const ModeratorID = "moderator"

var participantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,50}$`)

// ValidParticipantID reports whether id is an acceptable participant identifier.
func ValidParticipantID(id string) bool {
	return participantIDPattern.MatchString(id)
}

var (
	errEmptyEnvelope = errors.New("signed envelope has no object")
	errBadEnvelope   = errors.New("envelope signature does not verify")
)

// Signed wraps an object with the key that vouches for it. The signature
// covers the JSON encoding of Object followed by the raw PublicKey, so a
// valid envelope cannot be re-attributed to another key.
type Signed[T any] struct {
	PublicKey crypto.PublicKey `json:"public_key"`
	Signature crypto.Signature `json:"signature"`
	Object    *T               `json:"object"`
}

func envelopeBytes[T any](obj *T, key crypto.PublicKey) ([]byte, error) {
	body, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(body, key...), nil
}

// NewSigned seals obj under privkey.
func NewSigned[T any](privkey crypto.PrivateKey, obj *T) (*Signed[T], error) {
	key, err := privkey.PublicKey()
	if err != nil {
		return nil, err
	}
	msg, err := envelopeBytes(obj, key)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(privkey, msg)
	if err != nil {
		return nil, err
	}
	return &Signed[T]{PublicKey: key, Signature: sig, Object: obj}, nil
}

// Recover checks the envelope and hands back its object with the signing key.
func (s *Signed[T]) Recover() (*T, crypto.PublicKey, error) {
	if s.Object == nil {
		return nil, nil, errEmptyEnvelope
	}
	if err := s.PublicKey.Validate(); err != nil {
		return nil, nil, err
	}
	msg, err := envelopeBytes(s.Object, s.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	if !s.Signature.Verify(s.PublicKey, msg) {
		return nil, nil, errBadEnvelope
	}
	return s.Object, s.PublicKey, nil
}

// Registration is what a participant signs with its key to register.
type Registration struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

// UnmarshalMessage decodes data into a fresh T.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	msg := new(T)
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
