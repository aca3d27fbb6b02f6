package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKey  = errors.New("invalid public key size")
	ErrInvalidPrivateKey = errors.New("invalid private key size")
)

// PublicKey is a participant's Ed25519 verification key.
type PublicKey []byte

// PrivateKey is an Ed25519 signing key. Only its owner ever holds it.
type PrivateKey []byte

// Signature is an Ed25519 signature.
type Signature []byte

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func decodeHex(kind string, text []byte) ([]byte, error) {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return raw, nil
}

// NewPublicKeyFromBytes copies data into a PublicKey.
func NewPublicKeyFromBytes(data []byte) PublicKey { return clone(data) }

// NewPublicKeyFromString parses a hex key and checks its length.
func NewPublicKeyFromString(s string) (PublicKey, error) {
	raw, err := decodeHex("public key", []byte(s))
	if err != nil {
		return nil, err
	}
	pk := PublicKey(raw)
	if err := pk.Validate(); err != nil {
		return nil, err
	}
	return pk, nil
}

func (pk PublicKey) Validate() error {
	if n := len(pk); n != ed25519.PublicKeySize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, n)
	}
	return nil
}

func (pk PublicKey) Bytes() []byte { return pk }

// Equal runs in constant time.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

func (pk PublicKey) String() string { return hex.EncodeToString(pk) }

func (pk PublicKey) MarshalText() ([]byte, error) { return []byte(pk.String()), nil }

func (pk *PublicKey) UnmarshalText(text []byte) error {
	raw, err := decodeHex("public key", text)
	if err == nil {
		*pk = raw
	}
	return err
}

// NewPrivateKeyFromBytes copies data into a PrivateKey without checking its length.
func NewPrivateKeyFromBytes(data []byte) PrivateKey { return clone(data) }

// NewPrivateKeyFromSeed expands a 32-byte seed, the form key files store.
func NewPrivateKeyFromSeed(seed []byte) (PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrInvalidPrivateKey, ed25519.SeedSize)
	}
	return PrivateKey(ed25519.NewKeyFromSeed(seed)), nil
}

func (sk PrivateKey) valid() bool { return len(sk) == ed25519.PrivateKeySize }

// Bytes exposes the raw key material.
func (sk PrivateKey) Bytes() []byte { return sk }

// Seed returns nil for a malformed key.
func (sk PrivateKey) Seed() []byte {
	if !sk.valid() {
		return nil
	}
	return ed25519.PrivateKey(sk).Seed()
}

// PublicKey returns a copy of the public half embedded in the key.
func (sk PrivateKey) PublicKey() (PublicKey, error) {
	if !sk.valid() {
		return nil, ErrInvalidPrivateKey
	}
	return NewPublicKeyFromBytes(sk[ed25519.SeedSize:]), nil
}

// GenerateKeyPair draws a fresh participant identity.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// Sign fails only when the key is malformed.
func Sign(privateKey PrivateKey, data []byte) (Signature, error) {
	if !privateKey.valid() {
		return nil, ErrInvalidPrivateKey
	}
	return ed25519.Sign(ed25519.PrivateKey(privateKey), data), nil
}

// NewSignature copies data into a Signature.
func NewSignature(data []byte) Signature { return clone(data) }

func (s Signature) Bytes() []byte { return s }

// Verify reports false for malformed keys and signatures instead of panicking.
func (s Signature) Verify(publicKey PublicKey, data []byte) bool {
	if publicKey.Validate() != nil || len(s) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, s)
}

func (s Signature) String() string { return hex.EncodeToString(s) }

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signature) UnmarshalText(text []byte) error {
	raw, err := decodeHex("signature", text)
	if err == nil {
		*s = raw
	}
	return err
}
