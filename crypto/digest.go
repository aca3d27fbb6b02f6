package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// DigestSize is the length of a message digest in bytes.
const DigestSize = 32

// Digest identifies the exact text a signer vouches for.
type Digest [DigestSize]byte

// DigestMessage returns the SHA3-256 digest of a message text.
func DigestMessage(text string) Digest {
	return Digest(sha3.Sum256([]byte(text)))
}

// ParseDigest decodes a hex-encoded digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("digest: expected %d bytes, got %d", DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// SignDigest signs the raw digest bytes.
func SignDigest(privateKey PrivateKey, d Digest) (Signature, error) {
	return Sign(privateKey, d[:])
}

// VerifyDigest checks a signature made by SignDigest.
func VerifyDigest(publicKey PublicKey, d Digest, sig Signature) bool {
	return sig.Verify(publicKey, d[:])
}

// DeriveKey expands secret material into n bytes bound to info using HKDF-SHA256.
func DeriveKey(secret, salt []byte, info string, n int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("derive key: empty secret")
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return out, nil
}
