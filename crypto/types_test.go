package crypto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublicKeyEqual(t *testing.T) {
	pk1, _, err := GenerateKeyPair()
	require.NoError(t, err)
	pk2, _, err := GenerateKeyPair()
	require.NoError(t, err)

	require.True(t, pk1.Equal(NewPublicKeyFromBytes(pk1)))
	require.False(t, pk1.Equal(pk2))
	require.False(t, pk1.Equal(nil))
}

func TestPublicKeyFromString(t *testing.T) {
	pk, _, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := NewPublicKeyFromString(pk.String())
	require.NoError(t, err)
	require.True(t, pk.Equal(parsed))

	_, err = NewPublicKeyFromString("zz")
	require.Error(t, err)

	_, err = NewPublicKeyFromString("abcd")
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestPrivateKeyFromSeed(t *testing.T) {
	_, sk, err := GenerateKeyPair()
	require.NoError(t, err)

	restored, err := NewPrivateKeyFromSeed(sk.Seed())
	require.NoError(t, err)
	require.Equal(t, sk.Bytes(), restored.Bytes())

	_, err = NewPrivateKeyFromSeed([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestKeysSerializeAsHex(t *testing.T) {
	pk, sk, err := GenerateKeyPair()
	require.NoError(t, err)
	digest := DigestMessage("payload")
	sig, err := SignDigest(sk, digest)
	require.NoError(t, err)

	type wire struct {
		Key    PublicKey `json:"key"`
		Sig    Signature `json:"sig"`
		Digest Digest    `json:"digest"`
	}

	data, err := json.Marshal(wire{Key: pk, Sig: sig, Digest: digest})
	require.NoError(t, err)
	require.Contains(t, string(data), pk.String())
	require.Contains(t, string(data), digest.String())

	var decoded wire
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, VerifyDigest(decoded.Key, decoded.Digest, decoded.Sig))
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	pk, sk, err := GenerateKeyPair()
	require.NoError(t, err)
	digest := DigestMessage("payload")
	sig, err := SignDigest(sk, digest)
	require.NoError(t, err)

	require.False(t, VerifyDigest(pk[:10], digest, sig))
	require.False(t, VerifyDigest(pk, digest, sig[:10]))

	_, err = Sign(sk[:10], digest[:])
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestDeriveKey(t *testing.T) {
	secret := []byte("moderator seed material")

	k1, err := DeriveKey(secret, nil, "credentials", 32)
	require.NoError(t, err)
	k2, err := DeriveKey(secret, nil, "credentials", 32)
	require.NoError(t, err)
	k3, err := DeriveKey(secret, nil, "other", 32)
	require.NoError(t, err)

	require.Len(t, k1, 32)
	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)

	_, err = DeriveKey(nil, nil, "credentials", 32)
	require.Error(t, err)
}
