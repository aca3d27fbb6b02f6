// Package crypto provides the cryptographic primitives used by the arena.
//
//   - Ed25519 key pairs identify participants and the moderator
//   - Signatures over SHA3-256 message digests form the signed artifacts that
//     participants exchange and submit for scoring
//   - HKDF-SHA256 derives auxiliary secrets (such as the credential signing key)
//     from the moderator key
//
// Keys, signatures and digests serialize as lowercase hex in JSON.
package crypto
