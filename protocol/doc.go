// Package protocol defines the types every arena component exchanges.
//
// # Identities
//
// Participants register by signing a Registration with their Ed25519 key
// inside a Signed envelope. The envelope's public key becomes the key the
// scorer verifies that participant's signatures against. The id "moderator"
// is reserved for the orchestrator.
//
// # Messages
//
// A Message moves through DeliveryState sent -> delivered -> read and never
// back. It may embed an Artifact, a signature over a crypto.Digest, which is
// unverified until a submission referencing the message is accepted.
//
// # Rounds
//
// Each round has an Assignment. Requests maps a requester to the signers it
// must collect signatures from; Authorizations is its mirror, mapping a signer
// to the requesters it may sign for. Authorization entries may be shown to the
// signer under an alias (Label) but always resolve to a ParticipantID.
// RoundStatus moves announced -> collecting -> closed -> scored.
//
// # Errors
//
// Every rejection is an *Error carrying a stable Reason. Callers branch with
// errors.Is against the exported sentinels, or read the code with ReasonOf.
package protocol
