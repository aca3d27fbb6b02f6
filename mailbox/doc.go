// Package mailbox stores arena mail and tracks delivery state.
//
// Every message is kept for the life of the process (or until Reset). The
// ledger assigns a global sequence number at receipt; sends to the same
// recipient are serialized so each recipient sees one consistent timeline
// in receipt order. Each successful send publishes a protocol.EventMessage
// notice for the recipient through the configured Notifier.
//
// Delivery state only moves forward (sent -> delivered -> read). Marking a
// message with a state it has already reached is a no-op. Re-sending a
// message id that is already stored returns the original receipt with
// Duplicate set and changes nothing.
//
// Messages handed out of the ledger are copies.
package mailbox
