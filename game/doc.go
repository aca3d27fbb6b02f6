// Package game runs arena sessions.
//
// A Manager receives cohorts from the matchmaking queue and drives each one
// through its own goroutine:
//
//	forming -> (announced -> collecting -> closed -> scored)* -> finished
//
// Forming waits until every member holds a live channel and gives up after
// the formation timeout, returning connected members to the queue. Each
// round's deadline is a timer owned by the session goroutine; losing every
// member's channel aborts the session.
//
// Submissions are checked by the Scorer against the round the requester's
// session is collecting. Points are credited when the round is scored.
package game
