/*
Package testutil provides fixtures for testing arena components.

# Participants

	alice := testutil.NewParticipant(t, "alice")
	cohort := testutil.NewCohort(t, "agent", 4)

	// Signed registration for the registry or the HTTP API
	signed := alice.Registration(t, "Alice")

	// Digest and signature a signer would return to a requester
	digest, sig := alice.Sign(t, "The falcon flies at midnight")

# Keys

KeyDirectory is a map-backed public key lookup, useful where a component needs
registered keys without a full registry:

	keys := testutil.NewKeyDirectory(cohort...)

# Configuration

NewArenaConfig returns rules tuned for tests (one round, short window) and
accepts functional options:

	cfg := testutil.NewArenaConfig(
	    testutil.WithRounds(2),
	    testutil.WithRoundDuration(200*time.Millisecond),
	)
*/
package testutil
