package protocol

import (
	"fmt"
	"time"
)

// Fuzziness controls how often authorization entries are replaced by aliases.
type Fuzziness int

const (
	// FuzzNone always shows participant ids.
	FuzzNone Fuzziness = iota
	// FuzzRepeat aliases requesters who asked the same signer last round.
	FuzzRepeat
	// FuzzAll aliases every requester from the second round on.
	FuzzAll
)

// ArenaConfig holds the game rules shared by the orchestrator and clients.
type ArenaConfig struct {
	// CohortSize is the number of participants admitted per session.
	CohortSize int `json:"cohort_size" yaml:"cohort_size"`

	// Rounds is the number of rounds played per session.
	Rounds int `json:"rounds" yaml:"rounds"`

	// RequestsPerParticipant is each participant's out-degree (and in-degree)
	// in the request graph.
	RequestsPerParticipant int `json:"requests_per_participant" yaml:"requests_per_participant"`

	// RoundDuration is the length of the collection window.
	RoundDuration time.Duration `json:"round_duration,string" yaml:"round_duration"`

	// FormationTimeout bounds how long a forming session waits for every
	// member to open a live channel.
	FormationTimeout time.Duration `json:"formation_timeout,string" yaml:"formation_timeout"`

	// PointsPerSubmission is credited to the requester per accepted submission.
	PointsPerSubmission int `json:"points_per_submission" yaml:"points_per_submission"`

	Fuzziness Fuzziness `json:"fuzziness" yaml:"fuzziness"`

	// CloseWhenComplete closes a round as soon as every request edge has an
	// accepted submission.
	CloseWhenComplete bool `json:"close_when_complete" yaml:"close_when_complete"`

	// BindDigest requires submitted digests to match the requester's assigned message.
	BindDigest bool `json:"bind_digest" yaml:"bind_digest"`
}

// DefaultArenaConfig returns the standard four-player rules.
func DefaultArenaConfig() ArenaConfig {
	return ArenaConfig{
		CohortSize:             4,
		Rounds:                 3,
		RequestsPerParticipant: 2,
		RoundDuration:          60 * time.Second,
		FormationTimeout:       30 * time.Second,
		PointsPerSubmission:    1,
		Fuzziness:              FuzzRepeat,
		BindDigest:             true,
	}
}

// Validate checks that the rules can produce a playable session.
func (c *ArenaConfig) Validate() error {
	if c.CohortSize < 2 {
		return fmt.Errorf("cohort_size must be at least 2, got %d", c.CohortSize)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("rounds must be at least 1, got %d", c.Rounds)
	}
	if c.RequestsPerParticipant < 1 || c.RequestsPerParticipant >= c.CohortSize {
		return fmt.Errorf("requests_per_participant must be in [1, %d], got %d", c.CohortSize-1, c.RequestsPerParticipant)
	}
	if c.RoundDuration <= 0 {
		return fmt.Errorf("round_duration must be positive")
	}
	if c.FormationTimeout <= 0 {
		return fmt.Errorf("formation_timeout must be positive")
	}
	if c.PointsPerSubmission < 1 {
		return fmt.Errorf("points_per_submission must be positive")
	}
	if c.Fuzziness < FuzzNone || c.Fuzziness > FuzzAll {
		return fmt.Errorf("fuzziness must be 0, 1 or 2")
	}
	return nil
}
