package assignment

import (
	"fmt"
	"strings"
	"testing"

	"github.com/flashbots/inbox-arena/protocol"
	"github.com/stretchr/testify/require"
)

func cohortOf(n int) []string {
	c := make([]string, n)
	for i := range c {
		c[i] = fmt.Sprintf("p%d", i)
	}
	return c
}

func TestRequests_GraphShape(t *testing.T) {
	for n := 2; n <= 8; n++ {
		for k := 1; k < n; k++ {
			for round := 1; round <= 2*n; round++ {
				cohort := cohortOf(n)
				requests, err := Requests(cohort, round, k)
				require.NoError(t, err)

				inDegree := map[string]int{}
				for _, requester := range cohort {
					targets := requests[requester]
					require.Len(t, targets, k)
					require.NotContains(t, targets, requester, "n=%d k=%d round=%d", n, k, round)
					for _, s := range targets {
						inDegree[s]++
					}
				}
				for _, id := range cohort {
					require.Equal(t, k, inDegree[id], "n=%d k=%d round=%d", n, k, round)
				}
			}
		}
	}
}

func TestRequests_RotationCoversEveryPair(t *testing.T) {
	cohort := cohortOf(5)
	seen := map[[2]string]bool{}
	for round := 1; round <= 4; round++ {
		requests, err := Requests(cohort, round, 1)
		require.NoError(t, err)
		for r, targets := range requests {
			for _, s := range targets {
				seen[[2]string{r, s}] = true
			}
		}
	}
	require.Len(t, seen, 5*4, "every ordered pair is exercised after n-1 rounds")
}

func TestRequests_ConsecutiveRoundsDiffer(t *testing.T) {
	cohort := cohortOf(4)
	r1, err := Requests(cohort, 1, 2)
	require.NoError(t, err)
	r2, err := Requests(cohort, 2, 2)
	require.NoError(t, err)
	require.NotEqual(t, r1, r2)
}

func TestRequests_InsufficientCohort(t *testing.T) {
	_, err := Requests([]string{"solo"}, 1, 1)
	require.ErrorIs(t, err, protocol.ErrInsufficientCohort)

	_, err = Requests(cohortOf(3), 1, 3)
	require.ErrorIs(t, err, protocol.ErrInsufficientCohort)

	_, err = NewGenerator(2, protocol.FuzzNone, nil).NewPlan(cohortOf(2), 1)
	require.ErrorIs(t, err, protocol.ErrInsufficientCohort)
}

func TestPlan_MirrorsRequestsIntoAuthorizations(t *testing.T) {
	cohort := []string{"A", "B", "C", "D"}
	plan, err := NewGenerator(2, protocol.FuzzNone, nil).NewPlan(cohort, 42)
	require.NoError(t, err)

	a, err := plan.Next()
	require.NoError(t, err)
	require.Equal(t, 1, a.Round)
	require.NoError(t, Validate(a, cohort, 2))

	for requester, signers := range a.Requests {
		for _, signer := range signers {
			require.Contains(t, a.AuthorizedFor(signer), requester)
		}
	}
	for _, entries := range a.Authorizations {
		for _, e := range entries {
			require.False(t, e.Fuzzy)
			require.Equal(t, e.ParticipantID, e.Label)
		}
	}
}

func TestPlan_MessagesUniquePerRoundAndParticipant(t *testing.T) {
	cohort := cohortOf(4)
	plan, err := NewGenerator(2, protocol.FuzzNone, nil).NewPlan(cohort, 7)
	require.NoError(t, err)

	had := map[string]map[string]bool{}
	for round := 1; round <= 5; round++ {
		a, err := plan.Next()
		require.NoError(t, err)

		thisRound := map[string]bool{}
		for _, id := range cohort {
			msg := a.Messages[id].Message
			require.NotEmpty(t, msg)
			require.False(t, thisRound[msg], "message shared within round %d", round)
			thisRound[msg] = true

			if had[id] == nil {
				had[id] = map[string]bool{}
			}
			require.False(t, had[id][msg], "%s got a repeated message in round %d", id, round)
			had[id][msg] = true
		}
	}
	require.Len(t, plan.History(), 5)
}

func TestPlan_SameSeedSameMessages(t *testing.T) {
	cohort := cohortOf(4)
	g := NewGenerator(2, protocol.FuzzNone, nil)

	p1, err := g.NewPlan(cohort, 99)
	require.NoError(t, err)
	p2, err := g.NewPlan(cohort, 99)
	require.NoError(t, err)

	a1, err := p1.Next()
	require.NoError(t, err)
	a2, err := p2.Next()
	require.NoError(t, err)
	require.Equal(t, a1.Messages, a2.Messages)
}

func TestPlan_FuzzyAliasesOnlyInAuthorizations(t *testing.T) {
	// With n-1 == k every pair repeats, so every round-2 entry is aliased.
	cohort := []string{"A", "B", "C"}
	plan, err := NewGenerator(2, protocol.FuzzRepeat, nil).NewPlan(cohort, 3)
	require.NoError(t, err)

	r1, err := plan.Next()
	require.NoError(t, err)
	for _, entries := range r1.Authorizations {
		for _, e := range entries {
			require.False(t, e.Fuzzy, "first round is never aliased")
		}
	}

	r2, err := plan.Next()
	require.NoError(t, err)
	require.NoError(t, Validate(r2, cohort, 2))

	for signer, entries := range r2.Authorizations {
		for _, e := range entries {
			require.True(t, e.Fuzzy)
			require.NotEqual(t, e.ParticipantID, e.Label)
			require.Contains(t, e.Label, r1.Messages[e.ParticipantID].Alias)
			require.True(t, r2.HasRequest(e.ParticipantID, signer), "alias resolves to the real requester")
		}
	}
	for _, targets := range r2.Requests {
		for _, target := range targets {
			require.Contains(t, cohort, target, "request map never carries aliases")
		}
	}

	view := r2.ViewFor("A")
	for _, label := range view.SignFor {
		require.True(t, strings.HasPrefix(label, "whoever asked you"))
	}
}

func TestPlan_FuzzRepeatOnlyAliasesRepeatedPairs(t *testing.T) {
	cohort := cohortOf(5)
	plan, err := NewGenerator(1, protocol.FuzzRepeat, nil).NewPlan(cohort, 1)
	require.NoError(t, err)

	_, err = plan.Next()
	require.NoError(t, err)
	r2, err := plan.Next()
	require.NoError(t, err)

	// With k=1 the offset rotates, so no pair repeats and nothing is aliased.
	for _, entries := range r2.Authorizations {
		for _, e := range entries {
			require.False(t, e.Fuzzy)
		}
	}

	all, err := NewGenerator(1, protocol.FuzzAll, nil).NewPlan(cohort, 1)
	require.NoError(t, err)
	_, err = all.Next()
	require.NoError(t, err)
	r2, err = all.Next()
	require.NoError(t, err)
	for _, entries := range r2.Authorizations {
		for _, e := range entries {
			require.True(t, e.Fuzzy)
		}
	}
}

func TestValidate_DetectsBrokenAssignments(t *testing.T) {
	cohort := []string{"A", "B", "C"}

	selfLoop := &protocol.Assignment{
		Requests: map[string][]string{"A": {"A"}, "B": {"C"}, "C": {"B"}},
	}
	require.ErrorContains(t, Validate(selfLoop, cohort, 1), "itself")

	unmirrored := &protocol.Assignment{
		Requests: map[string][]string{"A": {"B"}, "B": {"C"}, "C": {"A"}},
		Authorizations: map[string][]protocol.AuthEntry{
			"B": {{ParticipantID: "A"}},
			"C": {{ParticipantID: "B"}},
			"A": {{ParticipantID: "B"}},
		},
	}
	require.ErrorContains(t, Validate(unmirrored, cohort, 1), "without a matching request")

	imbalanced := &protocol.Assignment{
		Requests: map[string][]string{"A": {"B"}, "B": {"A"}, "C": {"A"}},
	}
	require.ErrorContains(t, Validate(imbalanced, cohort, 1), "requested by")
}
