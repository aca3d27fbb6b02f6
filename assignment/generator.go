// Package assignment builds each round's request and authorization maps.
//
// Requests form a circulant graph over the cohort: participant i requests
// from i+o for each offset o in the round's offset set. Offsets are drawn
// from 1..n-1 and rotate with the round number, so nobody is assigned to
// themselves, every participant has the same out-degree and in-degree, and
// over successive rounds every pair gets exercised. The authorization map is
// the mirror image of the request map.
package assignment

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/flashbots/inbox-arena/protocol"
)

// Offsets returns the k distinct offsets in [1, n-1] used for round (1-based).
func Offsets(n, k, round int) []int {
	offsets := make([]int, k)
	base := (round - 1) % (n - 1)
	for j := range offsets {
		offsets[j] = 1 + (base+j)%(n-1)
	}
	return offsets
}

// Requests builds the request map for a round. It fails with
// InsufficientCohort when the cohort cannot give every participant k
// distinct partners other than themselves.
func Requests(cohort []string, round, k int) (map[string][]string, error) {
	n := len(cohort)
	if n < 2 || k < 1 || k >= n {
		return nil, protocol.Errorf(protocol.ReasonInsufficientCohort,
			"cohort of %d cannot give each participant %d partners", n, k)
	}
	if round < 1 {
		return nil, fmt.Errorf("round numbers start at 1, got %d", round)
	}

	offsets := Offsets(n, k, round)
	requests := make(map[string][]string, n)
	for i, requester := range cohort {
		targets := make([]string, k)
		for j, o := range offsets {
			targets[j] = cohort[(i+o)%n]
		}
		requests[requester] = targets
	}
	return requests, nil
}

// Generator produces per-session plans.
type Generator struct {
	requests int
	fuzz     protocol.Fuzziness
	pool     *Pool
}

// NewGenerator creates a generator giving each participant requestsPerParticipant
// targets per round.
func NewGenerator(requestsPerParticipant int, fuzz protocol.Fuzziness, pool *Pool) *Generator {
	if pool == nil {
		pool = DefaultPool()
	}
	return &Generator{requests: requestsPerParticipant, fuzz: fuzz, pool: pool}
}

// Plan generates the rounds of one session. It is not safe for concurrent
// use; the owning session serializes access.
type Plan struct {
	cohort   []string
	requests int
	fuzz     protocol.Fuzziness
	entries  []protocol.PoolEntry
	order    []int
	history  []*protocol.Assignment
}

// NewPlan snapshots the pool for a cohort. The seed fixes message selection.
func (g *Generator) NewPlan(cohort []string, seed uint64) (*Plan, error) {
	if _, err := Requests(cohort, 1, g.requests); err != nil {
		return nil, err
	}
	entries := g.pool.Entries()
	rng := rand.New(rand.NewPCG(seed, uint64(len(cohort))))
	return &Plan{
		cohort:   slices.Clone(cohort),
		requests: g.requests,
		fuzz:     g.fuzz,
		entries:  entries,
		order:    rng.Perm(len(entries)),
	}, nil
}

// History returns the assignments generated so far.
func (p *Plan) History() []*protocol.Assignment {
	return slices.Clone(p.history)
}

// Next generates the assignment for the following round.
func (p *Plan) Next() (*protocol.Assignment, error) {
	round := len(p.history) + 1
	requests, err := Requests(p.cohort, round, p.requests)
	if err != nil {
		return nil, err
	}

	a := &protocol.Assignment{
		Round:          round,
		Requests:       requests,
		Authorizations: make(map[string][]protocol.AuthEntry, len(p.cohort)),
		Messages:       p.pickMessages(round),
	}

	var prev *protocol.Assignment
	if len(p.history) > 0 {
		prev = p.history[len(p.history)-1]
	}
	for _, requester := range p.cohort {
		for _, signer := range requests[requester] {
			a.Authorizations[signer] = append(a.Authorizations[signer], p.authEntry(prev, signer, requester))
		}
	}

	if err := Validate(a, p.cohort, p.requests); err != nil {
		return nil, fmt.Errorf("generated assignment is inconsistent: %w", err)
	}
	p.history = append(p.history, a)
	return a, nil
}

// authEntry decides how signer sees requester in its authorization list.
func (p *Plan) authEntry(prev *protocol.Assignment, signer, requester string) protocol.AuthEntry {
	plain := protocol.AuthEntry{ParticipantID: requester, Label: requester}
	if prev == nil || p.fuzz == protocol.FuzzNone {
		return plain
	}
	prevEntry, ok := prev.Messages[requester]
	if !ok {
		return plain
	}
	if p.fuzz == protocol.FuzzRepeat && !slices.Contains(prev.AuthorizedFor(signer), requester) {
		return plain
	}
	return protocol.AuthEntry{
		ParticipantID: requester,
		Label:         AliasLabel(prevEntry.Alias),
		Fuzzy:         true,
	}
}

// AliasLabel is how an aliased requester is described to a signer.
func AliasLabel(alias string) string {
	return fmt.Sprintf("whoever asked you last round to sign a message about %s (their message this round may be different)", alias)
}

// pickMessages gives every participant a pool entry nobody else has this
// round and, while the pool allows, one they have not had before.
func (p *Plan) pickMessages(round int) map[string]protocol.PoolEntry {
	n := len(p.cohort)
	had := make(map[string]map[int]bool, n)
	for _, a := range p.history {
		for id, e := range a.Messages {
			if had[id] == nil {
				had[id] = make(map[int]bool)
			}
			had[id][slices.Index(p.entries, e)] = true
		}
	}

	taken := make(map[int]bool, n)
	out := make(map[string]protocol.PoolEntry, n)
	for i, id := range p.cohort {
		start := ((round-1)*n + i) % len(p.order)
		choice := -1
		for pass := 0; pass < 2 && choice < 0; pass++ {
			for step := range len(p.order) {
				idx := p.order[(start+step)%len(p.order)]
				if taken[idx] || (pass == 0 && had[id][idx]) {
					continue
				}
				choice = idx
				break
			}
		}
		if choice < 0 {
			// Pool smaller than the cohort.
			choice = p.order[start]
		}
		taken[choice] = true
		out[id] = p.entries[choice]
	}
	return out
}

// Validate checks an assignment's structural invariants: no self requests,
// exactly k distinct targets and k requesters per participant, and an
// authorization map that mirrors the request map.
func Validate(a *protocol.Assignment, cohort []string, k int) error {
	members := make(map[string]bool, len(cohort))
	for _, id := range cohort {
		members[id] = true
	}

	inDegree := make(map[string]int, len(cohort))
	edges := make(map[[2]string]bool)
	for _, requester := range cohort {
		targets := a.Requests[requester]
		if len(targets) != k {
			return fmt.Errorf("%s requests from %d participants, want %d", requester, len(targets), k)
		}
		for _, signer := range targets {
			switch {
			case signer == requester:
				return fmt.Errorf("%s requests from itself", requester)
			case !members[signer]:
				return fmt.Errorf("%s requests from non-member %s", requester, signer)
			case edges[[2]string{requester, signer}]:
				return fmt.Errorf("%s requests from %s twice", requester, signer)
			}
			edges[[2]string{requester, signer}] = true
			inDegree[signer]++
		}
	}
	if len(a.Requests) != len(cohort) {
		return fmt.Errorf("request map has %d entries for a cohort of %d", len(a.Requests), len(cohort))
	}

	for _, id := range cohort {
		if inDegree[id] != k {
			return fmt.Errorf("%s is requested by %d participants, want %d", id, inDegree[id], k)
		}
	}

	mirrored := make(map[[2]string]bool, len(edges))
	for signer, entries := range a.Authorizations {
		for _, e := range entries {
			edge := [2]string{e.ParticipantID, signer}
			if !edges[edge] {
				return fmt.Errorf("%s is authorized to sign for %s without a matching request", signer, e.ParticipantID)
			}
			if mirrored[edge] {
				return fmt.Errorf("%s is authorized to sign for %s twice", signer, e.ParticipantID)
			}
			mirrored[edge] = true
		}
	}
	if len(mirrored) != len(edges) {
		return fmt.Errorf("authorization map has %d entries, request map has %d edges", len(mirrored), len(edges))
	}
	return nil
}
