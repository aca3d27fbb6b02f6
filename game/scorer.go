package game

import (
	"slices"
	"time"

	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/protocol"
)

// KeyLookup resolves a participant's registered public key.
type KeyLookup interface {
	PublicKey(id string) (crypto.PublicKey, error)
}

// Scorer verifies submissions and tallies rounds.
type Scorer struct {
	keys       KeyLookup
	points     int
	bindDigest bool
}

func NewScorer(keys KeyLookup, cfg protocol.ArenaConfig) *Scorer {
	points := cfg.PointsPerSubmission
	if points <= 0 {
		points = 1
	}
	return &Scorer{keys: keys, points: points, bindDigest: cfg.BindDigest}
}

type edge struct {
	requester string
	signer    string
}

// round is the live state of one round. rec is sealed once scored.
type round struct {
	rec protocol.RoundRecord
	// edges holds the request edges already credited this round.
	edges map[edge]struct{}
}

func newRound(rec protocol.RoundRecord) *round {
	if rec.Rejections == nil {
		rec.Rejections = make(map[protocol.Reason]int)
	}
	return &round{
		rec:   rec,
		edges: make(map[edge]struct{}),
	}
}

// complete reports whether every request edge has an accepted submission.
func (r *round) complete() bool {
	return len(r.edges) >= r.rec.Assignment.ExpectedSubmissions()
}

// Verify runs the submission checks in order: the round must be collecting
// and before its deadline, the request edge must not have been credited yet
// whatever digest is presented, the requester must have been assigned the
// signer, and the signature must verify against the signer's registered key. With digest binding the digest must also be that
// of the requester's assigned message.
func (sc *Scorer) Verify(r *round, now time.Time, sub *protocol.Submission) error {
	if r == nil || r.rec.Status != protocol.RoundCollecting {
		return protocol.Errorf(protocol.ReasonRoundClosed, "no round is collecting submissions")
	}
	if !now.Before(r.rec.Deadline) {
		return protocol.Errorf(protocol.ReasonRoundClosed, "round %d deadline passed", r.rec.Number)
	}
	if sub.Round != 0 && sub.Round != r.rec.Number {
		return protocol.Errorf(protocol.ReasonRoundClosed, "round %d is not collecting", sub.Round)
	}
	if _, dup := r.edges[edge{sub.Requester, sub.Signer}]; dup {
		return protocol.Errorf(protocol.ReasonDuplicate, "%s already has an accepted signature from %s this round",
			sub.Requester, sub.Signer)
	}
	if !r.rec.Assignment.HasRequest(sub.Requester, sub.Signer) {
		return protocol.Errorf(protocol.ReasonUnauthorizedSubmission, "%s was not assigned to request from %s in round %d",
			sub.Requester, sub.Signer, r.rec.Number)
	}
	pk, err := sc.keys.PublicKey(sub.Signer)
	if err != nil || !crypto.VerifyDigest(pk, sub.Digest, sub.Signature) {
		return protocol.Errorf(protocol.ReasonInvalidSignature, "signature does not verify for %s", sub.Signer)
	}
	if sc.bindDigest {
		want, ok := r.rec.Assignment.AssignedDigest(sub.Requester)
		if !ok || want != sub.Digest {
			return protocol.Errorf(protocol.ReasonDigestMismatch, "digest is not the digest of the assigned message")
		}
	}
	return nil
}

// accept records a verified submission.
func (r *round) accept(sub *protocol.Submission) {
	r.edges[edge{sub.Requester, sub.Signer}] = struct{}{}
	r.rec.Submissions = append(r.rec.Submissions, *sub)
}

// Tally sums accepted submissions per requester and builds each member's
// performance breakdown. Every member appears in both maps.
func (sc *Scorer) Tally(rec *protocol.RoundRecord, members []string) (map[string]int, map[string]protocol.Performance) {
	scores := make(map[string]int, len(members))
	obtained := make(map[string][]string, len(members))
	signed := make(map[string][]string, len(members))
	for _, m := range members {
		scores[m] = 0
	}
	for _, sub := range rec.Submissions {
		scores[sub.Requester] += sc.points
		if !slices.Contains(obtained[sub.Requester], sub.Signer) {
			obtained[sub.Requester] = append(obtained[sub.Requester], sub.Signer)
		}
		if !slices.Contains(signed[sub.Signer], sub.Requester) {
			signed[sub.Signer] = append(signed[sub.Signer], sub.Requester)
		}
	}

	perf := make(map[string]protocol.Performance, len(members))
	for _, m := range members {
		p := protocol.Performance{
			RequestFrom:   slices.Clone(rec.Assignment.Requests[m]),
			ObtainedFrom:  obtained[m],
			AuthorizedFor: rec.Assignment.AuthorizedFor(m),
			SignedFor:     signed[m],
			Points:        scores[m],
		}
		for _, target := range p.RequestFrom {
			if !slices.Contains(p.ObtainedFrom, target) {
				p.Missed = append(p.Missed, target)
			}
		}
		slices.Sort(p.ObtainedFrom)
		slices.Sort(p.SignedFor)
		perf[m] = p
	}
	return scores, perf
}
