package protocol

import (
	"slices"

	"github.com/flashbots/inbox-arena/crypto"
)

// PoolEntry is a message a participant must collect signatures for, with a
// short alias describing it.
type PoolEntry struct {
	Message string `json:"message" yaml:"message"`
	Alias   string `json:"alias" yaml:"alias"`
}

// AuthEntry names a requester in a signer's authorization list. Label is what
// the signer is shown; ParticipantID always resolves the entry for scoring.
type AuthEntry struct {
	ParticipantID string `json:"participant_id"`
	Label         string `json:"label"`
	Fuzzy         bool   `json:"fuzzy,omitempty"`
}

// Assignment is one round's request and authorization maps.
type Assignment struct {
	Round int `json:"round"`
	// Requests maps a requester to the signers it must obtain signatures from.
	Requests map[string][]string `json:"requests"`
	// Authorizations maps a signer to the requesters it may sign for.
	Authorizations map[string][]AuthEntry `json:"authorizations"`
	// Messages holds each participant's assigned message for the round.
	Messages map[string]PoolEntry `json:"messages"`
}

// HasRequest reports whether requester was assigned to request from signer.
func (a *Assignment) HasRequest(requester, signer string) bool {
	return slices.Contains(a.Requests[requester], signer)
}

// ExpectedSubmissions is the number of request edges in the round.
func (a *Assignment) ExpectedSubmissions() int {
	n := 0
	for _, signers := range a.Requests {
		n += len(signers)
	}
	return n
}

// AssignedDigest is the digest of the requester's assigned message.
func (a *Assignment) AssignedDigest(requester string) (crypto.Digest, bool) {
	entry, ok := a.Messages[requester]
	if !ok {
		return crypto.Digest{}, false
	}
	return crypto.DigestMessage(entry.Message), true
}

// AuthorizedFor resolves a signer's authorization list to participant ids.
func (a *Assignment) AuthorizedFor(signer string) []string {
	entries := a.Authorizations[signer]
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ParticipantID)
	}
	return ids
}

// ParticipantView is the slice of an assignment one participant may see.
// Aliased requesters appear only by label.
type ParticipantView struct {
	Round           int      `json:"round"`
	AssignedMessage string   `json:"assigned_message"`
	RequestFrom     []string `json:"request_from"`
	SignFor         []string `json:"sign_for"`
}

// ViewFor builds the participant's view of the assignment.
func (a *Assignment) ViewFor(participant string) ParticipantView {
	view := ParticipantView{
		Round:           a.Round,
		AssignedMessage: a.Messages[participant].Message,
		RequestFrom:     slices.Clone(a.Requests[participant]),
	}
	for _, e := range a.Authorizations[participant] {
		view.SignFor = append(view.SignFor, e.Label)
	}
	return view
}
