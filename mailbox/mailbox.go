package mailbox

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

const (
	MaxSubjectLength = 200
	MaxBodyLength    = 10_000
	MaxIDLength      = 100
)

// Directory answers whether a participant id may send or receive mail.
type Directory interface {
	Exists(id string) bool
}

// Notifier receives a notice for every stored message.
type Notifier interface {
	Publish(participantID string, event protocol.Event) bool
}

// Direction selects which side of a participant's mail to list.
type Direction string

const (
	Inbox Direction = "inbox"
	Sent  Direction = "sent"
	All   Direction = "all"
)

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	Direction     Direction
	Correspondent string
	State         protocol.DeliveryState
	SinceSeq      uint64
	Limit         int
	// MarkDelivered advances returned inbound messages from sent to delivered.
	MarkDelivered bool
}

type box struct {
	mu    sync.Mutex
	inbox []*protocol.Message
}

// Mailbox is the single owner of all stored messages.
type Mailbox struct {
	dir    Directory
	notify Notifier
	log    *slog.Logger
	now    func() time.Time
	seq    atomic.Uint64

	mu     sync.RWMutex
	boxes  map[string]*box
	byID   map[string]*protocol.Message
	outbox map[string][]*protocol.Message
}

type Option func(*Mailbox)

func WithLogger(log *slog.Logger) Option {
	return func(m *Mailbox) { m.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(m *Mailbox) { m.now = now }
}

// New creates a mailbox. notify may be nil.
func New(dir Directory, notify Notifier, opts ...Option) *Mailbox {
	m := &Mailbox{
		dir:    dir,
		notify: notify,
		log:    slog.Default(),
		now:    time.Now,
		boxes:  make(map[string]*box),
		byID:   make(map[string]*protocol.Message),
		outbox: make(map[string][]*protocol.Message),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mailbox) boxFor(id string) *box {
	m.mu.RLock()
	b, ok := m.boxes[id]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.boxes[id]; !ok {
		b = &box{}
		m.boxes[id] = b
	}
	return b
}

func (m *Mailbox) validate(msg *protocol.Message) error {
	if msg.ID != "" && len(msg.ID) > MaxIDLength {
		return protocol.Errorf(protocol.ReasonInvalidRequest, "message id longer than %d", MaxIDLength)
	}
	if !m.dir.Exists(msg.From) {
		return protocol.Errorf(protocol.ReasonUnauthorized, "unknown sender %q", msg.From)
	}
	if !protocol.ValidParticipantID(msg.To) || !m.dir.Exists(msg.To) {
		return protocol.Errorf(protocol.ReasonUnknownRecipient, "unknown recipient %q", msg.To)
	}
	if len(msg.Subject) > MaxSubjectLength {
		return protocol.Errorf(protocol.ReasonInvalidRequest, "subject longer than %d", MaxSubjectLength)
	}
	if len(msg.Body) > MaxBodyLength {
		return protocol.Errorf(protocol.ReasonInvalidRequest, "body longer than %d", MaxBodyLength)
	}
	if a := msg.Artifact; a != nil {
		if a.Signer == "" || len(a.Signature) == 0 || a.Digest.IsZero() {
			return protocol.Errorf(protocol.ReasonInvalidRequest, "artifact needs signer, digest and signature")
		}
	}
	return nil
}

// Send stores msg and notifies its recipient. The caller's From, To, Subject,
// Body, SessionID and Artifact are kept; everything else is assigned here.
func (m *Mailbox) Send(msg *protocol.Message) (*protocol.Receipt, error) {
	if err := m.validate(msg); err != nil {
		return nil, err
	}

	stored := msg.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.State = protocol.StateSent
	stored.DeliveredAt, stored.ReadAt = nil, nil
	if stored.Artifact != nil {
		stored.Artifact.State = protocol.ArtifactUnverified
	}

	b := m.boxFor(stored.To)
	b.mu.Lock()
	defer b.mu.Unlock()

	m.mu.Lock()
	if existing, ok := m.byID[stored.ID]; ok {
		m.mu.Unlock()
		if existing.From != stored.From || existing.To != stored.To {
			return nil, protocol.Errorf(protocol.ReasonConflict, "message id %q already used", stored.ID)
		}
		return m.receiptFor(existing, true), nil
	}
	stored.Seq = m.seq.Inc()
	stored.CreatedAt = m.now().UTC()
	m.byID[stored.ID] = stored
	m.outbox[stored.From] = append(m.outbox[stored.From], stored)
	m.mu.Unlock()

	b.inbox = append(b.inbox, stored)

	if m.notify != nil {
		m.notify.Publish(stored.To, protocol.NewEvent(protocol.EventMessage, protocol.MessageNotice{
			MessageID: stored.ID,
			Seq:       stored.Seq,
			From:      stored.From,
			Subject:   stored.Subject,
		}))
	}

	m.log.Debug("message stored", "id", stored.ID, "from", stored.From, "to", stored.To, "seq", stored.Seq)
	return m.receiptFor(stored, false), nil
}

// receiptFor must be called with the recipient's box locked.
func (m *Mailbox) receiptFor(msg *protocol.Message, duplicate bool) *protocol.Receipt {
	return &protocol.Receipt{
		MessageID: msg.ID,
		Seq:       msg.Seq,
		State:     msg.State,
		CreatedAt: msg.CreatedAt,
		Duplicate: duplicate,
	}
}

// BatchResult is the outcome of one message in SendBatch.
type BatchResult struct {
	Receipt *protocol.Receipt `json:"receipt,omitempty"`
	Reason  protocol.Reason   `json:"reason,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// SendBatch sends each message independently; one failure does not stop the rest.
func (m *Mailbox) SendBatch(msgs []*protocol.Message) []BatchResult {
	results := make([]BatchResult, len(msgs))
	for i, msg := range msgs {
		receipt, err := m.Send(msg)
		if err != nil {
			results[i] = BatchResult{Reason: protocol.ReasonOf(err), Error: err.Error()}
			continue
		}
		results[i] = BatchResult{Receipt: receipt}
	}
	return results
}

func (m *Mailbox) lookup(id string) (*protocol.Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.byID[id]
	return msg, ok
}

// Get returns a message visible to participant (its sender or recipient).
func (m *Mailbox) Get(participant, id string) (*protocol.Message, error) {
	msg, ok := m.lookup(id)
	if !ok || (msg.From != participant && msg.To != participant) {
		return nil, protocol.Errorf(protocol.ReasonNotFound, "message %q not found", id)
	}
	b := m.boxFor(msg.To)
	b.mu.Lock()
	defer b.mu.Unlock()
	return msg.Clone(), nil
}

// MarkDelivered advances a message the recipient has received.
func (m *Mailbox) MarkDelivered(recipient, id string) (*protocol.Message, error) {
	return m.advance(recipient, id, protocol.StateDelivered)
}

// MarkRead advances a message the recipient has read.
func (m *Mailbox) MarkRead(recipient, id string) (*protocol.Message, error) {
	return m.advance(recipient, id, protocol.StateRead)
}

func (m *Mailbox) advance(recipient, id string, state protocol.DeliveryState) (*protocol.Message, error) {
	msg, ok := m.lookup(id)
	if !ok {
		return nil, protocol.Errorf(protocol.ReasonNotFound, "message %q not found", id)
	}
	if msg.To != recipient {
		return nil, protocol.Errorf(protocol.ReasonForbidden, "only the recipient may change delivery state")
	}

	b := m.boxFor(recipient)
	b.mu.Lock()
	defer b.mu.Unlock()
	m.advanceLocked(msg, state)
	return msg.Clone(), nil
}

// advanceLocked must be called with the recipient's box locked.
func (m *Mailbox) advanceLocked(msg *protocol.Message, state protocol.DeliveryState) {
	if !state.IsAfter(msg.State) {
		return
	}
	now := m.now().UTC()
	if msg.DeliveredAt == nil {
		msg.DeliveredAt = &now
	}
	if state == protocol.StateRead {
		msg.ReadAt = &now
	}
	msg.State = state
}

// MarkArtifactVerified flips the embedded artifact of a message to verified
// if it carries exactly the given signer and digest.
func (m *Mailbox) MarkArtifactVerified(id, signer string, digest crypto.Digest) bool {
	msg, ok := m.lookup(id)
	if !ok {
		return false
	}
	b := m.boxFor(msg.To)
	b.mu.Lock()
	defer b.mu.Unlock()
	a := msg.Artifact
	if a == nil || a.Signer != signer || a.Digest != digest {
		return false
	}
	a.State = protocol.ArtifactVerified
	return true
}

func (f *Filter) matches(msg *protocol.Message, correspondent string) bool {
	if f.Correspondent != "" && f.Correspondent != correspondent {
		return false
	}
	if f.State != "" && msg.State != f.State {
		return false
	}
	return msg.Seq > f.SinceSeq
}

// List returns a participant's messages in receipt order.
func (m *Mailbox) List(participant string, f Filter) []*protocol.Message {
	var out []*protocol.Message

	if f.Direction == "" || f.Direction == Inbox || f.Direction == All {
		b := m.boxFor(participant)
		b.mu.Lock()
		for _, msg := range b.inbox {
			if f.Direction != All && f.Limit > 0 && len(out) == f.Limit {
				break
			}
			if !f.matches(msg, msg.From) {
				continue
			}
			if f.MarkDelivered {
				m.advanceLocked(msg, protocol.StateDelivered)
			}
			out = append(out, msg.Clone())
		}
		b.mu.Unlock()
	}

	if f.Direction == Sent || f.Direction == All {
		m.mu.RLock()
		sent := slices.Clone(m.outbox[participant])
		m.mu.RUnlock()

		for _, msg := range sent {
			if msg.To == participant {
				// Already listed from the inbox.
				if f.Direction == All {
					continue
				}
			}
			b := m.boxFor(msg.To)
			b.mu.Lock()
			if f.matches(msg, msg.To) {
				out = append(out, msg.Clone())
			}
			b.mu.Unlock()
		}
	}

	slices.SortFunc(out, bySeq)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Session returns every message tagged with sessionID in receipt order.
func (m *Mailbox) Session(sessionID string) []*protocol.Message {
	m.mu.RLock()
	var msgs []*protocol.Message
	for _, msg := range m.byID {
		if msg.SessionID == sessionID {
			msgs = append(msgs, msg)
		}
	}
	m.mu.RUnlock()

	out := make([]*protocol.Message, 0, len(msgs))
	for _, msg := range msgs {
		b := m.boxFor(msg.To)
		b.mu.Lock()
		out = append(out, msg.Clone())
		b.mu.Unlock()
	}
	slices.SortFunc(out, bySeq)
	return out
}

func bySeq(a, b *protocol.Message) int {
	return cmp.Compare(a.Seq, b.Seq)
}

// Count returns the number of stored messages.
func (m *Mailbox) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Reset drops every stored message.
func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes = make(map[string]*box)
	m.byID = make(map[string]*protocol.Message)
	m.outbox = make(map[string][]*protocol.Message)
}
