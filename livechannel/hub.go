// Package livechannel fans events out to one push stream per participant.
//
// Publishing never blocks: if the participant has no open stream, or its
// buffer is full, the event is dropped. Participants catch up by polling the
// mailbox, which is the durable record.
package livechannel

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/flashbots/inbox-arena/metrics"
	"github.com/flashbots/inbox-arena/protocol"
	"go.uber.org/atomic"
)

const DefaultBufferSize = 64

// Hooks are invoked outside the hub lock when a participant's first stream
// opens and when its last stream closes.
type Hooks struct {
	OnConnect    func(participantID string)
	OnDisconnect func(participantID string)
}

// Subscription is one open stream.
type Subscription struct {
	participantID string
	ch            chan protocol.Event
	done          chan struct{}
	closeOnce     sync.Once
}

// Events delivers the participant's events. It is closed when the
// subscription ends or is replaced.
func (s *Subscription) Events() <-chan protocol.Event {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) ParticipantID() string {
	return s.participantID
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Hub owns every participant's live stream.
type Hub struct {
	log        *slog.Logger
	bufferSize int
	dropped    atomic.Uint64

	hooksMu sync.RWMutex
	hooks   Hooks

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(bufferSize int, log *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		bufferSize: bufferSize,
		subs:       make(map[string]*Subscription),
	}
}

// SetHooks installs connect and disconnect callbacks.
func (h *Hub) SetHooks(hooks Hooks) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.hooks = hooks
}

func (h *Hub) getHooks() Hooks {
	h.hooksMu.RLock()
	defer h.hooksMu.RUnlock()
	return h.hooks
}

// Subscribe opens the participant's stream, replacing any previous one.
func (h *Hub) Subscribe(participantID string) *Subscription {
	sub := &Subscription{
		participantID: participantID,
		ch:            make(chan protocol.Event, h.bufferSize),
		done:          make(chan struct{}),
	}

	h.mu.Lock()
	old, replaced := h.subs[participantID]
	h.subs[participantID] = sub
	// Closing under the lock keeps Publish from sending on a closed channel.
	if replaced {
		old.close()
	}
	h.mu.Unlock()

	if replaced {
		h.log.Debug("live stream replaced", "participant", participantID)
		return sub
	}

	h.log.Info("participant connected", "participant", participantID)
	if cb := h.getHooks().OnConnect; cb != nil {
		cb(participantID)
	}
	return sub
}

// Unsubscribe ends sub. If sub is still the participant's current stream the
// participant is disconnected.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	current := h.subs[sub.participantID] == sub
	if current {
		delete(h.subs, sub.participantID)
	}
	sub.close()
	h.mu.Unlock()

	if !current {
		return
	}
	h.log.Info("participant disconnected", "participant", sub.participantID)
	if cb := h.getHooks().OnDisconnect; cb != nil {
		cb(sub.participantID)
	}
}

// Publish delivers ev to the participant's stream if it is open and has room.
// It reports whether the event was queued.
func (h *Hub) Publish(participantID string, ev protocol.Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sub, ok := h.subs[participantID]
	if !ok {
		return false
	}
	select {
	case sub.ch <- ev:
		return true
	default:
		// Drop if subscriber is slow
		h.dropped.Inc()
		metrics.IncLiveDropped()
		h.log.Warn("live event dropped", "participant", participantID, "type", ev.Type)
		return false
	}
}

// Broadcast publishes ev to each listed participant.
func (h *Hub) Broadcast(participantIDs []string, ev protocol.Event) {
	for _, id := range participantIDs {
		h.Publish(id, ev)
	}
}

// Connected reports whether the participant has an open stream.
func (h *Hub) Connected(participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[participantID]
	return ok
}

// ConnectedIDs lists participants with open streams.
func (h *Hub) ConnectedIDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Dropped returns how many events were discarded because a buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// CloseAll ends every stream and fires the disconnect hook for each.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	for _, sub := range subs {
		sub.close()
	}
	h.mu.Unlock()

	cb := h.getHooks().OnDisconnect
	for id := range subs {
		if cb != nil {
			cb(id)
		}
	}
}
