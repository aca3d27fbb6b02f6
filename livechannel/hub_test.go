package livechannel

import (
	"sync"
	"testing"

	"github.com/flashbots/inbox-arena/protocol"
	"github.com/stretchr/testify/require"
)

type hookRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		OnConnect:    func(id string) { r.add("+" + id) },
		OnDisconnect: func(id string) { r.add("-" + id) },
	}
}

func (r *hookRecorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *hookRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestHub_PublishToConnected(t *testing.T) {
	h := NewHub(4, nil)

	require.False(t, h.Publish("alice", protocol.NewEvent(protocol.EventHello, nil)), "no stream, event dropped")

	sub := h.Subscribe("alice")
	require.True(t, h.Connected("alice"))
	require.True(t, h.Publish("alice", protocol.NewEvent(protocol.EventMessage, "x")))

	ev := <-sub.Events()
	require.Equal(t, protocol.EventMessage, ev.Type)
	require.Equal(t, "x", ev.Data)

	require.False(t, h.Publish("bob", protocol.NewEvent(protocol.EventMessage, nil)))
}

func TestHub_BroadcastSkipsDisconnected(t *testing.T) {
	h := NewHub(4, nil)
	a := h.Subscribe("alice")
	b := h.Subscribe("bob")

	h.Broadcast([]string{"alice", "carol", "bob"}, protocol.NewEvent(protocol.EventRoundClosed, 7))

	require.Equal(t, 7, (<-a.Events()).Data)
	require.Equal(t, 7, (<-b.Events()).Data)
	require.Zero(t, h.Dropped())
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	h := NewHub(2, nil)
	sub := h.Subscribe("alice")

	require.True(t, h.Publish("alice", protocol.NewEvent(protocol.EventMessage, 1)))
	require.True(t, h.Publish("alice", protocol.NewEvent(protocol.EventMessage, 2)))
	require.False(t, h.Publish("alice", protocol.NewEvent(protocol.EventMessage, 3)))
	require.Equal(t, uint64(1), h.Dropped())

	require.Equal(t, 1, (<-sub.Events()).Data)
	require.Equal(t, 2, (<-sub.Events()).Data)
}

func TestHub_UnsubscribeDisconnects(t *testing.T) {
	h := NewHub(4, nil)
	rec := &hookRecorder{}
	h.SetHooks(rec.hooks())

	sub := h.Subscribe("alice")
	h.Unsubscribe(sub)

	require.False(t, h.Connected("alice"))
	_, open := <-sub.Events()
	require.False(t, open)
	<-sub.Done()

	// Unsubscribing twice is harmless.
	h.Unsubscribe(sub)
	require.Equal(t, []string{"+alice", "-alice"}, rec.get())
}

func TestHub_ResubscribeReplacesStream(t *testing.T) {
	h := NewHub(4, nil)
	rec := &hookRecorder{}
	h.SetHooks(rec.hooks())

	first := h.Subscribe("alice")
	second := h.Subscribe("alice")

	_, open := <-first.Events()
	require.False(t, open, "replaced stream is closed")

	// The old stream's handler exiting must not disconnect the new one.
	h.Unsubscribe(first)
	require.True(t, h.Connected("alice"))

	require.True(t, h.Publish("alice", protocol.NewEvent(protocol.EventHello, nil)))
	require.Equal(t, protocol.EventHello, (<-second.Events()).Type)

	require.Equal(t, []string{"+alice"}, rec.get())
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub(4, nil)
	rec := &hookRecorder{}
	h.SetHooks(rec.hooks())

	a := h.Subscribe("alice")
	h.Subscribe("bob")
	require.Equal(t, []string{"alice", "bob"}, h.ConnectedIDs())

	h.CloseAll()
	require.Empty(t, h.ConnectedIDs())
	<-a.Done()
	require.ElementsMatch(t, []string{"+alice", "+bob", "-alice", "-bob"}, rec.get())
}

func TestHub_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := NewHub(8, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := h.Subscribe("alice")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish("alice", protocol.NewEvent(protocol.EventMessage, j))
			}
		}()
		go func() {
			defer wg.Done()
			h.Unsubscribe(sub)
		}()
	}
	wg.Wait()
}
