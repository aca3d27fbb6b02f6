package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flashbots/inbox-arena/protocol"
)

// handleLive streams the caller's events as server-sent events. The stream
// opens with a hello event and carries a comment line every heartbeat
// interval. Opening a second stream for the same participant ends this one.
func (s *ArenaServer) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, protocol.Errorf(protocol.ReasonInternal, "streaming not supported"))
		return
	}

	id := participantFrom(r.Context())
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := s.Hub.Subscribe(id)
	defer s.Hub.Unsubscribe(sub)

	hello := protocol.NewEvent(protocol.EventHello, protocol.HelloNotice{
		ParticipantID: id,
		SessionID:     s.Games.SessionOf(id),
		Heartbeat:     s.cfg.HeartbeatInterval.String(),
	})
	if err := writeEvent(w, hello); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev protocol.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
