package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/flashbots/inbox-arena/common"
	"github.com/flashbots/inbox-arena/game"
	"github.com/flashbots/inbox-arena/mailbox"
	"github.com/flashbots/inbox-arena/metrics"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/go-chi/chi/v5"
)

func (s *ArenaServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		Version:        common.Version,
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Participants:   len(s.Registry.List()),
		Messages:       s.Mailbox.Count(),
		Connected:      len(s.Hub.ConnectedIDs()),
		QueueLength:    s.Queue.Status().Length,
		ActiveSessions: s.Games.ActiveCount(),
	})
}

func (s *ArenaServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Games.Config())
}

func (s *ArenaServer) handleModerator(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModeratorResponse{ParticipantID: protocol.ModeratorID, PublicKey: s.moderator})
}

// Participants

func (s *ArenaServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var signed protocol.Signed[protocol.Registration]
	if err := decode(w, r, &signed); err != nil {
		writeError(w, err)
		return
	}
	cred, err := s.Registry.Register(&signed)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.IncRegistrations()
	writeJSON(w, http.StatusOK, cred)
}

func (s *ArenaServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := credentialFrom(r)
	if token == "" {
		writeError(w, protocol.Errorf(protocol.ReasonUnauthorized, "missing bearer credential"))
		return
	}
	cred, err := s.Registry.Refresh(token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (s *ArenaServer) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Registry.Get(participantFrom(r.Context()))
	if !ok {
		writeError(w, protocol.Errorf(protocol.ReasonUnauthorized, "participant no longer registered"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *ArenaServer) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"participants": s.Registry.List()})
}

// Messages

func (s *ArenaServer) message(from string, req SendRequest) *protocol.Message {
	return &protocol.Message{
		ID:        req.ID,
		SessionID: s.Games.SessionOf(from),
		From:      from,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		Artifact:  req.Artifact,
	}
}

func (s *ArenaServer) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.Mailbox.Send(s.message(participantFrom(r.Context()), req))
	if err != nil {
		writeError(w, err)
		return
	}
	if !receipt.Duplicate {
		metrics.IncMessagesSent()
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *ArenaServer) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Messages) == 0 || len(req.Messages) > MaxBatchSize {
		writeError(w, protocol.Errorf(protocol.ReasonInvalidRequest, "a batch holds 1 to %d messages", MaxBatchSize))
		return
	}

	from := participantFrom(r.Context())
	msgs := make([]*protocol.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = s.message(from, m)
	}

	results := s.Mailbox.SendBatch(msgs)
	resp := BatchResponse{Results: make([]BatchItem, len(results))}
	for i, res := range results {
		if res.Receipt != nil && !res.Receipt.Duplicate {
			metrics.IncMessagesSent()
		}
		resp.Results[i] = BatchItem(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *ArenaServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := mailbox.Filter{
		Direction:     mailbox.Direction(q.Get("direction")),
		Correspondent: q.Get("correspondent"),
		State:         protocol.DeliveryState(q.Get("state")),
		Limit:         maxListLimit,
		MarkDelivered: q.Get("peek") != "true",
	}
	switch f.Direction {
	case "", mailbox.Inbox, mailbox.Sent, mailbox.All:
	default:
		writeError(w, protocol.Errorf(protocol.ReasonInvalidRequest, "direction must be inbox, sent or all"))
		return
	}
	if f.State != "" && !f.State.Valid() {
		writeError(w, protocol.Errorf(protocol.ReasonInvalidRequest, "unknown state %q", f.State))
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, protocol.Errorf(protocol.ReasonInvalidRequest, "since must be a sequence number"))
			return
		}
		f.SinceSeq = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, protocol.Errorf(protocol.ReasonInvalidRequest, "limit must be a positive integer"))
			return
		}
		f.Limit = min(limit, maxListLimit)
	}

	msgs := s.Mailbox.List(participantFrom(r.Context()), f)
	writeJSON(w, http.StatusOK, MessageList{Messages: msgs, Count: len(msgs)})
}

func (s *ArenaServer) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.Mailbox.Get(participantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *ArenaServer) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	msg, err := s.Mailbox.MarkDelivered(participantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *ArenaServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	msg, err := s.Mailbox.MarkRead(participantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Queue

func (s *ArenaServer) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	id := participantFrom(r.Context())
	if err := s.Queue.Enqueue(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{Status: s.Queue.Status(), SessionID: s.Games.SessionOf(id)})
}

func (s *ArenaServer) handleQueueLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.Queue.Dequeue(participantFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{Status: s.Queue.Status()})
}

func (s *ArenaServer) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, QueueResponse{Status: s.Queue.Status()})
}

// Sessions

func (s *ArenaServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Games.Submit(protocol.Submission{
		Requester: participantFrom(r.Context()),
		Signer:    req.Signer,
		Digest:    req.Digest,
		Signature: req.Signature,
		Round:     req.Round,
		MessageID: req.MessageID,
	})
	if err != nil {
		writeJSON(w, StatusFor(res.Reason), SubmitResponse{SubmissionResult: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{SubmissionResult: res})
}

func (s *ArenaServer) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.Games.CurrentView(participantFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *ArenaServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.Games.List()})
}

// handleGetSession answers for running sessions and falls back to the archive.
func (s *ArenaServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sum, err := s.Games.Summary(id)
	if err == nil {
		writeJSON(w, http.StatusOK, sum)
		return
	}
	rec, err := s.Games.Archive().Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game.Summary{
		SessionID:   rec.SessionID,
		Status:      rec.Status,
		Members:     rec.Members,
		Round:       len(rec.Rounds),
		TotalRounds: rec.Config.Rounds,
		Scores:      rec.FinalScores,
		CreatedAt:   rec.CreatedAt,
	})
}

func (s *ArenaServer) handleListArchive(w http.ResponseWriter, r *http.Request) {
	list, err := s.Games.Archive().List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *ArenaServer) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Games.Archive().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Admin

// handleReset empties the arena. Queue first, so aborting sessions cannot
// admit a new cohort.
func (s *ArenaServer) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	s.Queue.Reset()
	if err := s.Games.Reset(ctx); err != nil && !errors.Is(err, context.Canceled) {
		writeError(w, err)
		return
	}
	s.Queue.Reset()
	s.Hub.CloseAll()
	s.Mailbox.Reset()
	s.Registry.Reset()

	s.log.Warn("arena reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
