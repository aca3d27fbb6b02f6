package services

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flashbots/inbox-arena/protocol"
)

const maxBodyBytes = 1 << 20

// StatusFor maps a reason code to its HTTP status.
func StatusFor(reason protocol.Reason) int {
	switch reason {
	case protocol.ReasonUnauthorized:
		return http.StatusUnauthorized
	case protocol.ReasonExpired, protocol.ReasonForbidden, protocol.ReasonUnauthorizedSubmission:
		return http.StatusForbidden
	case protocol.ReasonNotFound, protocol.ReasonUnknownRecipient:
		return http.StatusNotFound
	case protocol.ReasonConflict, protocol.ReasonAlreadyQueued, protocol.ReasonAlreadyInSession,
		protocol.ReasonNotQueued, protocol.ReasonDuplicate, protocol.ReasonNotInSession:
		return http.StatusConflict
	case protocol.ReasonRoundClosed:
		return http.StatusGone
	case protocol.ReasonInvalidSignature, protocol.ReasonDigestMismatch:
		return http.StatusUnprocessableEntity
	case protocol.ReasonInternal:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	reason := protocol.ReasonOf(err)
	msg := err.Error()
	var e *protocol.Error
	if errors.As(err, &e) && e.Msg != "" {
		msg = e.Msg
	}
	writeJSON(w, StatusFor(reason), ErrorResponse{Error: msg, Reason: reason})
}

// decode reads a JSON body. Malformed input is INVALID_REQUEST.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return protocol.Errorf(protocol.ReasonInvalidRequest, "malformed request body: %v", err)
	}
	return nil
}
