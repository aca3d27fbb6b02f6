package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/flashbots/inbox-arena/protocol"
)

type participantKey struct{}

// participantFrom returns the authenticated caller.
func participantFrom(ctx context.Context) string {
	id, _ := ctx.Value(participantKey{}).(string)
	return id
}

// credentialFrom reads the bearer token, falling back to ?token= for clients
// that cannot set headers on a stream.
func credentialFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authenticate resolves the caller and hands out a fresh credential when the
// presented one is close to expiry.
func (s *ArenaServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := credentialFrom(r)
		if token == "" {
			writeError(w, protocol.Errorf(protocol.ReasonUnauthorized, "missing bearer credential"))
			return
		}
		id, fresh, err := s.Registry.AuthenticateAndRefresh(token)
		if err != nil {
			writeError(w, err)
			return
		}
		if fresh != nil {
			w.Header().Set(HeaderToken, fresh.Token)
			w.Header().Set(HeaderTokenExpires, fresh.ExpiresAt.UTC().Format(time.RFC3339))
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), participantKey{}, id)))
	})
}
