package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestBaseServer_RoutesAndReadiness(t *testing.T) {
	srv, err := New(&HTTPServerConfig{ListenAddr: "127.0.0.1:0"}, pingRoutes{})
	require.NoError(t, err)
	h := srv.Handler()

	require.Equal(t, "pong", get(t, h, "/ping").Body.String())
	require.Equal(t, http.StatusOK, get(t, h, "/livez").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	require.Contains(t, get(t, h, "/drain").Body.String(), "draining")
	require.False(t, srv.IsReady())
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	require.Contains(t, get(t, h, "/drain").Body.String(), "already draining")

	require.Contains(t, get(t, h, "/undrain").Body.String(), "ready")
	require.True(t, srv.IsReady())
	require.JSONEq(t, `{"status":"already ready"}`, get(t, h, "/undrain").Body.String())
	require.Equal(t, http.StatusOK, get(t, h, "/livez").Code)
}

func TestBaseServer_PprofOnlyWhenEnabled(t *testing.T) {
	srv, err := New(&HTTPServerConfig{}, pingRoutes{})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/debug/pprof/").Code)

	srv, err = New(&HTTPServerConfig{EnablePprof: true}, pingRoutes{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, get(t, srv.Handler(), "/debug/pprof/").Code)
}
