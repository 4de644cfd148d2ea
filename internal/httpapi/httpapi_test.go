package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

func newTestRouter(t *testing.T) (*hub.Hub, http.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := zaptest.NewLogger(t)
	h := hub.NewHub(ctx, nil, log)
	return h, SetupRoutes(h, nil, log)
}

func TestHealthz(t *testing.T) {
	_, r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionsEndpoints(t *testing.T) {
	h, r := newTestRouter(t)
	out := make(chan types.ServerMessage, 8)
	_, self, err := h.Open(context.Background(), types.OpenRequest{Mode: types.OpenCreate, Name: "HTP234", Capacity: 3}, out)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var list []types.SessionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "HTP234", list[0].Name)
	assert.True(t, list[0].Open)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/htp234", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view SessionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "HTP234", view.Name)
	assert.Equal(t, 1, view.PlayerCount)
	assert.Equal(t, []types.PeerID{self}, view.Peers)
	assert.Equal(t, self, view.Authority)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/NOPE22", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
