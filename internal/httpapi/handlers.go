package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/lobby-sync/internal/hub"
	"github.com/DoyleJ11/lobby-sync/internal/session"
	"github.com/DoyleJ11/lobby-sync/internal/transport"
	"github.com/DoyleJ11/lobby-sync/internal/types"
)

// SessionView is the public shape of one live session.
type SessionView struct {
	types.SessionInfo
	Peers     []types.PeerID `json:"peers"`
	Authority types.PeerID   `json:"authority"`
	Marker    bool           `json:"marker"`
}

func ListSessions(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := h.List(r.Context())
		if err != nil {
			http.Error(w, "failed to list sessions", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func GetSession(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := session.NormalizeCode(chi.URLParam(r, "code"))
		v, err := h.Get(r.Context(), code)
		switch {
		case errors.Is(err, transport.ErrSessionNotFound):
			http.Error(w, "session not found", http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, "failed to read session", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, SessionView{
			SessionInfo: v.Info,
			Peers:       v.Peers,
			Authority:   v.Authority,
			Marker:      v.Marker,
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
