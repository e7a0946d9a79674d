package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/session"
	"github.com/soyeahso/concierge/internal/version"
)

const (
	eventReadLimit = 4096
	minPairingSize = 128
	maxPairingSize = 1024
)

// HealthResponse is returned by the public health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// SessionResponse describes one session and where to fetch its pairing image.
type SessionResponse struct {
	domain.SessionStatus
	Pairing      string `json:"pairing,omitempty"`
	PairingImage string `json:"pairingImage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version.Version})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

// sessionKey reads the {owner}/{channel} path parameters.
func sessionKey(w http.ResponseWriter, r *http.Request) (string, domain.ChannelKind, bool) {
	owner := chi.URLParam(r, "owner")
	kind, ok := domain.ParseChannelKind(chi.URLParam(r, "channel"))
	if owner == "" || !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return "", "", false
	}
	return owner, kind, true
}

func (s *Server) describe(owner string, kind domain.ChannelKind) SessionResponse {
	resp := SessionResponse{SessionStatus: s.sessions.Snapshot(owner, kind)}
	if artifact, ok := s.sessions.Pairing(owner, kind); ok {
		resp.Pairing = artifact
		resp.PairingImage = fmt.Sprintf("/v1/sessions/%s/%s/pairing.png", owner, kind)
	}
	return resp
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	owner, kind, ok := sessionKey(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.describe(owner, kind))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	owner, kind, ok := sessionKey(w, r)
	if !ok {
		return
	}
	_, err := s.sessions.Connect(r.Context(), owner, kind)
	switch {
	case errors.Is(err, session.ErrAlreadyInitializing):
		writeJSON(w, http.StatusAccepted, s.describe(owner, kind))
	case err != nil:
		s.log.Warn().Err(err).Str("owner", owner).Str("channel", string(kind)).Msg("connect failed")
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, s.describe(owner, kind))
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	owner, kind, ok := sessionKey(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), disconnectWait)
	defer cancel()
	if err := s.sessions.Disconnect(ctx, owner, kind); err != nil {
		s.log.Warn().Err(err).Str("owner", owner).Str("channel", string(kind)).Msg("disconnect failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.describe(owner, kind))
}

func (s *Server) handlePairingPNG(w http.ResponseWriter, r *http.Request) {
	owner, kind, ok := sessionKey(w, r)
	if !ok {
		return
	}
	artifact, ok := s.sessions.Pairing(owner, kind)
	if !ok {
		writeError(w, http.StatusNotFound, "no pairing pending")
		return
	}
	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minPairingSize || n > maxPairingSize {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("size must be between %d and %d", minPairingSize, maxPairingSize))
			return
		}
		size = n
	}
	png, err := session.PairingPNG(artifact, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	s.widgets.ServeWidget(w, r, chi.URLParam(r, "token"))
}

// handleEvents upgrades to a websocket that receives hook events, filtered
// to one owner when ?owner= is set.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(eventReadLimit)

	client := NewClient(conn, r.RemoteAddr, r.URL.Query().Get("owner"))
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	// Subscribers only listen; reads detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
