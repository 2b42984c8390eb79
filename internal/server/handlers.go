package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stridesync/stridesync/internal/fitbit"
	"github.com/stridesync/stridesync/internal/tracker"
)

type syncRequest struct {
	DistanceMiles *float64 `json:"distance_miles"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}

	rec, err := s.tracker.ManualSync(r.Context(), req.DistanceMiles)
	if err != nil {
		s.log.Error("manual sync failed", "error", err)
		writeJSON(w, syncErrorStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// syncErrorStatus maps the sync error taxonomy onto HTTP statuses.
func syncErrorStatus(err error) int {
	var (
		validation *tracker.ValidationError
		auth       *fitbit.AuthError
		request    *fitbit.RequestError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.Is(err, fitbit.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.As(err, &request):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.History())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tok := s.tokens.Current()

	resp := map[string]any{
		"session_active": s.tracker.SessionActive(),
		"authorized":     tok.Valid(),
	}
	if ts := s.tracker.LastSyncTime(); !ts.IsZero() {
		resp["last_sync_time"] = ts.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	s.mu.Lock()
	s.oauthState = state
	s.mu.Unlock()

	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	expected := s.oauthState
	s.oauthState = ""
	s.mu.Unlock()

	if state := r.URL.Query().Get("state"); expected == "" || state != expected {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state mismatch"})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code parameter required"})
		return
	}

	tok, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		s.log.Error("code exchange failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "code exchange failed"})
		return
	}

	if err := s.tokens.SetToken(fitbit.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}); err != nil {
		s.log.Error("failed to persist token", "error", err)
	}

	s.log.Info("authorization complete")
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers already sent; nothing recoverable.
		return
	}
}
