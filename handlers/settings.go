package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"groupwatch/api"
	"groupwatch/config"
	"groupwatch/services/requests"
	"groupwatch/services/sessions"
)

type SettingsHandler struct {
	Manager         *config.Manager
	RequestsService *requests.Service
	SessionsService *sessions.Service
	SubmitLimiter   *api.IPRateLimiter
}

func NewSettingsHandler(m *config.Manager) *SettingsHandler {
	return &SettingsHandler{Manager: m}
}

// SetRequestsService sets the requests service for hot reloading the link TTL
func (h *SettingsHandler) SetRequestsService(rs *requests.Service) {
	h.RequestsService = rs
}

// SetSessionsService sets the sessions service for hot reloading the session lifetime
func (h *SettingsHandler) SetSessionsService(ss *sessions.Service) {
	h.SessionsService = ss
}

// SetSubmitLimiter sets the rate limiter for hot reloading the public endpoint limits
func (h *SettingsHandler) SetSubmitLimiter(rl *api.IPRateLimiter) {
	h.SubmitLimiter = rl
}

// GetSettings handles GET /api/admin/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Manager.Get())
}

// PutSettings handles PUT /api/admin/settings
func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	old := h.Manager.Get()

	var s config.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Manager.Update(s); err != nil {
		if errors.Is(err, config.ErrInvalidSettings) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonError(w, "Failed to save settings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Hot reload services that cache tunables at startup
	h.reloadServices(old, s)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

// reloadServices pushes changed tunables into running services. The provider
// client is constructed once at startup, so endpoint changes need a restart.
func (h *SettingsHandler) reloadServices(old, s config.Settings) {
	if h.RequestsService != nil && s.OAuthLinkTTLMinutes != old.OAuthLinkTTLMinutes {
		h.RequestsService.SetLinkTTL(s.OAuthLinkTTL())
		log.Printf("[settings] oauth link ttl set to %s", s.OAuthLinkTTL())
	}

	if h.SessionsService != nil && s.SessionHours != old.SessionHours {
		h.SessionsService.SetDefaultDuration(s.SessionDuration())
		log.Printf("[settings] session lifetime set to %s", s.SessionDuration())
	}

	if h.SubmitLimiter != nil && (s.SubmitPerMinute != old.SubmitPerMinute || s.SubmitBurst != old.SubmitBurst) {
		h.SubmitLimiter.SetLimit(api.PerMinute(s.SubmitPerMinute), s.SubmitBurst)
		log.Printf("[settings] submit rate limit set to %d/min (burst %d)", s.SubmitPerMinute, s.SubmitBurst)
	}

	if s.ProviderBaseURL != old.ProviderBaseURL || s.ProviderOrigin != old.ProviderOrigin {
		log.Printf("[settings] provider endpoint changed, restart required to apply")
	}
}
