package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rezkam/flow7/internal/application/settings"
	"github.com/rezkam/flow7/internal/http/middleware"
	"github.com/rezkam/flow7/internal/http/response"
)

// GetSettings implements GET /api/settings.
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	u, err := s.settings.Ensure(r.Context(), middleware.UID(r.Context()))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapSettingsToDTO(u))
}

// SetTimezone implements PUT /api/settings/timezone. Persistent updates
// replace the stored zone; session updates expire after ttl_hours.
func (s *Server) SetTimezone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timezone   string `json:"timezone"`
		Persistent bool   `json:"persistent"`
		TTLHours   int    `json:"ttl_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	err := s.settings.SetTimezone(r.Context(), middleware.UID(r.Context()), req.Timezone, req.Persistent, req.TTLHours)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

// SetNotifications implements PUT /api/settings/notifications.
func (s *Server) SetNotifications(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	if err := s.settings.SetNotificationsEnabled(r.Context(), middleware.UID(r.Context()), req.Enabled); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

// UpdateProfile implements PATCH /api/settings/profile. Absent fields
// stay untouched.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language *string `json:"language"`
		Theme    *string `json:"theme"`
		Country  *string `json:"country"`
		City     *string `json:"city"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	u, err := s.settings.UpdateProfile(r.Context(), middleware.UID(r.Context()), settings.ProfileUpdate{
		Language: req.Language,
		Theme:    req.Theme,
		Country:  req.Country,
		City:     req.City,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapSettingsToDTO(u))
}

// SetSubscription implements PUT /api/settings/subscription.
func (s *Server) SetSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level     string     `json:"level"`
		ExpiresAt *time.Time `json:"expires_at"`
		Score     *int       `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	u, err := s.settings.SetSubscription(r.Context(), middleware.UID(r.Context()), req.Level, req.ExpiresAt, req.Score)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapSettingsToDTO(u))
}

// RegisterDevice implements POST /api/devices.
func (s *Server) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	if err := s.settings.RegisterDevice(r.Context(), middleware.UID(r.Context()), req.Token, req.Provider); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

// UnregisterDevice implements DELETE /api/devices/{token}.
func (s *Server) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.UnregisterDevice(r.Context(), middleware.UID(r.Context()), chi.URLParam(r, "token")); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

// ListDevices implements GET /api/devices.
func (s *Server) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.settings.ListDevices(r.Context(), middleware.UID(r.Context()))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"devices": MapDevicesToDTO(devices)})
}
