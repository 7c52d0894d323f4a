package handler

import (
	"time"

	"github.com/rezkam/flow7/internal/domain"
)

// PlanDTO is the wire shape of a plan. Civil values stay strings;
// instants are RFC 3339 UTC.
type PlanDTO struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Notified    bool    `json:"notified"`
	NotifyAt    *string `json:"notify_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// MapPlanToDTO converts a domain plan to its wire shape.
func MapPlanToDTO(p *domain.Plan) PlanDTO {
	dto := PlanDTO{
		ID:          p.ID,
		Date:        p.Date.String(),
		StartTime:   p.StartTime.String(),
		Title:       p.Title,
		Description: p.Description,
		Notified:    p.Notified,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
	if p.EndTime != nil {
		end := p.EndTime.String()
		dto.EndTime = &end
	}
	if p.NotifyAt != nil {
		at := p.NotifyAt.Format(time.RFC3339)
		dto.NotifyAt = &at
	}
	return dto
}

// MapPlansToDTO converts a slice of plans.
func MapPlansToDTO(plans []*domain.Plan) []PlanDTO {
	dtos := make([]PlanDTO, 0, len(plans))
	for _, p := range plans {
		dtos = append(dtos, MapPlanToDTO(p))
	}
	return dtos
}

// SettingsDTO is the wire shape of user settings.
type SettingsDTO struct {
	Language             string  `json:"language"`
	Theme                string  `json:"theme"`
	Country              string  `json:"country,omitempty"`
	City                 string  `json:"city,omitempty"`
	Timezone             string  `json:"timezone"`
	SessionTimezone      *string `json:"session_timezone,omitempty"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	Subscription         string  `json:"subscription"`
	SubscriptionExpires  *string `json:"subscription_expires,omitempty"`
}

// MapSettingsToDTO converts domain settings to their wire shape.
func MapSettingsToDTO(u *domain.UserSettings) SettingsDTO {
	dto := SettingsDTO{
		Language:             u.Language,
		Theme:                u.Theme,
		Country:              u.Country,
		City:                 u.City,
		Timezone:             u.Timezone,
		SessionTimezone:      u.SessionTimezone,
		NotificationsEnabled: u.NotificationsEnabled,
		Subscription:         string(u.Subscription),
	}
	if u.SubscriptionExpires != nil {
		exp := u.SubscriptionExpires.Format(time.RFC3339)
		dto.SubscriptionExpires = &exp
	}
	return dto
}

// DeviceDTO is the wire shape of a registered device endpoint.
type DeviceDTO struct {
	Token     string `json:"token"`
	Provider  string `json:"provider"`
	CreatedAt string `json:"created_at"`
}

// MapDevicesToDTO converts a slice of device endpoints.
func MapDevicesToDTO(devices []*domain.DeviceEndpoint) []DeviceDTO {
	dtos := make([]DeviceDTO, 0, len(devices))
	for _, d := range devices {
		dtos = append(dtos, DeviceDTO{
			Token:     d.Token,
			Provider:  d.Provider,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
		})
	}
	return dtos
}
