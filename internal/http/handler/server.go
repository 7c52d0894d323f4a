// Package handler adapts HTTP requests to application service calls.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rezkam/flow7/internal/application/plan"
	"github.com/rezkam/flow7/internal/application/settings"
	"github.com/rezkam/flow7/internal/http/response"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Server holds the application services the HTTP handlers call into.
type Server struct {
	plans    *plan.Service
	settings *settings.Service
}

// NewServer creates the handler set.
func NewServer(plans *plan.Service, settings *settings.Service) *Server {
	return &Server{plans: plans, settings: settings}
}

// Routes mounts every API route on a fresh chi router. The caller wraps
// it with authentication.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/plans", func(r chi.Router) {
		r.Post("/", s.CreatePlan)
		r.Get("/", s.ListPlans)
		r.Get("/{planID}", s.GetPlan)
		r.Put("/{planID}", s.UpdatePlan)
		r.Delete("/{planID}", s.DeletePlan)
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/", s.GetSettings)
		r.Put("/timezone", s.SetTimezone)
		r.Put("/notifications", s.SetNotifications)
		r.Patch("/profile", s.UpdateProfile)
		r.Put("/subscription", s.SetSubscription)
	})

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.ListDevices)
		r.Post("/", s.RegisterDevice)
		r.Delete("/{token}", s.UnregisterDevice)
	})

	r.Get("/status", s.Status)

	return r
}

// Status implements GET /api/status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status":    "ok",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
