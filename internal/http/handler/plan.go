package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rezkam/flow7/internal/domain"
	"github.com/rezkam/flow7/internal/http/middleware"
	"github.com/rezkam/flow7/internal/http/response"
)

// PlanRequest is the body of plan create and update calls.
type PlanRequest struct {
	Date        string  `json:"date"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
}

func (req PlanRequest) toDraft() (domain.PlanDraft, error) {
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return domain.PlanDraft{}, err
	}
	start, err := domain.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return domain.PlanDraft{}, err
	}
	draft := domain.PlanDraft{
		Date:        date,
		StartTime:   start,
		Title:       req.Title,
		Description: req.Description,
	}
	if req.EndTime != nil && *req.EndTime != "" {
		end, err := domain.ParseTimeOfDay(*req.EndTime)
		if err != nil {
			return domain.PlanDraft{}, err
		}
		draft.EndTime = &end
	}
	return draft, nil
}

// CreatePlan implements POST /api/plans.
func (s *Server) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	draft, err := req.toDraft()
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	created, err := s.plans.Create(r.Context(), middleware.UID(r.Context()), draft)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Created(w, MapPlanToDTO(created))
}

// GetPlan implements GET /api/plans/{planID}.
func (s *Server) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.plans.Get(r.Context(), middleware.UID(r.Context()), chi.URLParam(r, "planID"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapPlanToDTO(p))
}

// ListPlans implements GET /api/plans?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (s *Server) ListPlans(w http.ResponseWriter, r *http.Request) {
	from, err := domain.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		response.ValidationError(w, "from", "must be YYYY-MM-DD")
		return
	}
	to, err := domain.ParseDate(r.URL.Query().Get("to"))
	if err != nil {
		response.ValidationError(w, "to", "must be YYYY-MM-DD")
		return
	}

	plans, err := s.plans.ListByRange(r.Context(), middleware.UID(r.Context()), from, to)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"plans": MapPlansToDTO(plans)})
}

// UpdatePlan implements PUT /api/plans/{planID}. The force query
// parameter deletes colliding plans instead of rejecting the update.
func (s *Server) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	draft, err := req.toDraft()
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"

	updated, err := s.plans.Update(r.Context(), middleware.UID(r.Context()), chi.URLParam(r, "planID"), draft, force)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, MapPlanToDTO(updated))
}

// DeletePlan implements DELETE /api/plans/{planID}.
func (s *Server) DeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.plans.Delete(r.Context(), middleware.UID(r.Context()), chi.URLParam(r, "planID")); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}
