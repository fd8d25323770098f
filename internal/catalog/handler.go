// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the catalog endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/plans", h.handleAddPlan)
	r.Get("/plans", h.handleListPlans)
	r.Get("/plans/{planID}", h.handleGetPlan)
	r.Delete("/plans/{planID}", h.handleDeactivatePlan)
}

func (h *Handler) handleAddPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string `json:"name"`
		Description   string `json:"description"`
		PriceCents    int64  `json:"price_cents"`
		DurationDays  int    `json:"duration_days"`
		CanFreeze     bool   `json:"can_freeze"`
		MaxFreezeDays int    `json:"max_freeze_days"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	plan, err := h.service.AddPlan(r.Context(), Plan{
		Name:          req.Name,
		Description:   req.Description,
		PriceCents:    req.PriceCents,
		DurationDays:  req.DurationDays,
		CanFreeze:     req.CanFreeze,
		MaxFreezeDays: req.MaxFreezeDays,
	}, r.Header.Get("X-Actor"))
	if err != nil {
		if errors.Is(err, ErrInvalidDuration) || errors.Is(err, ErrInvalidPrice) || errors.Is(err, ErrInvalidFreeze) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(plan)
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	plans, err := h.service.ListPlans(r.Context(), includeInactive)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(plans)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		http.Error(w, "invalid plan ID", http.StatusBadRequest)
		return
	}

	plan, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(plan)
}

func (h *Handler) handleDeactivatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		http.Error(w, "invalid plan ID", http.StatusBadRequest)
		return
	}

	if err := h.service.DeactivatePlan(r.Context(), id, r.Header.Get("X-Actor")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
