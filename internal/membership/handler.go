// internal/membership/handler.go
package membership

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the lifecycle endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/memberships", h.handleEnroll)
	r.Get("/memberships/{membershipID}", h.handleGet)
	r.Get("/members/{memberID}/membership", h.handleGetCurrent)
	r.Get("/memberships/{membershipID}/freezes", h.handleListFreezes)
	r.Post("/memberships/{membershipID}/freeze", h.handleFreeze)
	r.Post("/memberships/{membershipID}/unfreeze", h.handleUnfreeze)
	r.Post("/memberships/{membershipID}/renew", h.handleRenew)
	r.Post("/memberships/{membershipID}/cancel", h.handleCancel)
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID  uuid.UUID `json:"member_id"`
		PlanID    uuid.UUID `json:"plan_id"`
		StartDate time.Time `json:"start_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.StartDate.IsZero() {
		req.StartDate = time.Now()
	}

	result, err := h.service.Enroll(r.Context(), req.MemberID, req.PlanID, req.StartDate, actorFrom(r))
	if err != nil {
		writeRejection(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "membershipID"))
	if err != nil {
		http.Error(w, "invalid membership ID", http.StatusBadRequest)
		return
	}

	m, err := h.service.GetMembership(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(m)
}

func (h *Handler) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	memberID, err := uuid.Parse(chi.URLParam(r, "memberID"))
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}

	m, err := h.service.GetCurrentForMember(r.Context(), memberID)
	if err != nil {
		if errors.Is(err, ErrNoCurrentMembership) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(m)
}

func (h *Handler) handleListFreezes(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "membershipID"))
	if err != nil {
		http.Error(w, "invalid membership ID", http.StatusBadRequest)
		return
	}

	records, err := h.service.ListFreezes(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(records)
}

func (h *Handler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "membershipID"))
	if err != nil {
		http.Error(w, "invalid membership ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.service.Freeze(r.Context(), id, req.Reason, actorFrom(r))
	if err != nil {
		writeRejection(w, err)
		return
	}

	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "membershipID"))
	if err != nil {
		http.Error(w, "invalid membership ID", http.StatusBadRequest)
		return
	}

	result, err := h.service.Unfreeze(r.Context(), id, actorFrom(r))
	if err != nil {
		writeRejection(w, err)
		return
	}

	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "membershipID"))
	if err != nil {
		http.Error(w, "invalid membership ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Months int `json:"duration_months"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.Renew(r.Context(), id, req.Months, actorFrom(r))
	if err != nil {
		writeRejection(w, err)
		return
	}

	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "membershipID"))
	if err != nil {
		http.Error(w, "invalid membership ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.service.Cancel(r.Context(), id, req.Reason, actorFrom(r))
	if err != nil {
		writeRejection(w, err)
		return
	}

	json.NewEncoder(w).Encode(result)
}

// actorFrom extracts the opaque actor reference supplied by the
// caller. The engine never authenticates it.
func actorFrom(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

func writeRejection(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotActive),
		errors.Is(err, ErrNotFrozen),
		errors.Is(err, ErrFreezeNotAllowed),
		errors.Is(err, ErrFreezeQuotaExhausted),
		errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, ErrNotRenewable),
		errors.Is(err, ErrInvalidRenewal),
		errors.Is(err, ErrAlreadyEnrolled):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
