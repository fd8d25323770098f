// internal/scheduling/handler.go
package scheduling

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

// Routes mounts the session and reservation endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/reservations", h.handleListReservations)
	r.Post("/sessions/{sessionID}/reservations", h.handleBook)
	r.Get("/reservations/{reservationID}", h.handleGetReservation)
	r.Post("/reservations/{reservationID}/cancel", h.handleCancel)
	r.Post("/reservations/{reservationID}/attended", h.handleMarkAttended)
	r.Post("/reservations/{reservationID}/no-show", h.handleMarkNoShow)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string    `json:"title"`
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
		Capacity int       `json:"capacity"`
		Location string    `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := &Session{
		Title:    req.Title,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Capacity: req.Capacity,
		Location: req.Location,
	}
	if err := h.service.CreateSession(r.Context(), session, actorFrom(r)); err != nil {
		if errors.Is(err, ErrInvalidCapacity) || errors.Is(err, ErrInvalidTimeSlot) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListSessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(views)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	view, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(view)
}

func (h *Handler) handleListReservations(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	reservations, err := h.service.ListReservations(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(reservations)
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	var req struct {
		MemberID uuid.UUID `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.Book(r.Context(), sessionID, req.MemberID, actorFrom(r))
	if err != nil {
		writeRejection(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reservationID"))
	if err != nil {
		http.Error(w, "invalid reservation ID", http.StatusBadRequest)
		return
	}

	reservation, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(reservation)
}

// handleCancel dispatches on the reservation's current state: a
// confirmed reservation frees a spot and promotes the waitlist head, a
// waitlisted one simply withdraws.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reservationID"))
	if err != nil {
		http.Error(w, "invalid reservation ID", http.StatusBadRequest)
		return
	}

	reservation, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var result *Result
	if reservation.Status == ReservationWaitlisted {
		result, err = h.service.CancelWaitlisted(r.Context(), id, actorFrom(r))
	} else {
		result, err = h.service.Cancel(r.Context(), id, actorFrom(r))
	}
	if err != nil {
		writeRejection(w, err)
		return
	}
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleMarkAttended(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reservationID"))
	if err != nil {
		http.Error(w, "invalid reservation ID", http.StatusBadRequest)
		return
	}

	result, err := h.service.MarkAttended(r.Context(), id, actorFrom(r))
	if err != nil {
		writeRejection(w, err)
		return
	}
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleMarkNoShow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reservationID"))
	if err != nil {
		http.Error(w, "invalid reservation ID", http.StatusBadRequest)
		return
	}

	result, err := h.service.MarkNoShow(r.Context(), id, actorFrom(r))
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
	case errors.Is(err, ErrDuplicateReservation),
		errors.Is(err, ErrNotConfirmed),
		errors.Is(err, ErrNotWaitlisted),
		errors.Is(err, ErrMembershipNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
