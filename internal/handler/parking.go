package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
)

// ─── Driver endpoints ─────────────────────────────────────────────────────────

// ListSpaces handles GET /spaces
func (h *Handler) ListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := h.spaces.ListSpaces(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if spaces == nil {
		spaces = []model.ParkingSpace{}
	}
	writeJSON(w, http.StatusOK, spaces)
}

// ActiveReservation handles GET /reservations/active
// Responds 204 when the driver holds no space.
func (h *Handler) ActiveReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.coordinator.ActiveReservation(r.Context(), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reserve handles POST /spaces/{id}/reserve
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	res, err := h.coordinator.Reserve(r.Context(), chi.URLParam(r, "id"), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Release handles POST /reservations/{id}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	res, err := h.coordinator.Release(r.Context(), chi.URLParam(r, "id"), principal(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Admin endpoints ──────────────────────────────────────────────────────────

// CreateSpace handles POST /admin/spaces
func (h *Handler) CreateSpace(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSpaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	space, err := h.spaces.CreateSpace(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, space)
}

// UpdateSpace handles PUT /admin/spaces/{id}
// Only the hourly rate can change.
func (h *Handler) UpdateSpace(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateSpaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	space, err := h.spaces.UpdateSpaceRate(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, space)
}

// DeleteSpace handles DELETE /admin/spaces/{id}
func (h *Handler) DeleteSpace(w http.ResponseWriter, r *http.Request) {
	if err := h.spaces.DeleteSpace(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Dashboard handles GET /admin/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	occ, err := h.reports.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

// Report handles GET /admin/report
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.ReportNow(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Sweep handles POST /admin/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.SweepNow(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
