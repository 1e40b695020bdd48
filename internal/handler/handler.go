// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/feed"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/service"
)

// Handler holds all HTTP handlers for the parking API.
type Handler struct {
	auth        *service.AuthService
	coordinator *service.Coordinator
	spaces      *service.SpaceService
	reports     *service.ReportService
	sweeper     *service.Sweeper
	hub         *feed.Hub

	// ctx bounds hijacked feed connections, which srv.Shutdown does not track.
	ctx context.Context
}

// Deps are the services the handlers call.
type Deps struct {
	Auth        *service.AuthService
	Coordinator *service.Coordinator
	Spaces      *service.SpaceService
	Reports     *service.ReportService
	Sweeper     *service.Sweeper
	Hub         *feed.Hub

	// Context is the server lifetime; feed connections close when it is done.
	Context context.Context
}

// New constructs a Handler.
func New(d Deps) *Handler {
	ctx := d.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handler{
		auth:        d.Auth,
		coordinator: d.Coordinator,
		spaces:      d.Spaces,
		reports:     d.Reports,
		sweeper:     d.Sweeper,
		hub:         d.Hub,
		ctx:         ctx,
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Store failures are logged and reported with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *service.ValidationError
		se *service.StoreError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, service.ErrSpaceNotFound),
		errors.Is(err, service.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSpaceUnavailable),
		errors.Is(err, service.ErrActiveReservationExists),
		errors.Is(err, service.ErrReservationNotActive),
		errors.Is(err, service.ErrSpaceOccupied),
		errors.Is(err, service.ErrDuplicateSpaceNumber),
		errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &se):
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "something went wrong, please try again")
	default:
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
