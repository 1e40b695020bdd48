// Package model defines the core domain types for the parking reservation system.
package model

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// ReservationDuration is how long a reservation holds a space.
const ReservationDuration = 2 * time.Hour

// ParkingSpace is a single numbered slot that a driver can reserve.
//
// ReservedBy and ReservationExpiry are valid exactly when IsOccupied is true.
type ParkingSpace struct {
	ID                string      `json:"id"`
	SpaceNumber       string      `json:"space_number"`
	IsOccupied        bool        `json:"is_occupied"`
	ReservedBy        null.String `json:"reserved_by"`
	ReservationExpiry null.Time   `json:"reservation_expiry"`
	HourlyRate        float64     `json:"hourly_rate"`
	Version           int64       `json:"-"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Occupy marks the space as held by userID until expiry.
func (s *ParkingSpace) Occupy(userID string, expiry time.Time) {
	s.IsOccupied = true
	s.ReservedBy = null.StringFrom(userID)
	s.ReservationExpiry = null.TimeFrom(expiry)
}

// Free clears all occupancy fields.
func (s *ParkingSpace) Free() {
	s.IsOccupied = false
	s.ReservedBy = null.String{}
	s.ReservationExpiry = null.Time{}
}

// Consistent reports whether the occupancy fields agree with IsOccupied.
func (s *ParkingSpace) Consistent() bool {
	if s.IsOccupied {
		return s.ReservedBy.Valid && s.ReservationExpiry.Valid
	}
	return !s.ReservedBy.Valid && !s.ReservationExpiry.Valid
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusCompleted ReservationStatus = "completed"
	StatusExpired   ReservationStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// CanTransition reports whether moving from s to next is a valid lifecycle step.
// Only active reservations move, and only to a terminal state.
func (s ReservationStatus) CanTransition(next ReservationStatus) bool {
	return s == StatusActive && next.Terminal()
}

// Reservation is a time-bounded claim by one user on one space. Reservations
// are never deleted; they form the occupancy audit trail.
type Reservation struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	SpaceID     string            `json:"space_id"`
	SpaceNumber string            `json:"space_number"`
	HourlyRate  float64           `json:"hourly_rate"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Status      ReservationStatus `json:"status"`
	Version     int64             `json:"-"`
}

// Overdue reports whether an active reservation has passed its end time at now.
func (r *Reservation) Overdue(now time.Time) bool {
	return r.Status == StatusActive && r.EndTime.Before(now)
}

// Role is the closed set of user roles.
type Role string

const (
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleDriver || r == RoleAdmin
}

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a signed-in session; it lives until sign-out or expiry.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role"`
	SessionID string `json:"-"`
}

// Occupancy is the admin dashboard headline figure.
type Occupancy struct {
	Occupied int `json:"occupied"`
	Total    int `json:"total"`
}

// Report summarises reservations over a trailing window.
type Report struct {
	Since            time.Time     `json:"since"`
	Total            int           `json:"total"`
	Completed        int           `json:"completed"`
	Expired          int           `json:"expired"`
	Active           int           `json:"active"`
	EstimatedRevenue float64       `json:"estimated_revenue"`
	Reservations     []Reservation `json:"reservations"`
}

// SweepResult is the outcome of one expiry sweep.
type SweepResult struct {
	Released int `json:"released"`
	Failed   int `json:"failed"`
}

// CreateSpaceRequest is the payload for creating a parking space.
type CreateSpaceRequest struct {
	SpaceNumber string  `json:"space_number" validate:"required,max=20"`
	HourlyRate  float64 `json:"hourly_rate" validate:"gt=0"`
}

// UpdateSpaceRequest is the payload for changing a space's rate.
type UpdateSpaceRequest struct {
	HourlyRate float64 `json:"hourly_rate" validate:"gt=0"`
}

// RegisterRequest is the payload for creating an account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     Role   `json:"role" validate:"required,oneof=driver admin"`
}

// LoginRequest is the payload for signing in.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned after a successful sign-in.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
