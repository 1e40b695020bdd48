// Package repository declares the storage contracts the services depend on.
// Implementations live in the postgres and memory sub-packages.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique field (space number, email) is taken.
var ErrDuplicate = errors.New("duplicate entry")

// ErrConflict is returned when a transaction lost an optimistic race: a record
// it read was changed by another commit. RunInTx retries on it.
var ErrConflict = errors.New("transaction conflict")

// MaxTxAttempts bounds how many times RunInTx executes a TxFunc that keeps
// losing optimistic races.
const MaxTxAttempts = 5

// Tx is the read-modify-write view of the store inside one atomic transaction.
// Writes are conditional on the version of the record as it was read; if any
// record changed underneath, the commit fails with ErrConflict.
type Tx interface {
	// Now is the store's authoritative clock, fixed for the transaction.
	Now() time.Time

	SpaceByID(ctx context.Context, id string) (*model.ParkingSpace, error)
	SaveSpace(ctx context.Context, space *model.ParkingSpace) error
	DeleteSpace(ctx context.Context, space *model.ParkingSpace) error

	ReservationByID(ctx context.Context, id string) (*model.Reservation, error)
	// ActiveReservationForUser returns ErrNotFound when the user holds nothing.
	ActiveReservationForUser(ctx context.Context, userID string) (*model.Reservation, error)
	InsertReservation(ctx context.Context, r *model.Reservation) error
	SaveReservation(ctx context.Context, r *model.Reservation) error
}

// TxFunc is the body of a transaction. Returning an error aborts it; the
// error is returned from RunInTx unchanged unless it is ErrConflict.
type TxFunc func(ctx context.Context, tx Tx) error

// ParkingStore is the transactional document store for spaces and reservations.
type ParkingStore interface {
	// RunInTx executes fn atomically, re-executing it up to MaxTxAttempts
	// times when the commit loses an optimistic race.
	RunInTx(ctx context.Context, fn TxFunc) error
	Now(ctx context.Context) (time.Time, error)

	CreateSpace(ctx context.Context, space *model.ParkingSpace) error
	SpaceByID(ctx context.Context, id string) (*model.ParkingSpace, error)
	// ListSpaces returns all spaces ordered by space number.
	ListSpaces(ctx context.Context) ([]model.ParkingSpace, error)

	ActiveReservationByUser(ctx context.Context, userID string) (*model.Reservation, error)
	// OverdueReservations returns active reservations whose end time is before now.
	OverdueReservations(ctx context.Context, now time.Time) ([]model.Reservation, error)
	// ReservationsSince returns reservations started at or after since, newest first.
	ReservationsSince(ctx context.Context, since time.Time) ([]model.Reservation, error)

	// Watch calls fn after every committed change until ctx is done.
	Watch(ctx context.Context, fn func()) error
}

// UserStore persists accounts and sign-in sessions.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByID(ctx context.Context, id string) (*model.User, error)

	CreateSession(ctx context.Context, session *model.Session) error
	SessionByID(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
}
