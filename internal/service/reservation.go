package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/messaging"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

// Coordinator reserves and releases spaces.
type Coordinator struct {
	store    repository.ParkingStore
	sweeper  *Sweeper
	hooks    *Hooks
	duration time.Duration
}

// NewCoordinator constructs a Coordinator. A non-positive duration falls back
// to model.ReservationDuration.
func NewCoordinator(store repository.ParkingStore, sweeper *Sweeper, hooks *Hooks, duration time.Duration) *Coordinator {
	if duration <= 0 {
		duration = model.ReservationDuration
	}
	return &Coordinator{store: store, sweeper: sweeper, hooks: hooks, duration: duration}
}

// Reserve claims a free space for userID.
//
// The occupied check and both writes happen in one store transaction, so of
// any number of concurrent reserves on the same space exactly one commits;
// the others re-run against the winner's write and fail with
// ErrSpaceUnavailable. There is no retry beyond that: the driver picks
// another space.
func (c *Coordinator) Reserve(ctx context.Context, spaceID, userID string) (*model.Reservation, error) {
	spaceID, userID = strings.TrimSpace(spaceID), strings.TrimSpace(userID)
	if spaceID == "" {
		return nil, invalid("space_id", "is required")
	}
	if userID == "" {
		return nil, invalid("user_id", "is required")
	}
	if !wellFormedID(spaceID) {
		return nil, ErrSpaceNotFound
	}

	if c.sweeper != nil {
		if _, err := c.sweeper.SweepNow(ctx); err != nil {
			log.Printf("reserve: pre-sweep: %v", err)
		}
	}

	// Best-effort: the transaction below re-checks authoritatively.
	existing, err := c.ActiveReservation(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrActiveReservationExists
	}

	var (
		created *model.Reservation
		now     time.Time
	)
	err = c.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		space, err := tx.SpaceByID(ctx, spaceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSpaceNotFound
			}
			return fmt.Errorf("load space: %w", err)
		}
		if space.IsOccupied {
			return ErrSpaceUnavailable
		}

		if _, err := tx.ActiveReservationForUser(ctx, userID); err == nil {
			return ErrActiveReservationExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("check active reservation: %w", err)
		}

		now = tx.Now()
		end := now.Add(c.duration)

		space.Occupy(userID, end)
		if err := tx.SaveSpace(ctx, space); err != nil {
			return fmt.Errorf("occupy space: %w", err)
		}

		r := &model.Reservation{
			ID:          uuid.New().String(),
			UserID:      userID,
			SpaceID:     space.ID,
			SpaceNumber: space.SpaceNumber,
			HourlyRate:  space.HourlyRate,
			StartTime:   now,
			EndTime:     end,
			Status:      model.StatusActive,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		created = r
		return nil
	})
	if err != nil {
		// Still losing after every re-run means the space kept changing hands.
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrSpaceUnavailable
		}
		return nil, txError("reserve space", err)
	}

	c.hooks.reserved(ctx, *created, now)
	return created, nil
}

// Release completes the caller's active reservation and frees its space in
// one transaction. A reservation that was already completed or swept is
// rejected with ErrReservationNotActive and the space is left untouched.
func (c *Coordinator) Release(ctx context.Context, reservationID, userID string) (*model.Reservation, error) {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return nil, invalid("reservation_id", "is required")
	}
	if !wellFormedID(reservationID) {
		return nil, ErrReservationNotFound
	}

	var released *model.Reservation
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.ReservationByID(ctx, reservationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("load reservation: %w", err)
		}
		if r.UserID != userID {
			return ErrNotOwner
		}
		if !r.Status.CanTransition(model.StatusCompleted) {
			return ErrReservationNotActive
		}

		space, err := tx.SpaceByID(ctx, r.SpaceID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load space: %w", err)
		case space.IsOccupied && space.ReservedBy.String == r.UserID:
			space.Free()
			if err := tx.SaveSpace(ctx, space); err != nil {
				return fmt.Errorf("free space: %w", err)
			}
		}

		r.Status = model.StatusCompleted
		r.EndTime = tx.Now()
		if err := tx.SaveReservation(ctx, r); err != nil {
			return fmt.Errorf("complete reservation: %w", err)
		}
		released = r
		return nil
	})
	if err != nil {
		return nil, txError("release reservation", err)
	}

	c.hooks.ended(ctx, messaging.EventCompleted, *released)
	return released, nil
}

// ActiveReservation returns the user's active reservation, or nil when the
// user holds none.
func (c *Coordinator) ActiveReservation(ctx context.Context, userID string) (*model.Reservation, error) {
	r, err := c.store.ActiveReservationByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get active reservation", err)
	}
	return r, nil
}
