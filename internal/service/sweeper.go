package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/messaging"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

// errNoLongerDue marks a reservation that was completed, swept, or extended
// between the overdue query and its own transaction.
var errNoLongerDue = errors.New("reservation no longer due")

// Sweeper releases active reservations whose end time has passed.
type Sweeper struct {
	store repository.ParkingStore
	hooks *Hooks
}

// NewSweeper constructs a Sweeper.
func NewSweeper(store repository.ParkingStore, hooks *Hooks) *Sweeper {
	return &Sweeper{store: store, hooks: hooks}
}

// Sweep expires every active reservation with end time before now. Each one
// is released in its own transaction; a failure is logged and counted but
// does not stop the loop. Only the overdue query failing returns an error.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (model.SweepResult, error) {
	var result model.SweepResult

	overdue, err := s.store.OverdueReservations(ctx, now)
	if err != nil {
		return result, storeErr("list overdue reservations", err)
	}

	for _, r := range overdue {
		expired, err := s.expire(ctx, r.ID, now)
		switch {
		case errors.Is(err, errNoLongerDue):
		case err != nil:
			result.Failed++
			log.Printf("sweep: reservation %s: %v", r.ID, err)
		default:
			result.Released++
			s.hooks.ended(ctx, messaging.EventExpired, *expired)
		}
	}
	if result.Released > 0 || result.Failed > 0 {
		log.Printf("sweep: released %d, failed %d", result.Released, result.Failed)
	}
	return result, nil
}

func (s *Sweeper) expire(ctx context.Context, reservationID string, now time.Time) (*model.Reservation, error) {
	var expired *model.Reservation
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.ReservationByID(ctx, reservationID)
		if err != nil {
			return fmt.Errorf("load reservation: %w", err)
		}
		if !r.Overdue(now) {
			return errNoLongerDue
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

		r.Status = model.StatusExpired
		if err := tx.SaveReservation(ctx, r); err != nil {
			return fmt.Errorf("expire reservation: %w", err)
		}
		expired = r
		return nil
	})
	return expired, err
}

// SweepNow sweeps using the store's clock.
func (s *Sweeper) SweepNow(ctx context.Context) (model.SweepResult, error) {
	now, err := s.store.Now(ctx)
	if err != nil {
		return model.SweepResult{}, storeErr("read clock", err)
	}
	return s.Sweep(ctx, now)
}

// Schedule registers a periodic sweep on c using a standard cron spec or a
// descriptor such as "@every 5m".
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.SweepNow(ctx); err != nil {
			log.Printf("scheduled sweep: %v", err)
		}
	})
}
