// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
//
// Every space-occupancy mutation runs inside the store's transaction
// primitive; the services hold no in-process locks.
package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/messaging"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/reminder"
)

// Hooks carries the side effects of reservation lifecycle transitions. A nil
// *Hooks or nil field disables that effect. Failures are logged and never
// fail the transition that triggered them.
type Hooks struct {
	Reminders    reminder.Scheduler
	Events       messaging.Publisher
	ReminderLead time.Duration
}

func (h *Hooks) reserved(ctx context.Context, r model.Reservation, now time.Time) {
	if h == nil {
		return
	}
	if h.Reminders != nil {
		if rem, ok := reminder.For(r.ID, r.UserID, r.SpaceNumber, r.EndTime, h.ReminderLead, now); ok {
			if err := h.Reminders.Schedule(ctx, rem); err != nil {
				log.Printf("reservation %s: schedule reminder: %v", r.ID, err)
			}
		}
	}
	h.publish(ctx, messaging.EventCreated, r)
}

func (h *Hooks) ended(ctx context.Context, eventType string, r model.Reservation) {
	if h == nil {
		return
	}
	if h.Reminders != nil {
		if err := h.Reminders.Cancel(ctx, r.ID); err != nil {
			log.Printf("reservation %s: cancel reminder: %v", r.ID, err)
		}
	}
	h.publish(ctx, eventType, r)
}

func (h *Hooks) publish(ctx context.Context, eventType string, r model.Reservation) {
	if h.Events == nil {
		return
	}
	if err := h.Events.Publish(ctx, reservationEvent(eventType, r)); err != nil {
		log.Printf("reservation %s: publish %s: %v", r.ID, eventType, err)
	}
}

func reservationEvent(eventType string, r model.Reservation) messaging.Event {
	return messaging.Event{
		Type:          eventType,
		ReservationID: r.ID,
		UserID:        r.UserID,
		SpaceID:       r.SpaceID,
		SpaceNumber:   r.SpaceNumber,
		EndTime:       r.EndTime,
	}
}

// ExpiryNotifier publishes due reminders as reservation.expiring events.
func ExpiryNotifier(events messaging.Publisher) reminder.Notifier {
	return reminder.NotifierFunc(func(ctx context.Context, r reminder.Reminder) error {
		return events.Publish(ctx, messaging.Event{
			Type:          messaging.EventExpiring,
			ReservationID: r.ReservationID,
			UserID:        r.UserID,
			SpaceNumber:   r.SpaceNumber,
			EndTime:       r.EndTime,
		})
	})
}

// txError maps what RunInTx returned onto the service error taxonomy.
// Domain sentinels and validation errors pass through; anything else is a
// store failure.
func txError(op string, err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return err
	case isDomainError(err):
		return err
	default:
		return storeErr(op, err)
	}
}

var domainErrors = []error{
	ErrSpaceUnavailable,
	ErrSpaceNotFound,
	ErrReservationNotFound,
	ErrActiveReservationExists,
	ErrReservationNotActive,
	ErrNotOwner,
	ErrSpaceOccupied,
	ErrDuplicateSpaceNumber,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// wellFormedID reports whether id could name a stored space or reservation.
// Record ids are UUIDs; anything else cannot exist in any store.
func wellFormedID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
