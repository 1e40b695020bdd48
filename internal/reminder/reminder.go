// Package reminder schedules the "your reservation is about to expire"
// warning that drivers receive shortly before a reservation ends.
package reminder

import (
	"context"
	"log"
	"time"
)

// Reminder is one pending expiry warning. ReservationID identifies it;
// scheduling the same id again replaces the earlier reminder.
type Reminder struct {
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	SpaceNumber   string    `json:"space_number"`
	EndTime       time.Time `json:"end_time"`
	At            time.Time `json:"at"`
}

// Scheduler stores reminders and hands them to a Notifier when due.
type Scheduler interface {
	Schedule(ctx context.Context, r Reminder) error
	Cancel(ctx context.Context, reservationID string) error
}

// Notifier delivers a due reminder to the driver.
type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r Reminder) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, r Reminder) error {
	return f(ctx, r)
}

// LogNotifier writes reminders to the standard logger.
type LogNotifier struct{}

// Notify logs the reminder.
func (LogNotifier) Notify(ctx context.Context, r Reminder) error {
	log.Printf("reminder: reservation %s on space %s for user %s ends at %s",
		r.ReservationID, r.SpaceNumber, r.UserID, r.EndTime.Format(time.RFC3339))
	return nil
}

// For builds the reminder for a reservation ending at end, lead before it.
// ok is false when that moment has already passed.
func For(reservationID, userID, spaceNumber string, end time.Time, lead time.Duration, now time.Time) (r Reminder, ok bool) {
	at := end.Add(-lead)
	if !at.After(now) {
		return Reminder{}, false
	}
	return Reminder{
		ReservationID: reservationID,
		UserID:        userID,
		SpaceNumber:   spaceNumber,
		EndTime:       end,
		At:            at,
	}, true
}
