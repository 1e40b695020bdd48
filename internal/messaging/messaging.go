// Package messaging publishes reservation lifecycle events to a RabbitMQ topic
// exchange. Consumers bind on "reservation.*".
package messaging

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event types, also used as the routing key suffix.
const (
	EventCreated   = "created"
	EventCompleted = "completed"
	EventExpired   = "expired"
	EventExpiring  = "expiring"
)

// Event is the JSON body of a lifecycle message.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	SpaceID       string    `json:"space_id,omitempty"`
	SpaceNumber   string    `json:"space_number"`
	EndTime       time.Time `json:"end_time"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RoutingKey is "reservation.<type>".
func (e Event) RoutingKey() string {
	return "reservation." + e.Type
}

// stamp fills in the message id and timestamp when the caller left them empty.
func (e *Event) stamp() {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the standard logger. It is used when no
// broker is configured.
type LogPublisher struct{}

// Publish logs the event.
func (LogPublisher) Publish(ctx context.Context, event Event) error {
	event.stamp()
	log.Printf("event %s: reservation=%s user=%s space=%s",
		event.RoutingKey(), event.ReservationID, event.UserID, event.SpaceNumber)
	return nil
}
