package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// ErrNotConnected is returned when publishing without a live connection.
var ErrNotConnected = errors.New("no connection to RabbitMQ")

// RabbitMQConfig configures the broker connection.
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RetryCount int
	RetryDelay time.Duration
}

// RabbitMQ holds one connection and channel and declares the topic exchange.
type RabbitMQ struct {
	cfg RabbitMQConfig

	mu        sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	isClosing bool
	done      chan struct{}
}

// maxReconnectDelay caps the backoff between reconnect rounds.
const maxReconnectDelay = time.Minute

// NewRabbitMQ returns an unconnected client; call Connect before publishing.
func NewRabbitMQ(cfg RabbitMQConfig) *RabbitMQ {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &RabbitMQ{cfg: cfg, done: make(chan struct{})}
}

// Connect dials the broker with retries and declares a durable topic exchange.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosing {
		return fmt.Errorf("connect to rabbitmq: client closed: %w", ErrNotConnected)
	}

	var err error
	for attempt := 1; attempt <= r.cfg.RetryCount; attempt++ {
		if err = r.dialLocked(); err == nil {
			log.Printf("connected to RabbitMQ, exchange %q", r.cfg.Exchange)
			go r.watchClose()
			return nil
		}
		log.Printf("rabbitmq connect attempt %d/%d failed: %v", attempt, r.cfg.RetryCount, err)
		if attempt == r.cfg.RetryCount {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryDelay):
		}
	}
	return fmt.Errorf("connect to rabbitmq: %w", err)
}

func (r *RabbitMQ) dialLocked() error {
	conn, err := amqp.Dial(r.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		r.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	r.conn, r.channel = conn, ch
	return nil
}

// watchClose reconnects when the broker drops the connection.
func (r *RabbitMQ) watchClose() {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	amqpErr, ok := <-closed
	if !ok || r.closing() {
		return
	}
	log.Printf("rabbitmq connection lost: %v; reconnecting", amqpErr)
	r.reconnect()
}

// reconnect runs Connect rounds with exponential backoff until one succeeds
// or Close is called. It reports whether the client is connected again.
func (r *RabbitMQ) reconnect() bool {
	for round := 0; !r.closing(); round++ {
		err := r.Connect(context.Background())
		if err == nil {
			return true
		}
		delay := reconnectDelay(r.cfg.RetryDelay, round)
		log.Printf("rabbitmq reconnect failed: %v; next round in %s", err, delay)
		select {
		case <-r.done:
			return false
		case <-time.After(delay):
		}
	}
	return false
}

func reconnectDelay(base time.Duration, round int) time.Duration {
	d := base
	for i := 0; i < round && d < maxReconnectDelay; i++ {
		d *= 2
	}
	return min(d, maxReconnectDelay)
}

func (r *RabbitMQ) closing() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isClosing
}

// IsConnected reports whether the connection is open.
func (r *RabbitMQ) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

// Publish sends the event as a persistent JSON message.
func (r *RabbitMQ) Publish(ctx context.Context, event Event) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}
	event.stamp()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	r.mu.RLock()
	ch := r.channel
	r.mu.RUnlock()

	err = ch.Publish(
		r.cfg.Exchange,
		event.RoutingKey(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Headers: amqp.Table{
				"reservation_id": event.ReservationID,
				"user_id":        event.UserID,
				"event_type":     event.Type,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.RoutingKey(), err)
	}
	return nil
}

// Close closes the channel and connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosing {
		return nil
	}
	r.isClosing = true
	close(r.done)

	var errs []error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
