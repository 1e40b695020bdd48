package reminder

import (
	"context"
	"log"
	"sync"
	"time"
)

// MemoryScheduler keeps one timer per reminder. Pending reminders are lost on
// restart; use RedisScheduler when that matters.
type MemoryScheduler struct {
	notifier Notifier

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewMemoryScheduler returns a scheduler delivering to n.
func NewMemoryScheduler(n Notifier) *MemoryScheduler {
	return &MemoryScheduler{notifier: n, timers: make(map[string]*time.Timer)}
}

// Schedule arms a timer for r.At, replacing any reminder with the same id.
func (m *MemoryScheduler) Schedule(ctx context.Context, r Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[r.ReservationID]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(time.Until(r.At), func() {
		m.mu.Lock()
		current := m.timers[r.ReservationID] == timer
		if current {
			delete(m.timers, r.ReservationID)
		}
		m.mu.Unlock()
		if !current {
			return
		}
		if err := m.notifier.Notify(context.Background(), r); err != nil {
			log.Printf("reminder %s: notify: %v", r.ReservationID, err)
		}
	})
	m.timers[r.ReservationID] = timer
	return nil
}

// Cancel stops the reminder; cancelling an unknown id is not an error.
func (m *MemoryScheduler) Cancel(ctx context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[reservationID]; ok {
		t.Stop()
		delete(m.timers, reservationID)
	}
	return nil
}

// Pending returns how many reminders are armed.
func (m *MemoryScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels every pending reminder.
func (m *MemoryScheduler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
