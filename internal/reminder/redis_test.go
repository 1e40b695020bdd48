package reminder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// collector records every delivered reminder.
type collector struct {
	mu  sync.Mutex
	got []Reminder
}

func (c *collector) Notify(ctx context.Context, r Reminder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, r)
	return nil
}

func (c *collector) delivered() []Reminder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reminder(nil), c.got...)
}

func TestRedisSchedulerRescheduleReplaces(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	c := &collector{}
	s := NewRedisScheduler(rdb, c)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Schedule(ctx, Reminder{ReservationID: "r1", SpaceNumber: "A-01", At: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Schedule(ctx, Reminder{ReservationID: "r1", SpaceNumber: "B-02", At: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if n := rdb.ZCard(ctx, dueKey).Val(); n != 1 {
		t.Fatalf("due set holds %d entries, want 1", n)
	}

	n, err := s.deliverDue(ctx, now)
	if err != nil {
		t.Fatalf("deliverDue: %v", err)
	}
	got := c.delivered()
	if n != 1 || len(got) != 1 || got[0].SpaceNumber != "B-02" {
		t.Fatalf("delivered %d: %+v", n, got)
	}
	if rdb.ZCard(ctx, dueKey).Val() != 0 || rdb.HLen(ctx, payloadKey).Val() != 0 {
		t.Fatal("delivered reminder left behind in redis")
	}
}

func TestRedisSchedulerLeavesFutureReminders(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	c := &collector{}
	s := NewRedisScheduler(rdb, c)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = s.Schedule(ctx, Reminder{ReservationID: "due", At: now})
	_ = s.Schedule(ctx, Reminder{ReservationID: "later", At: now.Add(time.Millisecond)})

	if n, err := s.deliverDue(ctx, now); err != nil || n != 1 {
		t.Fatalf("deliverDue = %d, %v; want 1", n, err)
	}
	if got := c.delivered(); got[0].ReservationID != "due" {
		t.Fatalf("delivered %q", got[0].ReservationID)
	}
	if rdb.ZCard(ctx, dueKey).Val() != 1 {
		t.Fatal("future reminder should stay scheduled")
	}
}

func TestRedisSchedulerCancel(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	c := &collector{}
	s := NewRedisScheduler(rdb, c)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = s.Schedule(ctx, Reminder{ReservationID: "r1", At: now})
	if err := s.Cancel(ctx, "r1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := s.Cancel(ctx, "unknown"); err != nil {
		t.Fatalf("Cancel of unknown id: %v", err)
	}

	if n, err := s.deliverDue(ctx, now.Add(time.Hour)); err != nil || n != 0 {
		t.Fatalf("deliverDue = %d, %v; want 0", n, err)
	}
	if rdb.HLen(ctx, payloadKey).Val() != 0 {
		t.Fatal("payload not removed on cancel")
	}
}

func TestRedisSchedulersDeliverEachReminderOnce(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	c := &collector{}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	const total = 20
	seed := NewRedisScheduler(rdb, c)
	for i := 0; i < total; i++ {
		_ = seed.Schedule(ctx, Reminder{ReservationID: fmt.Sprintf("r%02d", i), At: now.Add(-time.Minute)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := NewRedisScheduler(rdb, c).deliverDue(ctx, now); err != nil {
				t.Errorf("deliverDue: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, r := range c.delivered() {
		seen[r.ReservationID]++
	}
	if len(seen) != total {
		t.Fatalf("delivered %d distinct reminders, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("reminder %s delivered %d times", id, n)
		}
	}
}
