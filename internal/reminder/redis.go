package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	dueKey     = "parking:reminders:due"
	payloadKey = "parking:reminders:payload"
	batchSize  = 50
)

// NewRedisClient builds a client from either a redis:// URL or a bare
// host:port address.
func NewRedisClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, DB: 0}), nil
}

// RedisScheduler keeps reminders in a sorted set scored by due time, so they
// survive restarts and are shared between instances. Whichever poller removes
// a due entry from the set delivers it.
type RedisScheduler struct {
	rdb      *redis.Client
	notifier Notifier
}

// NewRedisScheduler returns a scheduler over rdb delivering to n.
func NewRedisScheduler(rdb *redis.Client, n Notifier) *RedisScheduler {
	return &RedisScheduler{rdb: rdb, notifier: n}
}

// Schedule stores r, replacing any reminder with the same id.
func (s *RedisScheduler) Schedule(ctx context.Context, r Reminder) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, payloadKey, r.ReservationID, body)
		pipe.ZAdd(ctx, dueKey, &redis.Z{Score: score(r.At), Member: r.ReservationID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	return nil
}

// Cancel removes the reminder; cancelling an unknown id is not an error.
func (s *RedisScheduler) Cancel(ctx context.Context, reservationID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, dueKey, reservationID)
		pipe.HDel(ctx, payloadKey, reservationID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	return nil
}

// Run polls for due reminders every interval until ctx is done.
func (s *RedisScheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := s.deliverDue(ctx, now); err != nil {
				log.Printf("reminder poll: %v", err)
			} else if n > 0 {
				log.Printf("reminder poll: delivered %d", n)
			}
		}
	}
}

// deliverDue claims and delivers every reminder due at now.
func (s *RedisScheduler) deliverDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(score(now), 'f', -1, 64),
		Count: batchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	delivered := 0
	for _, id := range ids {
		removed, err := s.rdb.ZRem(ctx, dueKey, id).Result()
		if err != nil {
			log.Printf("reminder %s: claim: %v", id, err)
			continue
		}
		if removed == 0 {
			// Another instance claimed it.
			continue
		}
		body, err := s.rdb.HGet(ctx, payloadKey, id).Bytes()
		if err != nil {
			log.Printf("reminder %s: load payload: %v", id, err)
			continue
		}
		s.rdb.HDel(ctx, payloadKey, id)

		var r Reminder
		if err := json.Unmarshal(body, &r); err != nil {
			log.Printf("reminder %s: decode payload: %v", id, err)
			continue
		}
		if err := s.notifier.Notify(ctx, r); err != nil {
			log.Printf("reminder %s: notify: %v", id, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

// score is the due time in Unix milliseconds.
func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
