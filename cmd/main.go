// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/config"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/database"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/feed"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/handler"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/messaging"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/reminder"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository/memory"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ── 1. Open the store ─────────────────────────────────────────────────
	var (
		parking repository.ParkingStore
		users   repository.UserStore
	)
	switch cfg.Store {
	case config.StoreMemory:
		mem := memory.New()
		parking, users = mem, mem
		log.Println("✓ Using in-memory store")
	default:
		pool, err := database.NewPool(ctx, cfg.DB.DSN())
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		pg := postgres.New(pool)
		parking, users = pg, pg
		log.Println("✓ Connected to PostgreSQL")
	}

	// ── 2. Event publishing and reminders ─────────────────────────────────
	var events messaging.Publisher = messaging.LogPublisher{}
	if cfg.RabbitMQURL != "" {
		mq := messaging.NewRabbitMQ(messaging.RabbitMQConfig{URL: cfg.RabbitMQURL, Exchange: cfg.Exchange})
		if err := mq.Connect(ctx); err != nil {
			log.Fatalf("rabbitmq: %v", err)
		}
		defer mq.Close()
		events = mq
	}

	notifier := service.ExpiryNotifier(events)
	var reminders reminder.Scheduler
	if cfg.RedisURL != "" {
		rdb, err := reminder.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		rs := reminder.NewRedisScheduler(rdb, notifier)
		go rs.Run(ctx, 5*time.Second)
		reminders = rs
		log.Println("✓ Reminders scheduled in Redis")
	} else {
		ms := reminder.NewMemoryScheduler(notifier)
		defer ms.Stop()
		reminders = ms
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	hooks := &service.Hooks{Reminders: reminders, Events: events, ReminderLead: cfg.ReminderLead}
	sweeper := service.NewSweeper(parking, hooks)
	h := handler.New(handler.Deps{
		Auth:        service.NewAuthService(users, cfg.JWTSecret, cfg.JWTTTL),
		Coordinator: service.NewCoordinator(parking, sweeper, hooks, cfg.ReservationDuration),
		Spaces:      service.NewSpaceService(parking),
		Reports:     service.NewReportService(parking, sweeper),
		Sweeper:     sweeper,
		Hub:         feedHub(ctx, parking),
		Context:     ctx,
	})

	// ── 4. Periodic expiry sweep ──────────────────────────────────────────
	if cfg.SweepSchedule != "" {
		c := cron.New()
		if _, err := sweeper.Schedule(c, cfg.SweepSchedule); err != nil {
			log.Fatalf("sweep schedule %q: %v", cfg.SweepSchedule, err)
		}
		c.Start()
		defer c.Stop()
		log.Printf("✓ Expiry sweep scheduled: %s", cfg.SweepSchedule)
	}

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     h.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	<-ctx.Done()

	log.Println("shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		os.Exit(1)
	}
	log.Println("server stopped")
}

// feedHub starts the subscription hub and relays store changes into it.
func feedHub(ctx context.Context, store repository.ParkingStore) *feed.Hub {
	hub := feed.NewHub()
	go hub.Run(ctx)
	go func() {
		for ctx.Err() == nil {
			if err := store.Watch(ctx, hub.Notify); err != nil {
				log.Printf("store watch: %v; restarting in 2s", err)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}()
	return hub
}
