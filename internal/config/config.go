// Package config loads service settings from the environment (and an optional
// .env file) into a single struct that main passes to every component.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// devJWTSecret signs tokens when JWT_SECRET is unset. Only the memory store
// accepts it.
const devJWTSecret = "change-me-in-production"

// Config holds every runtime setting.
type Config struct {
	Port  string
	Store string

	DB Database

	JWTSecret string
	JWTTTL    time.Duration

	RedisURL    string
	RabbitMQURL string
	Exchange    string

	SweepSchedule       string
	ReservationDuration time.Duration
	ReminderLead        time.Duration
}

// Database holds PostgreSQL connection settings.
type Database struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns URL when set, otherwise a libpq-compatible connection string.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Load reads .env (if present) and the process environment, falling back to
// local-development defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: could not load .env: %v", err)
	}

	jwtHours, err := intEnv("JWT_TTL_HOURS", 24*30)
	if err != nil {
		return nil, err
	}
	reservationHours, err := intEnv("RESERVATION_HOURS", 2)
	if err != nil {
		return nil, err
	}
	leadMinutes, err := intEnv("REMINDER_LEAD_MINUTES", 10)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Store: getEnv("STORE", StorePostgres),
		DB: Database{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "parking"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWTSecret:           getEnv("JWT_SECRET", devJWTSecret),
		JWTTTL:              time.Duration(jwtHours) * time.Hour,
		RedisURL:            os.Getenv("REDIS_URL"),
		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
		Exchange:            getEnv("RABBITMQ_EXCHANGE", "parking.events"),
		SweepSchedule:       getEnv("SWEEP_SCHEDULE", "@every 5m"),
		ReservationDuration: time.Duration(reservationHours) * time.Hour,
		ReminderLead:        time.Duration(leadMinutes) * time.Minute,
	}

	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	if cfg.ReservationDuration <= 0 {
		return nil, fmt.Errorf("RESERVATION_HOURS must be positive")
	}
	if cfg.JWTSecret == "" || cfg.JWTSecret == devJWTSecret {
		if cfg.Store == StorePostgres {
			return nil, fmt.Errorf("JWT_SECRET must be set when STORE=%s", StorePostgres)
		}
		log.Printf("config: JWT_SECRET not set, signing tokens with the development secret")
		cfg.JWTSecret = devJWTSecret
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
