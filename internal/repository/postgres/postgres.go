// Package postgres implements the repository contracts with pgx directly (no
// ORM). Transactions run at SERIALIZABLE isolation, rows read for update are
// locked with SELECT … FOR UPDATE, and every write is conditional on the
// version the transaction read.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

// changesChannel is the LISTEN/NOTIFY channel every write transaction signals.
const changesChannel = "parking_changes"

const spaceColumns = `id, space_number, is_occupied, reserved_by, reservation_expiry,
	hourly_rate::float8, version, created_at`

const reservationColumns = `id, user_id, space_id, space_number, hourly_rate::float8,
	start_time, end_time, status, version`

// Store is the PostgreSQL-backed ParkingStore and UserStore.
type Store struct {
	db *pgxpool.Pool
}

// New constructs a Store over an open pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

var (
	_ repository.ParkingStore = (*Store)(nil)
	_ repository.UserStore    = (*Store)(nil)
)

// RunInTx executes fn inside a serializable transaction. Serialization
// failures, deadlocks and lost version checks are retried.
func (s *Store) RunInTx(ctx context.Context, fn repository.TxFunc) error {
	var err error
	for attempt := 1; attempt <= repository.MaxTxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !errors.Is(err, repository.ErrConflict) {
			return err
		}
		log.Printf("tx conflict (attempt %d/%d), retrying", attempt, repository.MaxTxAttempts)
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, fn repository.TxFunc) (err error) {
	pgxTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = pgxTx.Rollback(ctx)
			err = classify(err)
		}
	}()

	t := &tx{tx: pgxTx}
	if err = pgxTx.QueryRow(ctx, `SELECT now()`).Scan(&t.now); err != nil {
		return fmt.Errorf("read clock: %w", err)
	}
	t.now = t.now.UTC()

	if err = fn(ctx, t); err != nil {
		return err
	}
	if t.wrote {
		if _, err = pgxTx.Exec(ctx, `SELECT pg_notify($1, '')`, changesChannel); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	if err = pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// classify maps PostgreSQL concurrency failures onto ErrConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.Message)
	case "23505":
		switch pgErr.ConstraintName {
		case "reservations_one_active_per_user", "reservations_one_active_per_space":
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Now returns the database clock.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.db.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read clock: %w", err)
	}
	return now.UTC(), nil
}

// CreateSpace inserts a new space. A taken space number yields ErrDuplicate.
func (s *Store) CreateSpace(ctx context.Context, space *model.ParkingSpace) error {
	space.Version = 1
	_, err := s.db.Exec(ctx,
		`WITH inserted AS (
			INSERT INTO parking_spaces (id, space_number, is_occupied, hourly_rate, version, created_at)
			VALUES ($1, $2, FALSE, $3, $4, $5)
			RETURNING id
		)
		SELECT pg_notify($6, '') FROM inserted`,
		space.ID, space.SpaceNumber, space.HourlyRate, space.Version, space.CreatedAt, changesChannel,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert space: %w", err)
	}
	return nil
}

// SpaceByID returns a single space or ErrNotFound.
func (s *Store) SpaceByID(ctx context.Context, id string) (*model.ParkingSpace, error) {
	space, err := scanSpace(s.db.QueryRow(ctx,
		`SELECT `+spaceColumns+` FROM parking_spaces WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get space")
	}
	return space, nil
}

// ListSpaces returns all spaces ordered by space number.
func (s *Store) ListSpaces(ctx context.Context) ([]model.ParkingSpace, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+spaceColumns+` FROM parking_spaces ORDER BY space_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	var spaces []model.ParkingSpace
	for rows.Next() {
		space, err := scanSpace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, *space)
	}
	return spaces, rows.Err()
}

// ActiveReservationByUser returns the user's active reservation or ErrNotFound.
func (s *Store) ActiveReservationByUser(ctx context.Context, userID string) (*model.Reservation, error) {
	r, err := scanReservation(s.db.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE user_id = $1 AND status = 'active'`, userID))
	if err != nil {
		return nil, notFound(err, "get active reservation")
	}
	return r, nil
}

// OverdueReservations returns active reservations whose end time is before now.
func (s *Store) OverdueReservations(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	return s.queryReservations(ctx, "list overdue reservations",
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = 'active' AND end_time < $1
		 ORDER BY end_time ASC`, now)
}

// ReservationsSince returns reservations started at or after since, newest first.
func (s *Store) ReservationsSince(ctx context.Context, since time.Time) ([]model.Reservation, error) {
	return s.queryReservations(ctx, "list reservations",
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE start_time >= $1
		 ORDER BY start_time DESC`, since)
}

func (s *Store) queryReservations(ctx context.Context, op, query string, args ...any) ([]model.Reservation, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Watch holds a dedicated connection on LISTEN parking_changes and calls fn
// for every notification until ctx is done.
func (s *Store) Watch(ctx context.Context, fn func()) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		fn()
	}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpace(row rowScanner) (*model.ParkingSpace, error) {
	var sp model.ParkingSpace
	err := row.Scan(&sp.ID, &sp.SpaceNumber, &sp.IsOccupied, &sp.ReservedBy, &sp.ReservationExpiry,
		&sp.HourlyRate, &sp.Version, &sp.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var r model.Reservation
	err := row.Scan(&r.ID, &r.UserID, &r.SpaceID, &r.SpaceNumber, &r.HourlyRate,
		&r.StartTime, &r.EndTime, &r.Status, &r.Version)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
