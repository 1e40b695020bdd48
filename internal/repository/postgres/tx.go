package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

type tx struct {
	tx    pgx.Tx
	now   time.Time
	wrote bool
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) Now() time.Time { return t.now }

// SpaceByID locks the space row until the transaction resolves.
func (t *tx) SpaceByID(ctx context.Context, id string) (*model.ParkingSpace, error) {
	space, err := scanSpace(t.tx.QueryRow(ctx,
		`SELECT `+spaceColumns+` FROM parking_spaces WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "lock space row")
	}
	return space, nil
}

func (t *tx) SaveSpace(ctx context.Context, space *model.ParkingSpace) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE parking_spaces
		 SET is_occupied = $3, reserved_by = $4, reservation_expiry = $5, hourly_rate = $6,
		     version = version + 1
		 WHERE id = $1 AND version = $2`,
		space.ID, space.Version, space.IsOccupied, space.ReservedBy, space.ReservationExpiry, space.HourlyRate,
	)
	if err != nil {
		return fmt.Errorf("update space: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	t.wrote = true
	return nil
}

func (t *tx) DeleteSpace(ctx context.Context, space *model.ParkingSpace) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM parking_spaces WHERE id = $1 AND version = $2`,
		space.ID, space.Version,
	)
	if err != nil {
		return fmt.Errorf("delete space: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	t.wrote = true
	return nil
}

func (t *tx) ReservationByID(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "lock reservation row")
	}
	return r, nil
}

func (t *tx) ActiveReservationForUser(ctx context.Context, userID string) (*model.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE user_id = $1 AND status = 'active'
		 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFound(err, "check active reservation")
	}
	return r, nil
}

func (t *tx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reservations
		 (id, user_id, space_id, space_number, hourly_rate, start_time, end_time, status, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)`,
		r.ID, r.UserID, r.SpaceID, r.SpaceNumber, r.HourlyRate, r.StartTime, r.EndTime, r.Status,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	t.wrote = true
	return nil
}

func (t *tx) SaveReservation(ctx context.Context, r *model.Reservation) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE reservations SET status = $3, end_time = $4, version = version + 1
		 WHERE id = $1 AND version = $2`,
		r.ID, r.Version, r.Status, r.EndTime,
	)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}
	t.wrote = true
	return nil
}
