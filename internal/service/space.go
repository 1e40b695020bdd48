package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

// SpaceService is the admin view of the parking inventory.
type SpaceService struct {
	store repository.ParkingStore
}

// NewSpaceService constructs a SpaceService.
func NewSpaceService(store repository.ParkingStore) *SpaceService {
	return &SpaceService{store: store}
}

// CreateSpace validates the request and adds a free space.
func (s *SpaceService) CreateSpace(ctx context.Context, req model.CreateSpaceRequest) (*model.ParkingSpace, error) {
	req.SpaceNumber = strings.TrimSpace(req.SpaceNumber)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	now, err := s.store.Now(ctx)
	if err != nil {
		return nil, storeErr("read clock", err)
	}
	space := &model.ParkingSpace{
		ID:          uuid.New().String(),
		SpaceNumber: req.SpaceNumber,
		HourlyRate:  req.HourlyRate,
		CreatedAt:   now,
	}
	if err := s.store.CreateSpace(ctx, space); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateSpaceNumber
		}
		return nil, storeErr("create space", err)
	}
	return space, nil
}

// UpdateSpaceRate changes only the hourly rate. Space numbers are immutable
// and occupancy is left as the transaction found it.
func (s *SpaceService) UpdateSpaceRate(ctx context.Context, id string, req model.UpdateSpaceRequest) (*model.ParkingSpace, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if !wellFormedID(id) {
		return nil, ErrSpaceNotFound
	}

	var updated *model.ParkingSpace
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		space, err := tx.SpaceByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSpaceNotFound
			}
			return fmt.Errorf("load space: %w", err)
		}
		space.HourlyRate = req.HourlyRate
		if err := tx.SaveSpace(ctx, space); err != nil {
			return fmt.Errorf("update space: %w", err)
		}
		updated = space
		return nil
	})
	if err != nil {
		return nil, txError("update space", err)
	}
	return updated, nil
}

// DeleteSpace removes a free space. Occupied spaces are refused.
func (s *SpaceService) DeleteSpace(ctx context.Context, id string) error {
	if !wellFormedID(id) {
		return ErrSpaceNotFound
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		space, err := tx.SpaceByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSpaceNotFound
			}
			return fmt.Errorf("load space: %w", err)
		}
		if space.IsOccupied {
			return ErrSpaceOccupied
		}
		return tx.DeleteSpace(ctx, space)
	})
	if err != nil {
		return txError("delete space", err)
	}
	return nil
}

// ListSpaces returns every space ordered by space number.
func (s *SpaceService) ListSpaces(ctx context.Context) ([]model.ParkingSpace, error) {
	spaces, err := s.store.ListSpaces(ctx)
	if err != nil {
		return nil, storeErr("list spaces", err)
	}
	return spaces, nil
}
