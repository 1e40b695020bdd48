package memory

import (
	"context"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

const (
	spaceKey       = "space:"
	reservationKey = "reservation:"
	userKey        = "user:"
)

// tx buffers writes and remembers the version of everything it read.
type tx struct {
	s   *Store
	now time.Time

	reads        map[string]int64
	spaces       map[string]*model.ParkingSpace // nil value means delete
	reservations map[string]*model.Reservation
}

func newTx(s *Store) *tx {
	return &tx{
		s:            s,
		now:          s.now(),
		reads:        make(map[string]int64),
		spaces:       make(map[string]*model.ParkingSpace),
		reservations: make(map[string]*model.Reservation),
	}
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) Now() time.Time { return t.now }

// observe records the first version seen for key.
func (t *tx) observe(key string, version int64) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = version
	}
}

func (t *tx) SpaceByID(ctx context.Context, id string) (*model.ParkingSpace, error) {
	if buffered, ok := t.spaces[id]; ok {
		if buffered == nil {
			return nil, repository.ErrNotFound
		}
		cp := *buffered
		return &cp, nil
	}

	t.s.mu.Lock()
	space, ok := t.s.spaces[id]
	t.s.mu.Unlock()

	if !ok {
		t.observe(spaceKey+id, 0)
		return nil, repository.ErrNotFound
	}
	t.observe(spaceKey+id, space.Version)
	return &space, nil
}

func (t *tx) SaveSpace(ctx context.Context, space *model.ParkingSpace) error {
	t.observe(spaceKey+space.ID, space.Version)
	cp := *space
	t.spaces[space.ID] = &cp
	return nil
}

func (t *tx) DeleteSpace(ctx context.Context, space *model.ParkingSpace) error {
	t.observe(spaceKey+space.ID, space.Version)
	t.spaces[space.ID] = nil
	return nil
}

func (t *tx) ReservationByID(ctx context.Context, id string) (*model.Reservation, error) {
	if buffered, ok := t.reservations[id]; ok {
		cp := *buffered
		return &cp, nil
	}

	t.s.mu.Lock()
	r, ok := t.s.reservations[id]
	t.s.mu.Unlock()

	if !ok {
		t.observe(reservationKey+id, 0)
		return nil, repository.ErrNotFound
	}
	t.observe(reservationKey+id, r.Version)
	return &r, nil
}

func (t *tx) ActiveReservationForUser(ctx context.Context, userID string) (*model.Reservation, error) {
	t.s.mu.Lock()
	t.observe(userKey+userID, t.s.userVersions[userID])
	stored := make(map[string]model.Reservation)
	for id, r := range t.s.reservations {
		if r.UserID == userID {
			stored[id] = r
		}
	}
	t.s.mu.Unlock()

	for id, r := range t.reservations {
		if r.UserID == userID {
			stored[id] = *r
		}
	}
	for _, r := range stored {
		if r.Status == model.StatusActive {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *tx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	t.observe(reservationKey+r.ID, 0)
	cp := *r
	t.reservations[r.ID] = &cp
	return nil
}

func (t *tx) SaveReservation(ctx context.Context, r *model.Reservation) error {
	t.observe(reservationKey+r.ID, r.Version)
	cp := *r
	t.reservations[r.ID] = &cp
	return nil
}

// commit validates the read set and applies the buffered writes atomically.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range t.reads {
		if s.currentVersionLocked(key) != seen {
			return repository.ErrConflict
		}
	}

	for id, space := range t.spaces {
		if space == nil {
			delete(s.spaces, id)
			continue
		}
		next := *space
		next.Version = s.spaces[id].Version + 1
		s.spaces[id] = next
	}
	for id, r := range t.reservations {
		next := *r
		next.Version = s.reservations[id].Version + 1
		s.reservations[id] = next
		s.userVersions[r.UserID]++
	}
	return nil
}

func (s *Store) currentVersionLocked(key string) int64 {
	if id, ok := strings.CutPrefix(key, spaceKey); ok {
		return s.spaces[id].Version
	}
	if id, ok := strings.CutPrefix(key, reservationKey); ok {
		return s.reservations[id].Version
	}
	if id, ok := strings.CutPrefix(key, userKey); ok {
		return s.userVersions[id]
	}
	return -1
}
