// Package memory is an in-process implementation of the repository contracts.
// Transactions are optimistic: reads record the version they saw, writes are
// buffered, and the commit re-validates every read under a single lock.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

// Store holds all records in maps guarded by one mutex.
type Store struct {
	mu           sync.Mutex
	spaces       map[string]model.ParkingSpace
	reservations map[string]model.Reservation
	// userVersions changes whenever one of the user's reservations is
	// inserted or changes status, so a transaction that checked "no active
	// reservation" conflicts with a concurrent reserve by the same user.
	userVersions map[string]int64

	users    map[string]model.User
	sessions map[string]model.Session

	clock func() time.Time

	watchMu  sync.Mutex
	watchers map[int]func()
	nextID   int
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used as the store's authoritative time.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		spaces:       make(map[string]model.ParkingSpace),
		reservations: make(map[string]model.Reservation),
		userVersions: make(map[string]int64),
		users:        make(map[string]model.User),
		sessions:     make(map[string]model.Session),
		clock:        time.Now,
		watchers:     make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ repository.ParkingStore = (*Store)(nil)
	_ repository.UserStore    = (*Store)(nil)
)

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// Now returns the store clock.
func (s *Store) Now(ctx context.Context) (time.Time, error) {
	return s.now(), nil
}

// RunInTx executes fn against a fresh transaction and commits it, retrying
// when the commit detects that something fn read has since changed.
func (s *Store) RunInTx(ctx context.Context, fn repository.TxFunc) error {
	var err error
	for attempt := 1; attempt <= repository.MaxTxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		tx := newTx(s)
		if err = fn(ctx, tx); err == nil {
			err = tx.commit()
		}
		if err == nil {
			s.notify()
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return err
}

// CreateSpace inserts a new space; the space number must be unique.
func (s *Store) CreateSpace(ctx context.Context, space *model.ParkingSpace) error {
	s.mu.Lock()
	for _, existing := range s.spaces {
		if strings.EqualFold(existing.SpaceNumber, space.SpaceNumber) {
			s.mu.Unlock()
			return repository.ErrDuplicate
		}
	}
	space.Version = 1
	s.spaces[space.ID] = *space
	s.mu.Unlock()

	s.notify()
	return nil
}

// SpaceByID returns a copy of the space.
func (s *Store) SpaceByID(ctx context.Context, id string) (*model.ParkingSpace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	space, ok := s.spaces[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &space, nil
}

// ListSpaces returns every space ordered by space number.
func (s *Store) ListSpaces(ctx context.Context) ([]model.ParkingSpace, error) {
	s.mu.Lock()
	spaces := make([]model.ParkingSpace, 0, len(s.spaces))
	for _, space := range s.spaces {
		spaces = append(spaces, space)
	}
	s.mu.Unlock()

	sort.Slice(spaces, func(i, j int) bool { return spaces[i].SpaceNumber < spaces[j].SpaceNumber })
	return spaces, nil
}

// ActiveReservationByUser returns the user's active reservation or ErrNotFound.
func (s *Store) ActiveReservationByUser(ctx context.Context, userID string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeForUserLocked(userID)
}

func (s *Store) activeForUserLocked(userID string) (*model.Reservation, error) {
	for _, r := range s.reservations {
		if r.UserID == userID && r.Status == model.StatusActive {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

// OverdueReservations returns active reservations that ended before now,
// oldest end time first.
func (s *Store) OverdueReservations(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	s.mu.Lock()
	var overdue []model.Reservation
	for _, r := range s.reservations {
		if r.Overdue(now) {
			overdue = append(overdue, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(overdue, func(i, j int) bool { return overdue[i].EndTime.Before(overdue[j].EndTime) })
	return overdue, nil
}

// ReservationsSince returns reservations started at or after since, newest first.
func (s *Store) ReservationsSince(ctx context.Context, since time.Time) ([]model.Reservation, error) {
	s.mu.Lock()
	var out []model.Reservation
	for _, r := range s.reservations {
		if !r.StartTime.Before(since) {
			out = append(out, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// Watch registers fn to run after every commit and blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, fn func()) error {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	<-ctx.Done()

	s.watchMu.Lock()
	delete(s.watchers, id)
	s.watchMu.Unlock()
	return nil
}

func (s *Store) notify() {
	s.watchMu.Lock()
	fns := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ─── Users and sessions ──────────────────────────────────────────────────────

// CreateUser inserts a user; the email must be unique.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	s.users[user.ID] = *user
	return nil
}

// UserByEmail looks a user up case-insensitively.
func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

// UserByID returns the user or ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// CreateSession stores a session.
func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

// SessionByID returns the session or ErrNotFound.
func (s *Store) SessionByID(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

// DeleteSession removes a session; deleting a missing one is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
