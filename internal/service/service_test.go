package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/messaging"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/reminder"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository/memory"
)

// clock is a settable time source for the memory store.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fixture struct {
	clock       *clock
	store       *memory.Store
	sweeper     *Sweeper
	coordinator *Coordinator
	spaces      *SpaceService
	reports     *ReportService
}

func newFixture(t *testing.T, hooks *Hooks) *fixture {
	t.Helper()
	c := &clock{now: time.Now().UTC().Truncate(time.Second)}
	store := memory.New(memory.WithClock(c.Now))
	sweeper := NewSweeper(store, hooks)
	return &fixture{
		clock:       c,
		store:       store,
		sweeper:     sweeper,
		coordinator: NewCoordinator(store, sweeper, hooks, 0),
		spaces:      NewSpaceService(store),
		reports:     NewReportService(store, sweeper),
	}
}

func (f *fixture) space(t *testing.T, number string, rate float64) *model.ParkingSpace {
	t.Helper()
	sp, err := f.spaces.CreateSpace(context.Background(), model.CreateSpaceRequest{SpaceNumber: number, HourlyRate: rate})
	if err != nil {
		t.Fatalf("create space %s: %v", number, err)
	}
	return sp
}

func (f *fixture) reserve(t *testing.T, spaceID, userID string) *model.Reservation {
	t.Helper()
	r, err := f.coordinator.Reserve(context.Background(), spaceID, userID)
	if err != nil {
		t.Fatalf("reserve %s for %s: %v", spaceID, userID, err)
	}
	return r
}

func (f *fixture) load(t *testing.T, spaceID string) *model.ParkingSpace {
	t.Helper()
	sp, err := f.store.SpaceByID(context.Background(), spaceID)
	if err != nil {
		t.Fatalf("load space: %v", err)
	}
	if !sp.Consistent() {
		t.Fatalf("space %s has inconsistent occupancy: %+v", sp.SpaceNumber, sp)
	}
	return sp
}

// reserveResult is the outcome of one concurrent reserve attempt.
type reserveResult struct {
	UserID      string
	Reservation *model.Reservation
	Error       error
}

// ─── Coordinator ──────────────────────────────────────────────────────────────

func TestReserveThenSecondDriverIsRefused(t *testing.T) {
	f := newFixture(t, nil)
	a01 := f.space(t, "A-01", 5.00)

	r := f.reserve(t, a01.ID, "u1")
	if got := r.EndTime.Sub(r.StartTime); got != 2*time.Hour {
		t.Fatalf("expected 2h reservation, got %v", got)
	}
	if r.Status != model.StatusActive || r.SpaceNumber != "A-01" || r.HourlyRate != 5.00 {
		t.Fatalf("unexpected reservation: %+v", r)
	}

	sp := f.load(t, a01.ID)
	if !sp.IsOccupied || sp.ReservedBy.String != "u1" || !sp.ReservationExpiry.Time.Equal(r.EndTime) {
		t.Fatalf("space not occupied by u1: %+v", sp)
	}

	_, err := f.coordinator.Reserve(context.Background(), a01.ID, "u2")
	if !errors.Is(err, ErrSpaceUnavailable) {
		t.Fatalf("expected ErrSpaceUnavailable, got %v", err)
	}
}

func TestConcurrentReserveHasExactlyOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	sp := f.space(t, "A-01", 5)

	const drivers = 20
	results := make(chan reserveResult, drivers)
	var wg sync.WaitGroup
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "driver-" + string(rune('a'+i))
			r, err := f.coordinator.Reserve(context.Background(), sp.ID, user)
			results <- reserveResult{UserID: user, Reservation: r, Error: err}
		}(i)
	}
	wg.Wait()
	close(results)

	var winner string
	for res := range results {
		switch {
		case res.Error == nil:
			if winner != "" {
				t.Fatalf("two winners: %s and %s", winner, res.UserID)
			}
			winner = res.UserID
		case !errors.Is(res.Error, ErrSpaceUnavailable):
			t.Fatalf("%s: expected ErrSpaceUnavailable, got %v", res.UserID, res.Error)
		}
	}
	if winner == "" {
		t.Fatal("no driver won the space")
	}

	got := f.load(t, sp.ID)
	if got.ReservedBy.String != winner {
		t.Fatalf("space held by %q, winner was %q", got.ReservedBy.String, winner)
	}
	active, err := f.coordinator.ActiveReservation(context.Background(), winner)
	if err != nil || active == nil || active.SpaceID != sp.ID {
		t.Fatalf("winner has no active reservation for the space: %+v, %v", active, err)
	}
}

func TestUserHoldsAtMostOneActiveReservation(t *testing.T) {
	f := newFixture(t, nil)
	a := f.space(t, "A-01", 5)
	b := f.space(t, "B-01", 5)

	f.reserve(t, a.ID, "u1")
	_, err := f.coordinator.Reserve(context.Background(), b.ID, "u1")
	if !errors.Is(err, ErrActiveReservationExists) {
		t.Fatalf("expected ErrActiveReservationExists, got %v", err)
	}
	if f.load(t, b.ID).IsOccupied {
		t.Fatal("refused reserve must leave the space free")
	}
}

func TestConcurrentReservesBySameUser(t *testing.T) {
	f := newFixture(t, nil)
	spaces := []*model.ParkingSpace{f.space(t, "A-01", 5), f.space(t, "A-02", 5), f.space(t, "A-03", 5)}

	errs := make(chan error, len(spaces))
	var wg sync.WaitGroup
	for _, sp := range spaces {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.coordinator.Reserve(context.Background(), id, "u1")
			errs <- err
		}(sp.ID)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrActiveReservationExists):
			t.Fatalf("expected ErrActiveReservationExists, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one reservation, got %d", wins)
	}

	occupied := 0
	for _, sp := range spaces {
		if f.load(t, sp.ID).IsOccupied {
			occupied++
		}
	}
	if occupied != 1 {
		t.Fatalf("expected one occupied space, got %d", occupied)
	}
}

func TestReserveUnknownSpace(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.coordinator.Reserve(context.Background(), "missing", "u1")
	if !errors.Is(err, ErrSpaceNotFound) {
		t.Fatalf("expected ErrSpaceNotFound, got %v", err)
	}

	var ve *ValidationError
	if _, err := f.coordinator.Reserve(context.Background(), " ", "u1"); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// uuidColumnStore rejects non-UUID keys the way a UUID-typed column does:
// with an encoding error rather than a missing row.
type uuidColumnStore struct {
	repository.ParkingStore
}

func (s uuidColumnStore) RunInTx(ctx context.Context, fn repository.TxFunc) error {
	return s.ParkingStore.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, uuidColumnTx{Tx: tx})
	})
}

type uuidColumnTx struct {
	repository.Tx
}

func (t uuidColumnTx) SpaceByID(ctx context.Context, id string) (*model.ParkingSpace, error) {
	if !wellFormedID(id) {
		return nil, errors.New("cannot encode id into uuid column")
	}
	return t.Tx.SpaceByID(ctx, id)
}

func (t uuidColumnTx) ReservationByID(ctx context.Context, id string) (*model.Reservation, error) {
	if !wellFormedID(id) {
		return nil, errors.New("cannot encode id into uuid column")
	}
	return t.Tx.ReservationByID(ctx, id)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	f := newFixture(t, nil)
	store := uuidColumnStore{ParkingStore: f.store}
	coordinator := NewCoordinator(store, nil, nil, 0)
	spaces := NewSpaceService(store)
	ctx := context.Background()

	if _, err := coordinator.Reserve(ctx, "A-01", "u1"); !errors.Is(err, ErrSpaceNotFound) {
		t.Fatalf("reserve: expected ErrSpaceNotFound, got %v", err)
	}
	if _, err := coordinator.Release(ctx, "not-a-reservation", "u1"); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("release: expected ErrReservationNotFound, got %v", err)
	}
	if _, err := spaces.UpdateSpaceRate(ctx, "foo", model.UpdateSpaceRequest{HourlyRate: 2}); !errors.Is(err, ErrSpaceNotFound) {
		t.Fatalf("update: expected ErrSpaceNotFound, got %v", err)
	}
	if err := spaces.DeleteSpace(ctx, "foo"); !errors.Is(err, ErrSpaceNotFound) {
		t.Fatalf("delete: expected ErrSpaceNotFound, got %v", err)
	}

	// Well-formed ids still reach the store.
	sp := f.space(t, "A-01", 5)
	if _, err := coordinator.Reserve(ctx, sp.ID, "u1"); err != nil {
		t.Fatalf("reserve by uuid: %v", err)
	}
}

func TestReleaseCompletesAndFreesSpace(t *testing.T) {
	f := newFixture(t, nil)
	sp := f.space(t, "A-01", 5)
	r := f.reserve(t, sp.ID, "u1")

	releasedAt := f.clock.Advance(30 * time.Minute)
	done, err := f.coordinator.Release(context.Background(), r.ID, "u1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if done.Status != model.StatusCompleted || !done.EndTime.Equal(releasedAt) {
		t.Fatalf("unexpected released reservation: %+v", done)
	}
	if f.load(t, sp.ID).IsOccupied {
		t.Fatal("space still occupied after release")
	}
	if active, _ := f.coordinator.ActiveReservation(context.Background(), "u1"); active != nil {
		t.Fatalf("expected no active reservation, got %+v", active)
	}

	// The driver can reserve again.
	f.reserve(t, sp.ID, "u1")
}

func TestReleaseByAnotherUserIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	sp := f.space(t, "A-01", 5)
	r := f.reserve(t, sp.ID, "u1")

	if _, err := f.coordinator.Release(context.Background(), r.ID, "u2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if !f.load(t, sp.ID).IsOccupied {
		t.Fatal("space must stay occupied")
	}
}

func TestReleaseAfterSweepIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	sp := f.space(t, "A-01", 5)
	r := f.reserve(t, sp.ID, "u1")

	now := f.clock.Advance(2*time.Hour + time.Second)
	res, err := f.sweeper.Sweep(context.Background(), now)
	if err != nil || res.Released != 1 {
		t.Fatalf("sweep: %+v, %v", res, err)
	}

	// Someone else takes the freed space.
	f.reserve(t, sp.ID, "u2")

	if _, err := f.coordinator.Release(context.Background(), r.ID, "u1"); !errors.Is(err, ErrReservationNotActive) {
		t.Fatalf("expected ErrReservationNotActive, got %v", err)
	}
	got := f.load(t, sp.ID)
	if !got.IsOccupied || got.ReservedBy.String != "u2" {
		t.Fatalf("late release must not touch u2's space: %+v", got)
	}
}

func TestReleaseTwiceIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	sp := f.space(t, "A-01", 5)
	r := f.reserve(t, sp.ID, "u1")

	if _, err := f.coordinator.Release(context.Background(), r.ID, "u1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := f.coordinator.Release(context.Background(), r.ID, "u1"); !errors.Is(err, ErrReservationNotActive) {
		t.Fatalf("expected ErrReservationNotActive, got %v", err)
	}
}

// ─── Sweeper ──────────────────────────────────────────────────────────────────

func TestSweepLeavesReservationsNotYetPastEnd(t *testing.T) {
	f := newFixture(t, nil)
	sp := f.space(t, "A-01", 5)
	r := f.reserve(t, sp.ID, "u1")

	res, err := f.sweeper.Sweep(context.Background(), r.EndTime)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 0 {
		t.Fatalf("sweep at end time must not release, released %d", res.Released)
	}
	active, _ := f.coordinator.ActiveReservation(context.Background(), "u1")
	if active == nil || active.Status != model.StatusActive {
		t.Fatalf("reservation should still be active: %+v", active)
	}
}

func TestSweepExpiresAndFreesOverdue(t *testing.T) {
	f := newFixture(t, nil)
	a := f.space(t, "A-01", 5)
	b := f.space(t, "B-01", 5)
	f.reserve(t, a.ID, "u1")
	f.clock.Advance(time.Hour)
	f.reserve(t, b.ID, "u2")

	// Only u1's reservation is past its end.
	now := f.clock.Advance(90 * time.Minute)
	res, err := f.sweeper.Sweep(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 1 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result %+v", res)
	}
	if f.load(t, a.ID).IsOccupied {
		t.Fatal("A-01 should be free")
	}
	if !f.load(t, b.ID).IsOccupied {
		t.Fatal("B-01 should still be held")
	}

	reps, _ := f.store.ReservationsSince(context.Background(), time.Time{})
	for _, r := range reps {
		if r.UserID == "u1" && r.Status != model.StatusExpired {
			t.Fatalf("u1 reservation should be expired, is %s", r.Status)
		}
	}
}

// failingStore makes the transaction that saves one reservation fail.
type failingStore struct {
	repository.ParkingStore
	failID string
}

func (s failingStore) RunInTx(ctx context.Context, fn repository.TxFunc) error {
	return s.ParkingStore.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, failingTx{Tx: tx, failID: s.failID})
	})
}

type failingTx struct {
	repository.Tx
	failID string
}

func (t failingTx) SaveReservation(ctx context.Context, r *model.Reservation) error {
	if r.ID == t.failID {
		return errors.New("disk on fire")
	}
	return t.Tx.SaveReservation(ctx, r)
}

func TestSweepFailureIsIsolatedPerReservation(t *testing.T) {
	f := newFixture(t, nil)
	var reservations []*model.Reservation
	for i, number := range []string{"A-01", "A-02", "A-03"} {
		sp := f.space(t, number, 5)
		reservations = append(reservations, f.reserve(t, sp.ID, "u"+string(rune('1'+i))))
	}
	broken := reservations[1]

	sweeper := NewSweeper(failingStore{ParkingStore: f.store, failID: broken.ID}, nil)
	now := f.clock.Advance(3 * time.Hour)
	res, err := sweeper.Sweep(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 2 || res.Failed != 1 {
		t.Fatalf("expected 2 released and 1 failed, got %+v", res)
	}

	// The failed record was rolled back as a whole.
	if !f.load(t, broken.SpaceID).IsOccupied {
		t.Fatal("space of the failed reservation must still be occupied")
	}
	active, _ := f.coordinator.ActiveReservation(context.Background(), broken.UserID)
	if active == nil {
		t.Fatal("failed reservation must still be active")
	}
}

func TestReserveSweepsFirst(t *testing.T) {
	f := newFixture(t, nil)
	sp := f.space(t, "A-01", 5)
	f.reserve(t, sp.ID, "u1")

	f.clock.Advance(3 * time.Hour)
	r := f.reserve(t, sp.ID, "u2")
	if r.UserID != "u2" {
		t.Fatalf("unexpected reservation %+v", r)
	}
}

// ─── Lifecycle hooks ──────────────────────────────────────────────────────────

type recordingPublisher struct {
	mu     sync.Mutex
	events []messaging.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e messaging.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
}

func (s *recordingScheduler) Schedule(ctx context.Context, r reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[r.ReservationID] = r.At
	return nil
}

func (s *recordingScheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, id)
	return nil
}

func TestLifecycleHooks(t *testing.T) {
	pub := &recordingPublisher{}
	sched := &recordingScheduler{scheduled: make(map[string]time.Time)}
	f := newFixture(t, &Hooks{Reminders: sched, Events: pub, ReminderLead: 10 * time.Minute})
	a := f.space(t, "A-01", 5)
	b := f.space(t, "B-01", 5)

	r1 := f.reserve(t, a.ID, "u1")
	if at, ok := sched.scheduled[r1.ID]; !ok || !at.Equal(r1.EndTime.Add(-10*time.Minute)) {
		t.Fatalf("reminder not scheduled 10 minutes before end: %v", sched.scheduled)
	}
	if _, err := f.coordinator.Release(context.Background(), r1.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := sched.scheduled[r1.ID]; ok {
		t.Fatal("release must cancel the reminder")
	}

	f.reserve(t, b.ID, "u2")
	now := f.clock.Advance(3 * time.Hour)
	if _, err := f.sweeper.Sweep(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if len(sched.scheduled) != 0 {
		t.Fatalf("expiry must cancel the reminder: %v", sched.scheduled)
	}

	want := []string{messaging.EventCreated, messaging.EventCompleted, messaging.EventCreated, messaging.EventExpired}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}
