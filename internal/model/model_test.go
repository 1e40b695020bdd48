package model

import (
	"testing"
	"time"
)

func TestOccupyAndFreeKeepSpaceConsistent(t *testing.T) {
	var s ParkingSpace
	if !s.Consistent() {
		t.Fatal("zero space should be consistent")
	}
	s.Occupy("u1", time.Now())
	if !s.IsOccupied || !s.Consistent() {
		t.Fatalf("occupied space inconsistent: %+v", s)
	}
	s.Free()
	if s.IsOccupied || !s.Consistent() {
		t.Fatalf("freed space inconsistent: %+v", s)
	}

	s.IsOccupied = true
	if s.Consistent() {
		t.Fatal("occupied without holder must be inconsistent")
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ReservationStatus
		want     bool
	}{
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusActive, false},
		{StatusCompleted, StatusExpired, false},
		{StatusExpired, StatusCompleted, false},
		{StatusCompleted, StatusActive, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOverdue(t *testing.T) {
	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := Reservation{Status: StatusActive, EndTime: end}
	if r.Overdue(end) {
		t.Fatal("not overdue exactly at end time")
	}
	if !r.Overdue(end.Add(time.Nanosecond)) {
		t.Fatal("overdue after end time")
	}
	r.Status = StatusCompleted
	if r.Overdue(end.Add(time.Hour)) {
		t.Fatal("terminal reservations are never overdue")
	}
}
