package service

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/model"
	"github.com/Shivanand-hulikatti/parking-reservations/internal/repository"
)

// ReportWindow is how far back the occupancy report looks.
const ReportWindow = 30 * 24 * time.Hour

// ReportService builds the admin dashboard figures.
type ReportService struct {
	store   repository.ParkingStore
	sweeper *Sweeper
}

// NewReportService constructs a ReportService.
func NewReportService(store repository.ParkingStore, sweeper *Sweeper) *ReportService {
	return &ReportService{store: store, sweeper: sweeper}
}

// Dashboard sweeps expired reservations, then counts occupied spaces.
func (s *ReportService) Dashboard(ctx context.Context) (*model.Occupancy, error) {
	if s.sweeper != nil {
		if _, err := s.sweeper.SweepNow(ctx); err != nil {
			log.Printf("dashboard: sweep: %v", err)
		}
	}
	spaces, err := s.store.ListSpaces(ctx)
	if err != nil {
		return nil, storeErr("list spaces", err)
	}
	occ := &model.Occupancy{Total: len(spaces)}
	for _, sp := range spaces {
		if sp.IsOccupied {
			occ.Occupied++
		}
	}
	return occ, nil
}

// Report summarises reservations started within ReportWindow of now.
func (s *ReportService) Report(ctx context.Context, now time.Time) (*model.Report, error) {
	since := now.Add(-ReportWindow)
	reservations, err := s.store.ReservationsSince(ctx, since)
	if err != nil {
		return nil, storeErr("list reservations", err)
	}
	if reservations == nil {
		reservations = []model.Reservation{}
	}

	rep := &model.Report{Since: since, Total: len(reservations), Reservations: reservations}
	for _, r := range reservations {
		switch r.Status {
		case model.StatusActive:
			rep.Active++
		case model.StatusExpired:
			rep.Expired++
		case model.StatusCompleted:
			rep.Completed++
			rep.EstimatedRevenue += Charge(r)
		}
	}
	rep.EstimatedRevenue = math.Round(rep.EstimatedRevenue*100) / 100
	return rep, nil
}

// ReportNow builds the report at the store's clock.
func (s *ReportService) ReportNow(ctx context.Context) (*model.Report, error) {
	now, err := s.store.Now(ctx)
	if err != nil {
		return nil, storeErr("read clock", err)
	}
	return s.Report(ctx, now)
}

// Charge prices a reservation: every started hour is billed at the rate in
// effect when it was made.
func Charge(r model.Reservation) float64 {
	hours := math.Ceil(r.EndTime.Sub(r.StartTime).Hours())
	if hours < 0 {
		hours = 0
	}
	return hours * r.HourlyRate
}
