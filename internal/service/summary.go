package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"truckcount-api/internal/logger"
	"truckcount-api/internal/metrics"
	"truckcount-api/internal/model"
	"truckcount-api/internal/repository"
)

// SummaryService recomputes per-truck daily totals and records operator completion.
type SummaryService struct {
	approvals repository.ApprovalRepository
	summaries repository.SummaryRepository
	loc       *time.Location
	now       func() time.Time
}

// NewSummaryService creates a summary service bucketing days in loc.
func NewSummaryService(approvals repository.ApprovalRepository, summaries repository.SummaryRepository, loc *time.Location) *SummaryService {
	if loc == nil {
		loc = time.Local
	}
	return &SummaryService{approvals: approvals, summaries: summaries, loc: loc, now: time.Now}
}

// SetClock replaces the time source used to decide what "today" is.
func (s *SummaryService) SetClock(now func() time.Time) {
	s.now = now
}

// Today returns the current calendar date in the service location.
func (s *SummaryService) Today() string {
	return s.now().In(s.loc).Format(model.DateLayout)
}

// SyncToday recomputes today's summaries from the approval records.
func (s *SummaryService) SyncToday(ctx context.Context) ([]model.DailySummary, error) {
	return s.SyncDate(ctx, s.Today())
}

// SyncDate recomputes the summaries of one calendar date. Totals are
// overwritten from scratch; count_complete is never touched. Trucks without
// approvals that day get no row.
func (s *SummaryService) SyncDate(ctx context.Context, date string) ([]model.DailySummary, error) {
	start, err := s.dayStart(date)
	if err != nil {
		return nil, err
	}
	end := start.AddDate(0, 0, 1)

	began := time.Now()
	defer func() {
		metrics.SyncDuration.Observe(time.Since(began).Seconds())
	}()

	totals, err := s.approvals.TotalsBetween(ctx, start, end)
	if err != nil {
		return nil, model.Transport("aggregate approvals", err)
	}
	if err := s.summaries.UpsertTotals(ctx, date, totals, s.now().UTC().Truncate(time.Millisecond)); err != nil {
		return nil, model.Transport("upsert summaries", err)
	}

	summaries, err := s.summaries.ListSummaries(ctx, date)
	if err != nil {
		return nil, model.Transport("list summaries", err)
	}

	logger.Info("daily totals synced", "component", "summaries", "date", date, "trucks", len(totals))
	return summaries, nil
}

// MarkComplete sets count_complete on an existing summary. Completion cannot
// be declared before a sync has created the row.
func (s *SummaryService) MarkComplete(ctx context.Context, truckNumber, date string) (*model.DailySummary, error) {
	truckNumber = strings.TrimSpace(truckNumber)
	if truckNumber == "" {
		return nil, &model.ValidationError{Field: "truck_number", Message: "is required"}
	}
	if _, err := s.dayStart(date); err != nil {
		return nil, err
	}

	err := s.summaries.MarkComplete(ctx, truckNumber, date, s.now().UTC().Truncate(time.Millisecond))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &model.NotFoundError{Resource: "daily summary", Key: truckNumber + "/" + date}
	}
	if err != nil {
		return nil, model.Transport("mark complete", err)
	}

	sum, err := s.summaries.GetSummary(ctx, truckNumber, date)
	if err != nil {
		return nil, model.Transport("get summary", err)
	}

	logger.Info("daily count marked complete", "component", "summaries", "truck_number", truckNumber, "date", date)
	return sum, nil
}

// List returns the summaries of date, or of today when date is empty.
func (s *SummaryService) List(ctx context.Context, date string) ([]model.DailySummary, error) {
	if date == "" {
		date = s.Today()
	}
	if _, err := s.dayStart(date); err != nil {
		return nil, err
	}

	summaries, err := s.summaries.ListSummaries(ctx, date)
	if err != nil {
		return nil, model.Transport("list summaries", err)
	}
	return summaries, nil
}

func (s *SummaryService) dayStart(date string) (time.Time, error) {
	start, err := time.ParseInLocation(model.DateLayout, date, s.loc)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	return start, nil
}
