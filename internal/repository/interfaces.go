package repository

import (
	"context"
	"errors"
	"time"

	"truckcount-api/internal/model"
)

// Repository errors
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("duplicate record")
	ErrAlreadyCorrected = errors.New("approval already corrected")
)

// ApprovalFilter narrows ListApprovals. Zero values match everything.
type ApprovalFilter struct {
	TruckNumber string
	From        time.Time // inclusive
	To          time.Time // exclusive
	Limit       int
}

// ApprovalRepository defines approval record data access methods.
type ApprovalRepository interface {
	// CreateApproval inserts a record. Returns ErrDuplicate if message_id already exists.
	CreateApproval(ctx context.Context, rec *model.ApprovalRecord) error

	// GetApproval returns a record by ID or ErrNotFound.
	GetApproval(ctx context.Context, id string) (*model.ApprovalRecord, error)

	// FindApprovalByMessageID returns the record for a broker message or ErrNotFound.
	FindApprovalByMessageID(ctx context.Context, messageID string) (*model.ApprovalRecord, error)

	// CorrectApprovedCount overwrites approved_count once.
	// Returns ErrNotFound or ErrAlreadyCorrected.
	CorrectApprovedCount(ctx context.Context, id string, count int64, at time.Time) (*model.ApprovalRecord, error)

	// ListApprovals returns records newest first.
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]model.ApprovalRecord, error)

	// TotalsBetween groups records created in [from, to) by truck number.
	TotalsBetween(ctx context.Context, from, to time.Time) ([]model.TruckTotal, error)
}

// SummaryRepository defines daily summary data access methods.
type SummaryRepository interface {
	// UpsertTotals writes derived totals for date. New rows start with
	// count_complete false; existing rows keep their flag.
	UpsertTotals(ctx context.Context, date string, totals []model.TruckTotal, at time.Time) error

	// ListSummaries returns the rows for date ordered by truck number.
	ListSummaries(ctx context.Context, date string) ([]model.DailySummary, error)

	// GetSummary returns one row or ErrNotFound.
	GetSummary(ctx context.Context, truckNumber, date string) (*model.DailySummary, error)

	// MarkComplete sets count_complete on an existing row or returns ErrNotFound.
	MarkComplete(ctx context.Context, truckNumber, date string, at time.Time) error
}

// Store is a backend holding both collections.
type Store interface {
	ApprovalRepository
	SummaryRepository

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// GetStats returns statistics about the database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the connection.
	Close() error
}
