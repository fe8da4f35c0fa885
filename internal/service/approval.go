package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"truckcount-api/internal/logger"
	"truckcount-api/internal/metrics"
	"truckcount-api/internal/model"
	"truckcount-api/internal/payload"
	"truckcount-api/internal/repository"
	"truckcount-api/pkg/uid"
)

// DefaultApprover is recorded when the caller does not name one.
const DefaultApprover = "unknown"

// RecordInput is one approval decision as submitted by a reviewer.
type RecordInput struct {
	MessageID     string
	TruckNumber   string
	OriginalCount int64
	ApprovedValue any
	Approver      string
}

// ApprovalService persists and corrects approval records.
type ApprovalService struct {
	repo repository.ApprovalRepository
	now  func() time.Time
}

// NewApprovalService creates a new approval service.
func NewApprovalService(repo repository.ApprovalRepository) *ApprovalService {
	return &ApprovalService{repo: repo, now: time.Now}
}

// SetClock replaces the time source used for created_at and corrected_at.
func (s *ApprovalService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *ApprovalService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Record validates and persists one approval. Recording a message that
// already has an approval returns the stored record unchanged.
func (s *ApprovalService) Record(ctx context.Context, in RecordInput) (*model.ApprovalRecord, error) {
	if strings.TrimSpace(in.MessageID) == "" {
		return nil, &model.ValidationError{Field: "message_id", Message: "is required"}
	}
	truck := strings.TrimSpace(in.TruckNumber)
	if truck == "" {
		return nil, &model.ValidationError{Field: "truck_number", Message: "is required"}
	}
	if in.OriginalCount < 0 {
		return nil, &model.ValidationError{Field: "original_count", Message: "must not be negative"}
	}
	approved, err := parseCount(in.ApprovedValue)
	if err != nil {
		return nil, err
	}
	approver := strings.TrimSpace(in.Approver)
	if approver == "" {
		approver = DefaultApprover
	}

	rec := &model.ApprovalRecord{
		ID:            uid.New(),
		MessageID:     in.MessageID,
		TruckNumber:   truck,
		OriginalCount: in.OriginalCount,
		ApprovedCount: approved,
		Approver:      approver,
		CreatedAt:     s.timestamp(),
	}

	err = s.repo.CreateApproval(ctx, rec)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, findErr := s.repo.FindApprovalByMessageID(ctx, in.MessageID)
		if findErr != nil {
			return nil, model.Transport("find approval", findErr)
		}
		logger.Info("approval already recorded", "component", "approvals", "message_id", in.MessageID, "id", existing.ID)
		return existing, nil
	}
	if err != nil {
		return nil, model.Transport("create approval", err)
	}

	metrics.ApprovalsTotal.Inc()
	logger.Info("approval recorded", "component", "approvals",
		"id", rec.ID, "message_id", rec.MessageID, "truck_number", rec.TruckNumber,
		"original_count", rec.OriginalCount, "approved_count", rec.ApprovedCount, "approver", rec.Approver)
	return rec, nil
}

// FindByMessageID returns the approval for a broker message, or nil.
func (s *ApprovalService) FindByMessageID(ctx context.Context, messageID string) (*model.ApprovalRecord, error) {
	rec, err := s.repo.FindApprovalByMessageID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Transport("find approval", err)
	}
	return rec, nil
}

// Correct overwrites approved_count on an existing record. A record can be corrected once.
func (s *ApprovalService) Correct(ctx context.Context, id string, value any) (*model.ApprovalRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &model.ValidationError{Field: "id", Message: "is required"}
	}
	count, err := parseCount(value)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.CorrectApprovedCount(ctx, id, count, s.timestamp())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, &model.NotFoundError{Resource: "approval", Key: id}
	case errors.Is(err, repository.ErrAlreadyCorrected):
		return nil, &model.ValidationError{Field: "approved_count", Message: "approval already corrected"}
	case err != nil:
		return nil, model.Transport("correct approval", err)
	}

	logger.Info("approval corrected", "component", "approvals", "id", id, "approved_count", count)
	return rec, nil
}

// List returns approvals newest first.
func (s *ApprovalService) List(ctx context.Context, filter repository.ApprovalFilter) ([]model.ApprovalRecord, error) {
	records, err := s.repo.ListApprovals(ctx, filter)
	if err != nil {
		return nil, model.Transport("list approvals", err)
	}
	return records, nil
}

func parseCount(value any) (int64, error) {
	if value == nil {
		return 0, &model.ValidationError{Field: "approved_count", Message: "is required"}
	}
	count, ok := payload.ToCount(value)
	if !ok {
		return 0, &model.ValidationError{Field: "approved_count", Message: "must be a whole non-negative number"}
	}
	return count, nil
}
