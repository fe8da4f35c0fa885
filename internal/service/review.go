package service

import (
	"context"

	"truckcount-api/internal/logger"
	"truckcount-api/internal/metrics"
	"truckcount-api/internal/model"
	"truckcount-api/internal/queue"
	"truckcount-api/pkg/uid"
)

// maxRedeliverySkips bounds how many already-approved redeliveries FetchNext
// acknowledges in one call before handing the message to the reviewer.
const maxRedeliverySkips = 3

// ApproveInput is a reviewer's decision on the pending message.
type ApproveInput struct {
	LeaseToken    string
	Approver      string
	ApprovedValue any
}

// ApprovalOutcome is the result of Approve. LeaseExpired reports that the
// broker lease had lapsed; the record is persisted either way.
type ApprovalOutcome struct {
	Record       *model.ApprovalRecord `json:"approved"`
	LeaseExpired bool                  `json:"lease_expired"`
}

// ReviewService is the review workflow over the queue consumer and the approval store.
type ReviewService struct {
	consumer  *queue.Consumer
	approvals *ApprovalService
}

// NewReviewService creates a new review service.
func NewReviewService(consumer *queue.Consumer, approvals *ApprovalService) *ReviewService {
	return &ReviewService{consumer: consumer, approvals: approvals}
}

// Peek returns the pending message without contacting the broker.
func (s *ReviewService) Peek(ctx context.Context) (*model.PendingMessage, error) {
	return s.consumer.Peek(ctx)
}

// FetchNext returns the pending message, polling the broker when none is held.
// Redeliveries of messages that already have an approval are acknowledged and skipped.
func (s *ReviewService) FetchNext(ctx context.Context) (*model.PendingMessage, error) {
	for skipped := 0; ; skipped++ {
		msg, err := s.consumer.PollOnce(ctx)
		if err != nil || msg == nil {
			return msg, err
		}

		existing, err := s.approvals.FindByMessageID(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil || skipped >= maxRedeliverySkips {
			return msg, nil
		}

		if err := s.consumer.Acknowledge(ctx, msg.LeaseToken); err != nil {
			return nil, err
		}
		metrics.RedeliveriesSkippedTotal.Inc()
		logger.Info("skipped redelivery of approved message", "component", "review", "request_id", uid.RequestID(ctx), "message_id", msg.ID, "approval_id", existing.ID)
	}
}

// Approve records the reviewer's count for the pending message and then
// acknowledges it. The record is written before the acknowledge, and retrying
// after a failed acknowledge returns the same record.
func (s *ReviewService) Approve(ctx context.Context, in ApproveInput) (*ApprovalOutcome, error) {
	if in.LeaseToken == "" {
		return nil, &model.ValidationError{Field: "lease_token", Message: "is required"}
	}
	if _, err := parseCount(in.ApprovedValue); err != nil {
		return nil, err
	}

	msg, err := s.consumer.Peek(ctx)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.LeaseToken != in.LeaseToken {
		return nil, &model.NotFoundError{Resource: "pending message", Key: "for lease token"}
	}
	if !msg.Decoded() {
		return nil, &model.ValidationError{Field: "body", Message: "message body could not be decoded, discard it instead"}
	}

	rec, err := s.approvals.Record(ctx, RecordInput{
		MessageID:     msg.ID,
		TruckNumber:   msg.Body.TruckNumber,
		OriginalCount: msg.Body.Count,
		ApprovedValue: in.ApprovedValue,
		Approver:      in.Approver,
	})
	if err != nil {
		return nil, err
	}

	expired, err := s.consumer.Approve(ctx, in.LeaseToken)
	if err != nil && !expired {
		return nil, err
	}
	if err != nil {
		logger.Warn("repoll after lapsed lease failed", "component", "review", "request_id", uid.RequestID(ctx), "message_id", msg.ID, "error", err)
	}
	return &ApprovalOutcome{Record: rec, LeaseExpired: expired}, nil
}

// Discard acknowledges the pending message without recording an approval.
// Used for bodies that could not be decoded.
func (s *ReviewService) Discard(ctx context.Context, leaseToken string) error {
	if leaseToken == "" {
		return &model.ValidationError{Field: "lease_token", Message: "is required"}
	}

	msg, err := s.consumer.Peek(ctx)
	if err != nil {
		return err
	}
	if msg == nil || msg.LeaseToken != leaseToken {
		return &model.NotFoundError{Resource: "pending message", Key: "for lease token"}
	}

	if err := s.consumer.Acknowledge(ctx, leaseToken); err != nil {
		return err
	}
	logger.Info("pending message discarded", "component", "review", "request_id", uid.RequestID(ctx), "message_id", msg.ID, "decoded", msg.Decoded())
	return nil
}

// Purge removes every message from the queue, including the pending one.
func (s *ReviewService) Purge(ctx context.Context) (queue.PurgeResult, error) {
	return s.consumer.Purge(ctx)
}
