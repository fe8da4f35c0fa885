package queue

import (
	"context"
	"errors"
	"time"

	"truckcount-api/internal/cache"
	"truckcount-api/internal/logger"
	"truckcount-api/internal/metrics"
	"truckcount-api/internal/model"
	"truckcount-api/internal/payload"
	"truckcount-api/pkg/uid"
)

// Consumer defaults
const (
	DefaultWaitTime          = 10 * time.Second
	DefaultVisibilityTimeout = 120 * time.Second
	DefaultPurgeBatch        = 10
	DefaultPurgeMaxRounds    = 1000
	purgeLease               = 30 * time.Second
)

// Purge modes
const (
	PurgeDrain  = "drain"
	PurgeNative = "native"
)

// Config holds the consumer's receive and purge policy.
type Config struct {
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	PurgeBatch        int
	PurgeMode         string
	PurgeMaxRounds    int
}

// PurgeResult summarizes a purge run.
type PurgeResult struct {
	Deleted int  `json:"deleted"`
	Failed  int  `json:"failed"`
	Native  bool `json:"native"`

	// Incomplete is set when the round limit ran out before a receive came back empty.
	Incomplete bool `json:"incomplete"`
}

// Consumer keeps at most one unacknowledged message outstanding. It is the
// only writer of the slot; every slot read-modify-write runs under the slot lock.
type Consumer struct {
	broker Broker
	slot   cache.Slot
	cfg    Config
	now    func() time.Time
}

// NewConsumer creates a consumer, filling unset config with defaults.
func NewConsumer(broker Broker, slot cache.Slot, cfg Config) *Consumer {
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = DefaultWaitTime
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.PurgeBatch <= 0 || cfg.PurgeBatch > DefaultPurgeBatch {
		cfg.PurgeBatch = DefaultPurgeBatch
	}
	if cfg.PurgeMode == "" {
		cfg.PurgeMode = PurgeDrain
	}
	if cfg.PurgeMaxRounds <= 0 {
		cfg.PurgeMaxRounds = DefaultPurgeMaxRounds
	}
	return &Consumer{broker: broker, slot: slot, cfg: cfg, now: time.Now}
}

// Peek returns the pending message without contacting the broker.
func (c *Consumer) Peek(ctx context.Context) (*model.PendingMessage, error) {
	msg, err := c.slot.Peek(ctx)
	if err != nil {
		return nil, model.Transport("read slot", err)
	}
	return msg, nil
}

// PollOnce returns the pending message, receiving one from the broker only
// when the slot is empty. An empty receive returns nil.
func (c *Consumer) PollOnce(ctx context.Context) (*model.PendingMessage, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return c.pollLocked(ctx)
}

// Approve acknowledges the delivery behind leaseToken. When the broker
// reports the lease as lapsed, the slot is cleared and one fresh poll is made;
// leaseExpired is then true and the error is nil unless that poll failed.
func (c *Consumer) Approve(ctx context.Context, leaseToken string) (leaseExpired bool, err error) {
	if leaseToken == "" {
		return false, &model.ValidationError{Field: "lease_token", Message: "is required"}
	}

	unlock, err := c.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	expired, err := c.deleteLocked(ctx, leaseToken)
	if err != nil || !expired {
		return false, err
	}

	if _, err := c.pollLocked(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Acknowledge deletes a delivery without polling again. A lapsed lease is not an error.
func (c *Consumer) Acknowledge(ctx context.Context, leaseToken string) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = c.deleteLocked(ctx, leaseToken)
	return err
}

// Purge removes every message from the queue, including the pending one.
func (c *Consumer) Purge(ctx context.Context) (PurgeResult, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return PurgeResult{}, err
	}
	defer unlock()

	if c.cfg.PurgeMode == PurgeNative {
		if purger, ok := c.broker.(Purger); ok {
			if err := purger.PurgeAll(ctx); err != nil {
				return PurgeResult{}, model.Transport("purge queue", err)
			}
			if err := c.slot.Clear(ctx); err != nil {
				return PurgeResult{Native: true}, model.Transport("clear slot", err)
			}
			logger.Info("queue purge requested", "component", "consumer", "request_id", uid.RequestID(ctx), "mode", PurgeNative)
			return PurgeResult{Native: true}, nil
		}
		logger.Warn("broker has no native purge, draining instead", "component", "consumer", "request_id", uid.RequestID(ctx))
	}

	return c.drainLocked(ctx)
}

func (c *Consumer) drainLocked(ctx context.Context) (PurgeResult, error) {
	var result PurgeResult
	defer func() {
		metrics.PurgedMessagesTotal.Add(float64(result.Deleted))
	}()

	current, err := c.slot.Peek(ctx)
	if err != nil {
		return result, model.Transport("read slot", err)
	}
	if current != nil {
		if err := c.broker.DeleteByLease(ctx, current.LeaseToken); err == nil {
			result.Deleted++
		} else if !errors.Is(err, ErrLeaseInvalid) {
			result.Failed++
			logger.Warn("purge failed to delete pending message", "component", "consumer", "request_id", uid.RequestID(ctx), "message_id", current.ID, "error", err)
		}
		if err := c.slot.Clear(ctx); err != nil {
			return result, model.Transport("clear slot", err)
		}
	}

	result.Incomplete = true
	for round := 0; round < c.cfg.PurgeMaxRounds; round++ {
		batch, err := c.broker.Receive(ctx, c.cfg.PurgeBatch, 0, purgeLease)
		if err != nil {
			return result, model.Transport("receive messages", err)
		}
		if len(batch) == 0 {
			result.Incomplete = false
			break
		}
		for _, d := range batch {
			if err := c.broker.DeleteByLease(ctx, d.LeaseToken); err != nil {
				result.Failed++
				logger.Warn("purge failed to delete message", "component", "consumer", "request_id", uid.RequestID(ctx), "message_id", d.ID, "error", err)
				continue
			}
			result.Deleted++
		}
	}

	if result.Incomplete {
		logger.Warn("purge stopped at round limit, messages may remain", "component", "consumer", "request_id", uid.RequestID(ctx),
			"rounds", c.cfg.PurgeMaxRounds, "deleted", result.Deleted, "failed", result.Failed)
		return result, nil
	}
	logger.Info("queue drained", "component", "consumer", "request_id", uid.RequestID(ctx), "deleted", result.Deleted, "failed", result.Failed)
	return result, nil
}

func (c *Consumer) pollLocked(ctx context.Context) (*model.PendingMessage, error) {
	current, err := c.slot.Peek(ctx)
	if err != nil {
		return nil, model.Transport("read slot", err)
	}
	if current != nil {
		return current, nil
	}

	deliveries, err := c.broker.Receive(ctx, 1, c.cfg.WaitTime, c.cfg.VisibilityTimeout)
	if err != nil {
		return nil, model.Transport("receive message", err)
	}
	if len(deliveries) == 0 {
		metrics.EmptyPollsTotal.Inc()
		if err := c.slot.Clear(ctx); err != nil {
			return nil, model.Transport("clear slot", err)
		}
		return nil, nil
	}

	d := deliveries[0]
	msg := &model.PendingMessage{
		ID:         d.ID,
		RawBody:    d.Body,
		LeaseToken: d.LeaseToken,
		ReceivedAt: c.now().UTC(),
	}
	if body, err := payload.Decode(d.Body); err != nil {
		metrics.DecodeFailuresTotal.Inc()
		logger.Warn("message body kept undecoded", "component", "consumer", "message_id", d.ID, "error", err)
	} else {
		msg.Body = body
	}

	if err := c.slot.Set(ctx, msg); err != nil {
		return nil, model.Transport("write slot", err)
	}
	metrics.MessagesReceivedTotal.Inc()
	logger.Info("message received", "component", "consumer", "request_id", uid.RequestID(ctx), "message_id", msg.ID, "decoded", msg.Decoded())
	return msg, nil
}

// deleteLocked deletes by lease and clears the slot if it holds that lease.
func (c *Consumer) deleteLocked(ctx context.Context, leaseToken string) (expired bool, err error) {
	err = c.broker.DeleteByLease(ctx, leaseToken)
	switch {
	case err == nil:
	case errors.Is(err, ErrLeaseInvalid):
		expired = true
		metrics.LeaseExpiredTotal.Inc()
		logger.Info("lease lapsed, message already gone or back on the queue", "component", "consumer", "request_id", uid.RequestID(ctx))
	default:
		return false, model.Transport("delete message", err)
	}

	current, err := c.slot.Peek(ctx)
	if err != nil {
		return expired, model.Transport("read slot", err)
	}
	if current != nil && current.LeaseToken == leaseToken {
		if err := c.slot.Clear(ctx); err != nil {
			return expired, model.Transport("clear slot", err)
		}
	}
	return expired, nil
}

func (c *Consumer) lock(ctx context.Context) (func(), error) {
	unlock, err := c.slot.Lock(ctx)
	if err != nil {
		return nil, model.Transport("lock slot", err)
	}
	return unlock, nil
}
