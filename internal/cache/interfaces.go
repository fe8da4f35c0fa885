package cache

import (
	"context"

	"truckcount-api/internal/model"
)

// Slot holds at most one pending message.
// This abstraction allows swapping between the in-process slot (single
// instance) and a Redis slot (several API replicas sharing one queue) without
// changing the consumer.
type Slot interface {
	// Peek returns the current message, or nil when the slot is empty.
	Peek(ctx context.Context) (*model.PendingMessage, error)

	// Set replaces the slot contents as a whole.
	Set(ctx context.Context, msg *model.PendingMessage) error

	// Clear empties the slot.
	Clear(ctx context.Context) error

	// Lock enters the slot's critical section. The returned func releases it.
	Lock(ctx context.Context) (func(), error)
}

// SlotError is a sentinel error type for slot failures.
type SlotError string

func (e SlotError) Error() string { return string(e) }

const (
	// ErrLockTimeout indicates the critical section could not be entered in time.
	ErrLockTimeout SlotError = "slot lock timeout"
)
