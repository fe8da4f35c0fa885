package cache

import (
	"context"
	"sync"

	"truckcount-api/internal/model"
)

// MemorySlot is an in-process implementation of Slot.
// Use this for single-instance deployments and tests.
type MemorySlot struct {
	mu  sync.RWMutex
	msg *model.PendingMessage

	// sem guards the read-modify-write critical section; a buffered channel
	// so waiters can give up when their context ends.
	sem chan struct{}
}

// NewMemorySlot creates an empty slot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{sem: make(chan struct{}, 1)}
}

// Peek returns a copy of the current message.
func (s *MemorySlot) Peek(ctx context.Context) (*model.PendingMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.msg == nil {
		return nil, nil
	}
	return copyMessage(s.msg), nil
}

// Set replaces the slot contents.
func (s *MemorySlot) Set(ctx context.Context, msg *model.PendingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg == nil {
		s.msg = nil
		return nil
	}
	s.msg = copyMessage(msg)
	return nil
}

// Clear empties the slot.
func (s *MemorySlot) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msg = nil
	return nil
}

// Lock enters the critical section or fails when ctx ends first.
func (s *MemorySlot) Lock(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-s.sem })
	}, nil
}

func copyMessage(msg *model.PendingMessage) *model.PendingMessage {
	out := *msg
	if msg.Body != nil {
		body := *msg.Body
		out.Body = &body
	}
	return &out
}

// Ensure MemorySlot implements Slot
var _ Slot = (*MemorySlot)(nil)
