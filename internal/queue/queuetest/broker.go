// Package queuetest provides an in-memory broker with lease semantics for tests.
package queuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"truckcount-api/internal/queue"
)

// Broker is an in-memory queue.Broker and queue.Purger.
type Broker struct {
	mu       sync.Mutex
	visible  []queue.Delivery
	inflight map[string]queue.Delivery // lease token -> delivery
	leaseSeq int

	receiveCalls int
	deleteCalls  int
	purgeCalls   int

	// ReceiveErr, when set, is returned by every Receive.
	ReceiveErr error
	// DeleteErrs forces DeleteByLease to fail for the given message IDs.
	DeleteErrs map[string]error
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		inflight:   make(map[string]queue.Delivery),
		DeleteErrs: make(map[string]error),
	}
}

// Push enqueues a visible message.
func (b *Broker) Push(id, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible = append(b.visible, queue.Delivery{ID: id, Body: body})
}

// Receive leases up to maxCount visible messages. wait is ignored.
func (b *Broker) Receive(ctx context.Context, maxCount int, wait, lease time.Duration) ([]queue.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receiveCalls++
	if b.ReceiveErr != nil {
		return nil, b.ReceiveErr
	}

	n := maxCount
	if n > len(b.visible) {
		n = len(b.visible)
	}
	out := make([]queue.Delivery, 0, n)
	for _, d := range b.visible[:n] {
		b.leaseSeq++
		d.LeaseToken = fmt.Sprintf("lease-%d", b.leaseSeq)
		b.inflight[d.LeaseToken] = d
		out = append(out, d)
	}
	b.visible = b.visible[n:]
	return out, nil
}

// DeleteByLease acknowledges an in-flight delivery.
func (b *Broker) DeleteByLease(ctx context.Context, leaseToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deleteCalls++
	d, ok := b.inflight[leaseToken]
	if !ok {
		return fmt.Errorf("%w: %s", queue.ErrLeaseInvalid, leaseToken)
	}
	if err := b.DeleteErrs[d.ID]; err != nil {
		return err
	}
	delete(b.inflight, leaseToken)
	return nil
}

// PurgeAll drops every message, visible or in flight.
func (b *Broker) PurgeAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.purgeCalls++
	b.visible = nil
	b.inflight = make(map[string]queue.Delivery)
	return nil
}

// ExpireLease simulates a lapsed visibility timeout: the delivery goes back to
// the front of the queue with the same message ID and the token stops working.
func (b *Broker) ExpireLease(leaseToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.inflight[leaseToken]
	if !ok {
		return
	}
	delete(b.inflight, leaseToken)
	d.LeaseToken = ""
	b.visible = append([]queue.Delivery{d}, b.visible...)
}

// ReceiveCalls returns how many times Receive was called.
func (b *Broker) ReceiveCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receiveCalls
}

// DeleteCalls returns how many times DeleteByLease was called.
func (b *Broker) DeleteCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteCalls
}

// PurgeCalls returns how many times PurgeAll was called.
func (b *Broker) PurgeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.purgeCalls
}

// Visible returns the number of messages waiting to be received.
func (b *Broker) Visible() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.visible)
}

// InFlight returns the number of leased, unacknowledged messages.
func (b *Broker) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inflight)
}

var (
	_ queue.Broker = (*Broker)(nil)
	_ queue.Purger = (*Broker)(nil)
)
