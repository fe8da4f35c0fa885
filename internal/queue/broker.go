// Package queue owns the lease lifecycle of review messages against the broker.
package queue

import (
	"context"
	"time"
)

// KindLeaseInvalid is the ErrorKind of ErrLeaseInvalid.
const KindLeaseInvalid = "lease_invalid"

// BrokerError is a sentinel error type for broker-state conditions.
type BrokerError string

func (e BrokerError) Error() string { return string(e) }

func (e BrokerError) ErrorKind() string { return KindLeaseInvalid }

const (
	// ErrLeaseInvalid means the lease token was already used or has lapsed.
	// Broker adapters must wrap it so errors.Is matches.
	ErrLeaseInvalid BrokerError = "lease invalid or expired"
)

// Delivery is one leased message as returned by Receive.
type Delivery struct {
	ID         string
	Body       string
	LeaseToken string
}

// Broker is the at-least-once transport the consumer depends on.
type Broker interface {
	// Receive leases up to maxCount messages, waiting at most wait for one to arrive.
	Receive(ctx context.Context, maxCount int, wait, lease time.Duration) ([]Delivery, error)

	// DeleteByLease acknowledges a delivery. Returns ErrLeaseInvalid for stale tokens.
	DeleteByLease(ctx context.Context, leaseToken string) error
}

// Purger is implemented by brokers with a native, eventually consistent bulk purge.
type Purger interface {
	PurgeAll(ctx context.Context) error
}
