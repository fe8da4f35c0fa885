// Package uid hands out the identifiers the service uses: approval record
// ids, request ids and slot lock tokens. Request ids travel on the context so
// the queue and slot layers can tag their logs without importing HTTP code.
package uid

import (
	"context"

	"github.com/google/uuid"
)

// MaxRequestIDLength caps caller-supplied request ids.
const MaxRequestIDLength = 64

type requestIDKey struct{}

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// NewLockToken returns an owner token for the shared slot lock, prefixed with
// the request id carried by ctx so a held lock can be traced to its request.
func NewLockToken(ctx context.Context) string {
	token := uuid.New().String()
	if id := RequestID(ctx); id != "" {
		return id + "/" + token
	}
	return token
}

// ValidRequestID reports whether a caller-supplied request id may be echoed
// back and written to logs: non-empty, bounded, printable ASCII without spaces.
func ValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '!' || id[i] > '~' {
			return false
		}
	}
	return true
}

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
