package model

import "time"

// LoadCount is the structured payload carried by a truck-load message.
type LoadCount struct {
	TruckNumber string `json:"truck_number"`
	Count       int64  `json:"count"`
}

// PendingMessage is the single message currently held for human review.
// Body is nil when the payload could not be decoded; RawBody is always kept
// so an operator can still inspect and discard it.
type PendingMessage struct {
	ID         string     `json:"id"`
	Body       *LoadCount `json:"body"`
	RawBody    string     `json:"raw_body"`
	LeaseToken string     `json:"lease_token"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Decoded reports whether the payload was understood.
func (m *PendingMessage) Decoded() bool {
	return m != nil && m.Body != nil
}
