package model

import "time"

// ApprovalRecord is an immutable approval decision. Only ApprovedCount may be
// changed afterwards, and only once, through an explicit correction.
type ApprovalRecord struct {
	ID            string     `json:"id"`
	MessageID     string     `json:"message_id"`
	TruckNumber   string     `json:"truck_number"`
	OriginalCount int64      `json:"original_count"`
	ApprovedCount int64      `json:"approved_count"`
	Approver      string     `json:"approver"`
	CreatedAt     time.Time  `json:"created_at"`
	CorrectedAt   *time.Time `json:"corrected_at,omitempty"`
}

// TruckTotal is one group of the per-day approval aggregation.
type TruckTotal struct {
	TruckNumber   string `json:"truck_number"`
	TotalApproved int64  `json:"total_approved"`
	EntryCount    int64  `json:"entry_count"`
}
