package model

import "time"

// DateLayout is the canonical calendar-day key used by DailySummary.
const DateLayout = "2006-01-02"

// DailySummary is the per-truck, per-day aggregate.
//
// TotalApproved and EntryCount are derived from ApprovalRecord and are always
// overwritten as a whole. CountComplete is operator-owned and is only ever
// written by the explicit completion path.
type DailySummary struct {
	TruckNumber   string    `json:"truck_number"`
	Date          string    `json:"date"`
	TotalApproved int64     `json:"total_approved"`
	EntryCount    int64     `json:"entry_count"`
	CountComplete bool      `json:"count_complete"`
	UpdatedAt     time.Time `json:"updated_at"`
}
