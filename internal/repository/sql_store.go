package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"truckcount-api/internal/model"
)

// dialect captures what differs between the database/sql backends.
type dialect struct {
	name        string
	numbered    bool // $1 placeholders instead of ?
	encodeTime  func(time.Time) interface{}
	isDuplicate func(error) bool
}

// sqlStore implements Store on database/sql. SQLite and PostgreSQL embed it.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

const approvalColumns = `id, message_id, truck_number, original_count, approved_count, approver, created_at, corrected_at`

const summaryColumns = `truck_number, summary_date, total_approved, entry_count, count_complete, updated_at`

func (s *sqlStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return s.d.encodeTime(*t)
}

// CreateApproval inserts a record.
func (s *sqlStore) CreateApproval(ctx context.Context, rec *model.ApprovalRecord) error {
	query := s.rebind(`INSERT INTO approvals (` + approvalColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.MessageID, rec.TruckNumber, rec.OriginalCount, rec.ApprovedCount,
		rec.Approver, s.d.encodeTime(rec.CreatedAt), s.nullableTime(rec.CorrectedAt))
	if err != nil {
		if s.d.isDuplicate(err) {
			return fmt.Errorf("approval for message %s: %w", rec.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// GetApproval returns a record by ID.
func (s *sqlStore) GetApproval(ctx context.Context, id string) (*model.ApprovalRecord, error) {
	query := s.rebind(`SELECT ` + approvalColumns + ` FROM approvals WHERE id = ?`)
	return s.getApproval(ctx, query, id)
}

// FindApprovalByMessageID returns the record for a broker message.
func (s *sqlStore) FindApprovalByMessageID(ctx context.Context, messageID string) (*model.ApprovalRecord, error) {
	query := s.rebind(`SELECT ` + approvalColumns + ` FROM approvals WHERE message_id = ?`)
	return s.getApproval(ctx, query, messageID)
}

func (s *sqlStore) getApproval(ctx context.Context, query string, arg string) (*model.ApprovalRecord, error) {
	rec, err := scanApproval(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return rec, nil
}

// CorrectApprovedCount overwrites approved_count if the record was never corrected.
func (s *sqlStore) CorrectApprovedCount(ctx context.Context, id string, count int64, at time.Time) (*model.ApprovalRecord, error) {
	query := s.rebind(`UPDATE approvals SET approved_count = ?, corrected_at = ? WHERE id = ? AND corrected_at IS NULL`)

	result, err := s.db.ExecContext(ctx, query, count, s.d.encodeTime(at), id)
	if err != nil {
		return nil, fmt.Errorf("failed to correct approval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	rec, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrAlreadyCorrected
	}
	return rec, nil
}

// ListApprovals returns records newest first.
func (s *sqlStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]model.ApprovalRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.TruckNumber != "" {
		where = append(where, "truck_number = ?")
		args = append(args, filter.TruckNumber)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, s.d.encodeTime(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, s.d.encodeTime(filter.To))
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	records := []model.ApprovalRecord{}
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// TotalsBetween groups records created in [from, to) by truck number.
func (s *sqlStore) TotalsBetween(ctx context.Context, from, to time.Time) ([]model.TruckTotal, error) {
	query := s.rebind(`
		SELECT truck_number, SUM(approved_count), COUNT(*)
		FROM approvals
		WHERE created_at >= ? AND created_at < ?
		GROUP BY truck_number
		ORDER BY truck_number`)

	rows, err := s.db.QueryContext(ctx, query, s.d.encodeTime(from), s.d.encodeTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate approvals: %w", err)
	}
	defer rows.Close()

	totals := []model.TruckTotal{}
	for rows.Next() {
		var t model.TruckTotal
		if err := rows.Scan(&t.TruckNumber, &t.TotalApproved, &t.EntryCount); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// UpsertTotals writes derived totals in one transaction. count_complete is
// not in the update list, so recomputation never touches it.
func (s *sqlStore) UpsertTotals(ctx context.Context, date string, totals []model.TruckTotal, at time.Time) error {
	if len(totals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO daily_summaries (truck_number, summary_date, total_approved, entry_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (truck_number, summary_date) DO UPDATE SET
			total_approved = excluded.total_approved,
			entry_count = excluded.entry_count,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	updatedAt := s.d.encodeTime(at)
	for _, t := range totals {
		if _, err := stmt.ExecContext(ctx, t.TruckNumber, date, t.TotalApproved, t.EntryCount, updatedAt); err != nil {
			return fmt.Errorf("failed to upsert summary %s/%s: %w", t.TruckNumber, date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSummaries returns the rows for date.
func (s *sqlStore) ListSummaries(ctx context.Context, date string) ([]model.DailySummary, error) {
	query := s.rebind(`SELECT ` + summaryColumns + ` FROM daily_summaries WHERE summary_date = ? ORDER BY truck_number`)

	rows, err := s.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	summaries := []model.DailySummary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, *sum)
	}
	return summaries, rows.Err()
}

// GetSummary returns one row.
func (s *sqlStore) GetSummary(ctx context.Context, truckNumber, date string) (*model.DailySummary, error) {
	query := s.rebind(`SELECT ` + summaryColumns + ` FROM daily_summaries WHERE truck_number = ? AND summary_date = ?`)

	sum, err := scanSummary(s.db.QueryRowContext(ctx, query, truckNumber, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return sum, nil
}

// MarkComplete sets count_complete and nothing else.
func (s *sqlStore) MarkComplete(ctx context.Context, truckNumber, date string, at time.Time) error {
	query := s.rebind(`UPDATE daily_summaries SET count_complete = ?, updated_at = ? WHERE truck_number = ? AND summary_date = ?`)

	result, err := s.db.ExecContext(ctx, query, true, s.d.encodeTime(at), truckNumber, date)
	if err != nil {
		return fmt.Errorf("failed to mark summary complete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetStats returns row counts and the latest approval time.
func (s *sqlStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["backend"] = s.d.name

	var approvals, summaries int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM approvals").Scan(&approvals); err != nil {
		return nil, err
	}
	stats["total_approvals"] = approvals

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_summaries").Scan(&summaries); err != nil {
		return nil, err
	}
	stats["total_summaries"] = summaries

	var last dbTime
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM approvals").Scan(&last); err == nil && last.Valid {
		stats["last_approval"] = last.Time
	}

	return stats, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (*model.ApprovalRecord, error) {
	var (
		rec       model.ApprovalRecord
		created   dbTime
		corrected dbTime
	)
	err := row.Scan(&rec.ID, &rec.MessageID, &rec.TruckNumber, &rec.OriginalCount,
		&rec.ApprovedCount, &rec.Approver, &created, &corrected)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = created.Time
	if corrected.Valid {
		t := corrected.Time
		rec.CorrectedAt = &t
	}
	return &rec, nil
}

func scanSummary(row rowScanner) (*model.DailySummary, error) {
	var (
		sum     model.DailySummary
		updated dbTime
	)
	err := row.Scan(&sum.TruckNumber, &sum.Date, &sum.TotalApproved, &sum.EntryCount,
		&sum.CountComplete, &updated)
	if err != nil {
		return nil, err
	}
	sum.UpdatedAt = updated.Time
	return &sum, nil
}

// textTimeLayout is fixed width so stored values sort and compare as text.
const textTimeLayout = "2006-01-02T15:04:05.000000000Z"

func encodeTextTime(t time.Time) interface{} {
	return t.UTC().Format(textTimeLayout)
}

// dbTime scans timestamps stored either natively or as text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", value)
	}
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	t.Time, t.Valid = parsed.UTC(), true
	return nil
}

// Ensure sqlStore implements Store
var _ Store = (*sqlStore)(nil)
