package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"truckcount-api/internal/logger"
	"truckcount-api/internal/model"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type approvalRow struct {
	ID            string     `gorm:"primaryKey;size:36"`
	MessageID     string     `gorm:"size:191;not null;uniqueIndex:uk_approvals_message"`
	TruckNumber   string     `gorm:"size:191;not null;index:idx_approvals_truck"`
	OriginalCount int64      `gorm:"not null"`
	ApprovedCount int64      `gorm:"not null"`
	Approver      string     `gorm:"size:191;not null"`
	CreatedAt     time.Time  `gorm:"type:datetime(6);not null;autoCreateTime:false;index:idx_approvals_created_at"`
	CorrectedAt   *time.Time `gorm:"type:datetime(6)"`
}

type summaryRow struct {
	TruckNumber   string    `gorm:"primaryKey;size:191"`
	SummaryDate   string    `gorm:"primaryKey;size:10;index:idx_summaries_date"`
	TotalApproved int64     `gorm:"not null"`
	EntryCount    int64     `gorm:"not null"`
	CountComplete bool      `gorm:"not null;default:false"`
	UpdatedAt     time.Time `gorm:"type:datetime(6);not null;autoUpdateTime:false"`
}

func (approvalRow) TableName() string { return "approvals" }
func (summaryRow) TableName() string  { return "daily_summaries" }

func (r approvalRow) toModel() model.ApprovalRecord {
	rec := model.ApprovalRecord{
		ID:            r.ID,
		MessageID:     r.MessageID,
		TruckNumber:   r.TruckNumber,
		OriginalCount: r.OriginalCount,
		ApprovedCount: r.ApprovedCount,
		Approver:      r.Approver,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if r.CorrectedAt != nil {
		t := r.CorrectedAt.UTC()
		rec.CorrectedAt = &t
	}
	return rec
}

func (r summaryRow) toModel() model.DailySummary {
	return model.DailySummary{
		TruckNumber:   r.TruckNumber,
		Date:          r.SummaryDate,
		TotalApproved: r.TotalApproved,
		EntryCount:    r.EntryCount,
		CountComplete: r.CountComplete,
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

// MySQLStore implements Store on MySQL through gorm.
type MySQLStore struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewMySQLStore connects with a driver config, e.g. from gomysql.ParseDSN.
func NewMySQLStore(cfg *gomysql.Config) (*MySQLStore, error) {
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create connector: %w", err)
	}
	sqlDB := sql.OpenDB(connector)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	if err := db.AutoMigrate(&approvalRow{}, &summaryRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	logger.Info("mysql store ready", "component", "repository", "addr", cfg.Addr, "db", cfg.DBName)
	return &MySQLStore{db: db, sqlDB: sqlDB}, nil
}

func isMySQLDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *gomysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// CreateApproval inserts a record.
func (s *MySQLStore) CreateApproval(ctx context.Context, rec *model.ApprovalRecord) error {
	row := approvalRow{
		ID:            rec.ID,
		MessageID:     rec.MessageID,
		TruckNumber:   rec.TruckNumber,
		OriginalCount: rec.OriginalCount,
		ApprovedCount: rec.ApprovedCount,
		Approver:      rec.Approver,
		CreatedAt:     rec.CreatedAt.UTC(),
		CorrectedAt:   rec.CorrectedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isMySQLDuplicate(err) {
			return fmt.Errorf("approval for message %s: %w", rec.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// GetApproval returns a record by ID.
func (s *MySQLStore) GetApproval(ctx context.Context, id string) (*model.ApprovalRecord, error) {
	return s.firstApproval(ctx, "id = ?", id)
}

// FindApprovalByMessageID returns the record for a broker message.
func (s *MySQLStore) FindApprovalByMessageID(ctx context.Context, messageID string) (*model.ApprovalRecord, error) {
	return s.firstApproval(ctx, "message_id = ?", messageID)
}

func (s *MySQLStore) firstApproval(ctx context.Context, cond string, arg string) (*model.ApprovalRecord, error) {
	var row approvalRow
	err := s.db.WithContext(ctx).Where(cond, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	rec := row.toModel()
	return &rec, nil
}

// CorrectApprovedCount overwrites approved_count if the record was never corrected.
func (s *MySQLStore) CorrectApprovedCount(ctx context.Context, id string, count int64, at time.Time) (*model.ApprovalRecord, error) {
	result := s.db.WithContext(ctx).Model(&approvalRow{}).
		Where("id = ? AND corrected_at IS NULL", id).
		Updates(map[string]interface{}{
			"approved_count": count,
			"corrected_at":   at.UTC(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to correct approval: %w", result.Error)
	}

	rec, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyCorrected
	}
	return rec, nil
}

// ListApprovals returns records newest first.
func (s *MySQLStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]model.ApprovalRecord, error) {
	q := s.db.WithContext(ctx).Model(&approvalRow{})
	if filter.TruckNumber != "" {
		q = q.Where("truck_number = ?", filter.TruckNumber)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []approvalRow
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	records := make([]model.ApprovalRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toModel())
	}
	return records, nil
}

// TotalsBetween groups records created in [from, to) by truck number.
func (s *MySQLStore) TotalsBetween(ctx context.Context, from, to time.Time) ([]model.TruckTotal, error) {
	totals := []model.TruckTotal{}
	err := s.db.WithContext(ctx).Model(&approvalRow{}).
		Select("truck_number, SUM(approved_count) AS total_approved, COUNT(*) AS entry_count").
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Group("truck_number").
		Order("truck_number").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate approvals: %w", err)
	}
	return totals, nil
}

// UpsertTotals writes derived totals; the conflict update never lists count_complete.
func (s *MySQLStore) UpsertTotals(ctx context.Context, date string, totals []model.TruckTotal, at time.Time) error {
	if len(totals) == 0 {
		return nil
	}

	rows := make([]summaryRow, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, summaryRow{
			TruckNumber:   t.TruckNumber,
			SummaryDate:   date,
			TotalApproved: t.TotalApproved,
			EntryCount:    t.EntryCount,
			UpdatedAt:     at.UTC(),
		})
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "truck_number"}, {Name: "summary_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_approved", "entry_count", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert summaries for %s: %w", date, err)
	}
	return nil
}

// ListSummaries returns the rows for date.
func (s *MySQLStore) ListSummaries(ctx context.Context, date string) ([]model.DailySummary, error) {
	var rows []summaryRow
	err := s.db.WithContext(ctx).
		Where("summary_date = ?", date).
		Order("truck_number").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}

	summaries := make([]model.DailySummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, row.toModel())
	}
	return summaries, nil
}

// GetSummary returns one row.
func (s *MySQLStore) GetSummary(ctx context.Context, truckNumber, date string) (*model.DailySummary, error) {
	var row summaryRow
	err := s.db.WithContext(ctx).
		Where("truck_number = ? AND summary_date = ?", truckNumber, date).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	sum := row.toModel()
	return &sum, nil
}

// MarkComplete sets count_complete. MySQL reports zero affected rows for a
// no-op update, so existence is checked first.
func (s *MySQLStore) MarkComplete(ctx context.Context, truckNumber, date string, at time.Time) error {
	if _, err := s.GetSummary(ctx, truckNumber, date); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Model(&summaryRow{}).
		Where("truck_number = ? AND summary_date = ?", truckNumber, date).
		Updates(map[string]interface{}{
			"count_complete": true,
			"updated_at":     at.UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark summary complete: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// GetStats returns row counts, the latest approval time and pool stats.
func (s *MySQLStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["backend"] = "mysql"

	var approvals, summaries int64
	if err := s.db.WithContext(ctx).Model(&approvalRow{}).Count(&approvals).Error; err != nil {
		return nil, err
	}
	stats["total_approvals"] = approvals

	if err := s.db.WithContext(ctx).Model(&summaryRow{}).Count(&summaries).Error; err != nil {
		return nil, err
	}
	stats["total_summaries"] = summaries

	var last sql.NullTime
	if err := s.db.WithContext(ctx).Model(&approvalRow{}).Select("MAX(created_at)").Scan(&last).Error; err == nil && last.Valid {
		stats["last_approval"] = last.Time.UTC()
	}

	dbStats := s.sqlDB.Stats()
	stats["connections"] = map[string]interface{}{
		"open":     dbStats.OpenConnections,
		"in_use":   dbStats.InUse,
		"idle":     dbStats.Idle,
		"max_open": dbStats.MaxOpenConnections,
	}

	return stats, nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.sqlDB.Close()
}

// Ensure MySQLStore implements Store
var _ Store = (*MySQLStore)(nil)
