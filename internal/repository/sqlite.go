package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"truckcount-api/internal/logger"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath,
// e.g. "./data/truckcount.db".
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("sqlite store ready", "component", "repository", "path", dbPath)
	return &SQLiteStore{
		sqlStore: &sqlStore{db: db, d: dialect{
			name:        "sqlite",
			encodeTime:  encodeTextTime,
			isDuplicate: isSQLiteDuplicate,
		}},
		path: dbPath,
	}, nil
}

// Timestamps are TEXT in textTimeLayout so range filters compare correctly.
func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		truck_number TEXT NOT NULL,
		original_count INTEGER NOT NULL,
		approved_count INTEGER NOT NULL,
		approver TEXT NOT NULL,
		created_at TEXT NOT NULL,
		corrected_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_created_at ON approvals(created_at);
	CREATE INDEX IF NOT EXISTS idx_approvals_truck ON approvals(truck_number);

	CREATE TABLE IF NOT EXISTS daily_summaries (
		truck_number TEXT NOT NULL,
		summary_date TEXT NOT NULL,
		total_approved INTEGER NOT NULL,
		entry_count INTEGER NOT NULL,
		count_complete INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (truck_number, summary_date)
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_date ON daily_summaries(summary_date);
	`
	_, err := db.Exec(query)
	return err
}

func isSQLiteDuplicate(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetStats adds the database file size to the common stats.
func (s *SQLiteStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats, err := s.sqlStore.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	// Approximate from page count
	var pageCount, pageSize int64
	s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize
	stats["path"] = s.path

	return stats, nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
