package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"truckcount-api/internal/model"

	gomysql "github.com/go-sql-driver/mysql"
)

var day = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

func approval(id, messageID, truck string, original, approved int64, at time.Time) *model.ApprovalRecord {
	return &model.ApprovalRecord{
		ID:            id,
		MessageID:     messageID,
		TruckNumber:   truck,
		OriginalCount: original,
		ApprovedCount: approved,
		Approver:      "alice",
		CreatedAt:     at,
	}
}

func ids(records []model.ApprovalRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func sameIDs(got []model.ApprovalRecord, want ...string) bool {
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		return false
	}
	for i := range gotIDs {
		if gotIDs[i] != want[i] {
			return false
		}
	}
	return true
}

func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	records := []*model.ApprovalRecord{
		approval("a1", "m1", "T1", 12, 10, day.Add(9*time.Hour)),
		approval("a2", "m2", "T1", 5, 5, day.Add(10*time.Hour)),
		approval("a3", "m3", "T2", 3, 3, day.Add(11*time.Hour+250*time.Millisecond)),
		approval("a4", "m4", "T1", 8, 8, day.Add(-2*time.Hour)),
	}
	for _, rec := range records {
		if err := store.CreateApproval(ctx, rec); err != nil {
			t.Fatalf("CreateApproval(%s) failed: %v", rec.ID, err)
		}
	}

	t.Run("duplicate message", func(t *testing.T) {
		err := store.CreateApproval(ctx, approval("a9", "m1", "T1", 1, 1, day.Add(12*time.Hour)))
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("get", func(t *testing.T) {
		got, err := store.GetApproval(ctx, "a1")
		if err != nil {
			t.Fatalf("GetApproval failed: %v", err)
		}
		if got.MessageID != "m1" || got.TruckNumber != "T1" || got.OriginalCount != 12 ||
			got.ApprovedCount != 10 || got.Approver != "alice" || got.CorrectedAt != nil {
			t.Fatalf("unexpected record %+v", got)
		}
		if !got.CreatedAt.Equal(records[0].CreatedAt) {
			t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, records[0].CreatedAt)
		}

		byMessage, err := store.FindApprovalByMessageID(ctx, "m3")
		if err != nil {
			t.Fatalf("FindApprovalByMessageID failed: %v", err)
		}
		if byMessage.ID != "a3" || !byMessage.CreatedAt.Equal(records[2].CreatedAt) {
			t.Fatalf("unexpected record %+v", byMessage)
		}

		if _, err := store.GetApproval(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.FindApprovalByMessageID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		all, err := store.ListApprovals(ctx, ApprovalFilter{})
		if err != nil {
			t.Fatalf("ListApprovals failed: %v", err)
		}
		if !sameIDs(all, "a3", "a2", "a1", "a4") {
			t.Fatalf("expected newest first, got %v", ids(all))
		}

		truck, _ := store.ListApprovals(ctx, ApprovalFilter{TruckNumber: "T1"})
		if !sameIDs(truck, "a2", "a1", "a4") {
			t.Fatalf("unexpected truck filter result %v", ids(truck))
		}

		limited, _ := store.ListApprovals(ctx, ApprovalFilter{Limit: 2})
		if !sameIDs(limited, "a3", "a2") {
			t.Fatalf("unexpected limited result %v", ids(limited))
		}

		today, _ := store.ListApprovals(ctx, ApprovalFilter{From: day, To: day.AddDate(0, 0, 1)})
		if !sameIDs(today, "a3", "a2", "a1") {
			t.Fatalf("unexpected range result %v", ids(today))
		}
	})

	t.Run("totals", func(t *testing.T) {
		totals, err := store.TotalsBetween(ctx, day, day.AddDate(0, 0, 1))
		if err != nil {
			t.Fatalf("TotalsBetween failed: %v", err)
		}
		want := []model.TruckTotal{
			{TruckNumber: "T1", TotalApproved: 15, EntryCount: 2},
			{TruckNumber: "T2", TotalApproved: 3, EntryCount: 1},
		}
		if fmt.Sprint(totals) != fmt.Sprint(want) {
			t.Fatalf("TotalsBetween = %+v, want %+v", totals, want)
		}

		empty, err := store.TotalsBetween(ctx, day.AddDate(0, 0, 5), day.AddDate(0, 0, 6))
		if err != nil || len(empty) != 0 {
			t.Fatalf("expected no totals, got %+v (%v)", empty, err)
		}
	})

	t.Run("correct", func(t *testing.T) {
		at := day.Add(13 * time.Hour)
		got, err := store.CorrectApprovedCount(ctx, "a2", 7, at)
		if err != nil {
			t.Fatalf("CorrectApprovedCount failed: %v", err)
		}
		if got.ApprovedCount != 7 || got.OriginalCount != 5 {
			t.Fatalf("unexpected corrected record %+v", got)
		}
		if got.CorrectedAt == nil || !got.CorrectedAt.Equal(at) {
			t.Fatalf("CorrectedAt = %v, want %v", got.CorrectedAt, at)
		}

		if _, err := store.CorrectApprovedCount(ctx, "a2", 9, at); !errors.Is(err, ErrAlreadyCorrected) {
			t.Fatalf("expected ErrAlreadyCorrected, got %v", err)
		}
		if _, err := store.CorrectApprovedCount(ctx, "missing", 9, at); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		totals, _ := store.TotalsBetween(ctx, day, day.AddDate(0, 0, 1))
		if len(totals) == 0 || totals[0].TotalApproved != 17 {
			t.Fatalf("expected corrected total 17, got %+v", totals)
		}
	})

	t.Run("summaries", func(t *testing.T) {
		date := day.Format(model.DateLayout)
		at := day.Add(14 * time.Hour)

		if err := store.MarkComplete(ctx, "T1", date, at); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound before any aggregate, got %v", err)
		}

		first := []model.TruckTotal{
			{TruckNumber: "T1", TotalApproved: 17, EntryCount: 2},
			{TruckNumber: "T2", TotalApproved: 3, EntryCount: 1},
		}
		if err := store.UpsertTotals(ctx, date, first, at); err != nil {
			t.Fatalf("UpsertTotals failed: %v", err)
		}

		rows, err := store.ListSummaries(ctx, date)
		if err != nil {
			t.Fatalf("ListSummaries failed: %v", err)
		}
		if len(rows) != 2 || rows[0].TruckNumber != "T1" || rows[1].TruckNumber != "T2" {
			t.Fatalf("unexpected summaries %+v", rows)
		}
		for _, row := range rows {
			if row.CountComplete || row.Date != date {
				t.Fatalf("unexpected new row %+v", row)
			}
		}

		if err := store.MarkComplete(ctx, "T1", date, at); err != nil {
			t.Fatalf("MarkComplete failed: %v", err)
		}
		if err := store.MarkComplete(ctx, "T1", date, at); err != nil {
			t.Fatalf("repeated MarkComplete failed: %v", err)
		}

		later := at.Add(time.Hour)
		second := []model.TruckTotal{{TruckNumber: "T1", TotalApproved: 20, EntryCount: 3}}
		if err := store.UpsertTotals(ctx, date, second, later); err != nil {
			t.Fatalf("UpsertTotals failed: %v", err)
		}

		got, err := store.GetSummary(ctx, "T1", date)
		if err != nil {
			t.Fatalf("GetSummary failed: %v", err)
		}
		if got.TotalApproved != 20 || got.EntryCount != 3 || !got.CountComplete {
			t.Fatalf("recompute must keep the completion flag: %+v", got)
		}
		if !got.UpdatedAt.Equal(later) {
			t.Fatalf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
		}

		if _, err := store.GetSummary(ctx, "T9", date); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		other, err := store.ListSummaries(ctx, "2026-03-05")
		if err != nil || len(other) != 0 {
			t.Fatalf("expected no summaries for another day, got %+v (%v)", other, err)
		}
		if err := store.UpsertTotals(ctx, date, nil, later); err != nil {
			t.Fatalf("empty UpsertTotals failed: %v", err)
		}
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := store.GetStats(ctx)
		if err != nil {
			t.Fatalf("GetStats failed: %v", err)
		}
		if stats["total_approvals"] != int64(4) || stats["total_summaries"] != int64(2) {
			t.Fatalf("unexpected stats %v", stats)
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "truckcount.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	testStoreContract(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truckcount.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.CreateApproval(ctx, approval("a1", "m1", "T1", 12, 10, day)); err != nil {
		t.Fatalf("CreateApproval failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetApproval(ctx, "a1")
	if err != nil {
		t.Fatalf("GetApproval failed: %v", err)
	}
	if got.ApprovedCount != 10 || !got.CreatedAt.Equal(day) {
		t.Fatalf("unexpected record after reopen %+v", got)
	}
}

func TestRebind(t *testing.T) {
	s := &sqlStore{d: dialect{numbered: true}}
	got := s.rebind("SELECT * FROM approvals WHERE id = ? AND truck_number = ?")
	if want := "SELECT * FROM approvals WHERE id = $1 AND truck_number = $2"; got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}

	plain := &sqlStore{d: dialect{}}
	if got := plain.rebind("id = ?"); got != "id = ?" {
		t.Fatalf("rebind without numbering changed query: %q", got)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	truncate := func() {
		if _, err := store.db.Exec(`TRUNCATE approvals, daily_summaries`); err != nil {
			t.Fatalf("truncate failed: %v", err)
		}
	}
	truncate()
	t.Cleanup(truncate)

	testStoreContract(t, store)
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}

	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("invalid MYSQL_TEST_DSN: %v", err)
	}
	store, err := NewMySQLStore(cfg)
	if err != nil {
		t.Fatalf("NewMySQLStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	truncate := func() {
		for _, table := range []string{"approvals", "daily_summaries"} {
			if err := store.db.Exec("DELETE FROM " + table).Error; err != nil {
				t.Fatalf("truncate %s failed: %v", table, err)
			}
		}
	}
	truncate()
	t.Cleanup(truncate)

	testStoreContract(t, store)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	store, err := NewMongoStore(uri, fmt.Sprintf("truckcount_test_%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("NewMongoStore failed: %v", err)
	}
	t.Cleanup(func() {
		store.db.Drop(context.Background())
		store.Close()
	})

	testStoreContract(t, store)
}
