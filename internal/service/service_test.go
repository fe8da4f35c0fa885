package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"truckcount-api/internal/cache"
	"truckcount-api/internal/model"
	"truckcount-api/internal/queue"
	"truckcount-api/internal/queue/queuetest"
	"truckcount-api/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	broker    *queuetest.Broker
	slot      *cache.MemorySlot
	store     *repository.SQLiteStore
	approvals *ApprovalService
	summaries *SummaryService
	review    *ReviewService
	clock     *fakeClock
}

func newFixture(t *testing.T, loc *time.Location) *fixture {
	t.Helper()

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "truckcount.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
	broker := queuetest.NewBroker()
	slot := cache.NewMemorySlot()
	consumer := queue.NewConsumer(broker, slot, queue.Config{})

	approvals := NewApprovalService(store)
	approvals.SetClock(clock.Now)
	summaries := NewSummaryService(store, store, loc)
	summaries.SetClock(clock.Now)

	return &fixture{
		broker:    broker,
		slot:      slot,
		store:     store,
		approvals: approvals,
		summaries: summaries,
		review:    NewReviewService(consumer, approvals),
		clock:     clock,
	}
}

func body(truck string, count int) string {
	return fmt.Sprintf(`{"truck_number":%q,"count":%d}`, truck, count)
}

func (f *fixture) record(t *testing.T, messageID, truck string, approved int64) *model.ApprovalRecord {
	t.Helper()
	rec, err := f.approvals.Record(context.Background(), RecordInput{
		MessageID:     messageID,
		TruckNumber:   truck,
		OriginalCount: approved,
		ApprovedValue: approved,
		Approver:      "alice",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	return rec
}

func TestApproveThenSyncScenario(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("m1", body("T1", 12))

	msg, err := f.review.FetchNext(ctx)
	if err != nil {
		t.Fatalf("FetchNext failed: %v", err)
	}
	if msg == nil || msg.ID != "m1" || msg.Body.TruckNumber != "T1" || msg.Body.Count != 12 {
		t.Fatalf("unexpected message %#v", msg)
	}

	outcome, err := f.review.Approve(ctx, ApproveInput{LeaseToken: msg.LeaseToken, Approver: "alice", ApprovedValue: 10})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	rec := outcome.Record
	if outcome.LeaseExpired {
		t.Fatal("lease should not be expired")
	}
	if rec.MessageID != "m1" || rec.TruckNumber != "T1" || rec.OriginalCount != 12 ||
		rec.ApprovedCount != 10 || rec.Approver != "alice" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.CreatedAt.Equal(f.clock.Now()) {
		t.Fatalf("CreatedAt = %v, want %v", rec.CreatedAt, f.clock.Now())
	}

	if pending, _ := f.review.Peek(ctx); pending != nil {
		t.Fatalf("expected empty slot after approve, got %#v", pending)
	}
	if f.broker.InFlight() != 0 {
		t.Fatalf("expected message deleted from broker, %d in flight", f.broker.InFlight())
	}

	summaries, err := f.summaries.SyncToday(ctx)
	if err != nil {
		t.Fatalf("SyncToday failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %+v", summaries)
	}
	got := summaries[0]
	if got.TruckNumber != "T1" || got.Date != "2026-03-04" || got.TotalApproved != 10 ||
		got.EntryCount != 1 || got.CountComplete {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestFetchNextHoldsSingleMessage(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("m1", body("T1", 1))
	f.broker.Push("m2", body("T2", 2))

	var first *model.PendingMessage
	for i := 0; i < 4; i++ {
		msg, err := f.review.FetchNext(ctx)
		if err != nil {
			t.Fatalf("FetchNext failed: %v", err)
		}
		if first == nil {
			first = msg
		}
		if msg.ID != first.ID || msg.LeaseToken != first.LeaseToken {
			t.Fatalf("slot changed between fetches: %#v", msg)
		}
	}
	if calls := f.broker.ReceiveCalls(); calls != 1 {
		t.Fatalf("expected one receive, got %d", calls)
	}
}

func TestFetchNextOnEmptyQueue(t *testing.T) {
	f := newFixture(t, time.UTC)

	msg, err := f.review.FetchNext(context.Background())
	if err != nil || msg != nil {
		t.Fatalf("expected nothing, got %#v (%v)", msg, err)
	}
}

func TestApproveThenFetchNextMovesOn(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("m1", body("T1", 1))
	f.broker.Push("m2", body("T2", 2))

	msg, _ := f.review.FetchNext(ctx)
	if _, err := f.review.Approve(ctx, ApproveInput{LeaseToken: msg.LeaseToken, ApprovedValue: 1}); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	next, err := f.review.FetchNext(ctx)
	if err != nil {
		t.Fatalf("FetchNext failed: %v", err)
	}
	if next == nil || next.ID != "m2" {
		t.Fatalf("expected m2, got %#v", next)
	}
}

func TestApproveWithLapsedLeaseSkipsRedelivery(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("m1", body("T1", 12))
	f.broker.Push("m2", body("T2", 4))

	msg, _ := f.review.FetchNext(ctx)
	f.broker.ExpireLease(msg.LeaseToken)

	outcome, err := f.review.Approve(ctx, ApproveInput{LeaseToken: msg.LeaseToken, Approver: "alice", ApprovedValue: 10})
	if err != nil {
		t.Fatalf("expected lapsed lease to be absorbed, got %v", err)
	}
	if !outcome.LeaseExpired || outcome.Record == nil || outcome.Record.ApprovedCount != 10 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	next, err := f.review.FetchNext(ctx)
	if err != nil {
		t.Fatalf("FetchNext failed: %v", err)
	}
	if next == nil || next.ID != "m2" {
		t.Fatalf("expected approved redelivery to be skipped, got %#v", next)
	}

	records, _ := f.approvals.List(ctx, repository.ApprovalFilter{})
	if len(records) != 1 {
		t.Fatalf("expected a single approval, got %d", len(records))
	}
}

func TestApproveRejectsInvalidCount(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("m1", body("T1", 12))
	msg, _ := f.review.FetchNext(ctx)

	for _, value := range []any{"abc", 2.5, -1, nil, true} {
		_, err := f.review.Approve(ctx, ApproveInput{LeaseToken: msg.LeaseToken, ApprovedValue: value})
		var validation *model.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("Approve(%v): expected validation error, got %v", value, err)
		}
	}

	records, _ := f.approvals.List(ctx, repository.ApprovalFilter{})
	if len(records) != 0 {
		t.Fatalf("nothing should be persisted, got %+v", records)
	}
	if pending, _ := f.review.Peek(ctx); pending == nil || pending.ID != "m1" {
		t.Fatalf("message should stay pending, got %#v", pending)
	}
}

func TestApproveAcceptsNumericString(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("m1", body("T1", 12))
	msg, _ := f.review.FetchNext(ctx)

	outcome, err := f.review.Approve(ctx, ApproveInput{LeaseToken: msg.LeaseToken, ApprovedValue: "11"})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if outcome.Record.ApprovedCount != 11 || outcome.Record.Approver != DefaultApprover {
		t.Fatalf("unexpected record %+v", outcome.Record)
	}
}

func TestApproveUnknownLease(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("m1", body("T1", 12))
	f.review.FetchNext(ctx)

	_, err := f.review.Approve(ctx, ApproveInput{LeaseToken: "someone-else", ApprovedValue: 1})
	if kind := model.Kind(err); kind != model.KindNotFound {
		t.Fatalf("expected not_found, got %q (%v)", kind, err)
	}

	_, err = f.review.Approve(ctx, ApproveInput{ApprovedValue: 1})
	if kind := model.Kind(err); kind != model.KindValidation {
		t.Fatalf("expected validation for missing lease, got %q (%v)", kind, err)
	}
}

func TestUndecodableMessageCanOnlyBeDiscarded(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("bad", "<<not json>>")

	msg, err := f.review.FetchNext(ctx)
	if err != nil {
		t.Fatalf("FetchNext failed: %v", err)
	}
	if msg.Decoded() {
		t.Fatalf("expected undecoded body, got %#v", msg.Body)
	}

	_, err = f.review.Approve(ctx, ApproveInput{LeaseToken: msg.LeaseToken, ApprovedValue: 1})
	if kind := model.Kind(err); kind != model.KindValidation {
		t.Fatalf("expected validation error, got %q (%v)", kind, err)
	}

	if err := f.review.Discard(ctx, msg.LeaseToken); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if pending, _ := f.review.Peek(ctx); pending != nil {
		t.Fatalf("expected empty slot, got %#v", pending)
	}
	if f.broker.InFlight() != 0 || f.broker.Visible() != 0 {
		t.Fatal("expected discarded message to be gone from the broker")
	}
}

func TestApproveRetryAfterDeleteFailureIsIdempotent(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	f.broker.Push("m1", body("T1", 12))
	f.broker.DeleteErrs["m1"] = errors.New("connection reset")

	msg, _ := f.review.FetchNext(ctx)
	_, err := f.review.Approve(ctx, ApproveInput{LeaseToken: msg.LeaseToken, ApprovedValue: 10})
	if kind := model.Kind(err); kind != model.KindTransport {
		t.Fatalf("expected transport error, got %q (%v)", kind, err)
	}

	delete(f.broker.DeleteErrs, "m1")
	outcome, err := f.review.Approve(ctx, ApproveInput{LeaseToken: msg.LeaseToken, ApprovedValue: 10})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	records, _ := f.approvals.List(ctx, repository.ApprovalFilter{})
	if len(records) != 1 || records[0].ID != outcome.Record.ID {
		t.Fatalf("expected the retry to return the stored record, got %+v", records)
	}
	if pending, _ := f.review.Peek(ctx); pending != nil {
		t.Fatalf("expected empty slot, got %#v", pending)
	}
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    RecordInput
		field string
	}{
		{"missing message", RecordInput{TruckNumber: "T1", ApprovedValue: 1}, "message_id"},
		{"missing truck", RecordInput{MessageID: "m1", TruckNumber: "  ", ApprovedValue: 1}, "truck_number"},
		{"negative original", RecordInput{MessageID: "m1", TruckNumber: "T1", OriginalCount: -1, ApprovedValue: 1}, "original_count"},
		{"non numeric", RecordInput{MessageID: "m1", TruckNumber: "T1", ApprovedValue: "ten"}, "approved_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.approvals.Record(ctx, tt.in)
			var validation *model.ValidationError
			if !errors.As(err, &validation) || validation.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestRecordDuplicateMessageReturnsExisting(t *testing.T) {
	f := newFixture(t, time.UTC)

	first := f.record(t, "m1", "T1", 10)
	second := f.record(t, "m1", "T1", 99)
	if second.ID != first.ID || second.ApprovedCount != 10 {
		t.Fatalf("expected existing record, got %+v", second)
	}
}

func TestCorrect(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	rec := f.record(t, "m1", "T1", 10)

	f.clock.Set(f.clock.Now().Add(time.Hour))
	corrected, err := f.approvals.Correct(ctx, rec.ID, float64(8))
	if err != nil {
		t.Fatalf("Correct failed: %v", err)
	}
	if corrected.ApprovedCount != 8 || corrected.OriginalCount != 10 || corrected.TruckNumber != "T1" {
		t.Fatalf("unexpected corrected record %+v", corrected)
	}
	if corrected.CorrectedAt == nil || !corrected.CorrectedAt.Equal(f.clock.Now()) {
		t.Fatalf("CorrectedAt = %v, want %v", corrected.CorrectedAt, f.clock.Now())
	}

	_, err = f.approvals.Correct(ctx, rec.ID, 7)
	if kind := model.Kind(err); kind != model.KindValidation {
		t.Fatalf("second correction: expected validation, got %q (%v)", kind, err)
	}

	_, err = f.approvals.Correct(ctx, "missing", 7)
	var notFound *model.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	_, err = f.approvals.Correct(ctx, rec.ID, "seven")
	if kind := model.Kind(err); kind != model.KindValidation {
		t.Fatalf("expected validation, got %q (%v)", kind, err)
	}
}

func TestSyncTodayIsIdempotentAndKeepsCompletion(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	date := f.summaries.Today()

	f.record(t, "m1", "T1", 10)
	f.record(t, "m2", "T1", 4)
	f.record(t, "m3", "T2", 6)

	_, err := f.summaries.MarkComplete(ctx, "T1", date)
	var notFound *model.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError before sync, got %v", err)
	}

	first, err := f.summaries.SyncToday(ctx)
	if err != nil {
		t.Fatalf("SyncToday failed: %v", err)
	}
	second, err := f.summaries.SyncToday(ctx)
	if err != nil {
		t.Fatalf("SyncToday failed: %v", err)
	}
	if fmt.Sprintf("%+v", first) != fmt.Sprintf("%+v", second) {
		t.Fatalf("sync is not idempotent:\n%+v\n%+v", first, second)
	}
	if len(first) != 2 || first[0].TotalApproved != 14 || first[0].EntryCount != 2 ||
		first[1].TotalApproved != 6 || first[1].EntryCount != 1 {
		t.Fatalf("unexpected totals %+v", first)
	}

	for i := 0; i < 2; i++ {
		sum, err := f.summaries.MarkComplete(ctx, "T1", date)
		if err != nil {
			t.Fatalf("MarkComplete failed: %v", err)
		}
		if !sum.CountComplete || sum.TotalApproved != 14 {
			t.Fatalf("unexpected summary %+v", sum)
		}
	}

	f.record(t, "m4", "T1", 5)
	third, err := f.summaries.SyncToday(ctx)
	if err != nil {
		t.Fatalf("SyncToday failed: %v", err)
	}
	t1 := third[0]
	if t1.TotalApproved != 19 || t1.EntryCount != 3 || !t1.CountComplete {
		t.Fatalf("expected +5/+1 with completion kept, got %+v", t1)
	}
	if third[1].CountComplete {
		t.Fatalf("T2 was never completed: %+v", third[1])
	}
}

func TestSyncTodayWithNoApprovals(t *testing.T) {
	f := newFixture(t, time.UTC)

	summaries, err := f.summaries.SyncToday(context.Background())
	if err != nil {
		t.Fatalf("SyncToday failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("absent trucks must not be materialized, got %+v", summaries)
	}
}

func TestSyncTodayBucketsByLocalDay(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*60*60)
	f := newFixture(t, loc)
	ctx := context.Background()

	// 23:00 local on March 4th
	f.clock.Set(time.Date(2026, 3, 4, 16, 0, 0, 0, time.UTC))
	f.record(t, "m1", "T1", 3)
	// 01:00 local on March 5th
	f.clock.Set(time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC))
	f.record(t, "m2", "T1", 7)

	f.clock.Set(time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC))
	if today := f.summaries.Today(); today != "2026-03-05" {
		t.Fatalf("Today() = %s, want 2026-03-05", today)
	}

	summaries, err := f.summaries.SyncToday(ctx)
	if err != nil {
		t.Fatalf("SyncToday failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].TotalApproved != 7 || summaries[0].Date != "2026-03-05" {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	previous, err := f.summaries.SyncDate(ctx, "2026-03-04")
	if err != nil {
		t.Fatalf("SyncDate failed: %v", err)
	}
	if len(previous) != 1 || previous[0].TotalApproved != 3 {
		t.Fatalf("unexpected summaries for previous day %+v", previous)
	}
}

func TestSummaryDateValidation(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	for _, date := range []string{"03/04/2026", "2026-3-4", "", "2026-02-30"} {
		if _, err := f.summaries.MarkComplete(ctx, "T1", date); model.Kind(err) != model.KindValidation {
			t.Fatalf("MarkComplete(%q): expected validation error, got %v", date, err)
		}
	}
	if _, err := f.summaries.List(ctx, "yesterday"); model.Kind(err) != model.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.summaries.MarkComplete(ctx, " ", "2026-03-04"); model.Kind(err) != model.KindValidation {
		t.Fatalf("expected validation error for empty truck, got %v", err)
	}
}

func TestPurge(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.broker.Push(fmt.Sprintf("m%d", i), body("T1", i))
	}
	f.review.FetchNext(ctx)

	result, err := f.review.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if result.Deleted != 3 || result.Failed != 0 {
		t.Fatalf("unexpected purge result %+v", result)
	}
	if pending, _ := f.review.Peek(ctx); pending != nil {
		t.Fatalf("expected empty slot, got %#v", pending)
	}
}

func TestSyncSchedulerRunsImmediately(t *testing.T) {
	f := newFixture(t, time.UTC)
	f.record(t, "m1", "T1", 10)

	scheduler := NewSyncScheduler(f.summaries, SyncConfig{Interval: time.Hour})
	scheduler.Start()
	scheduler.Start()

	deadline := time.Now().Add(5 * time.Second)
	for {
		rows, err := f.summaries.List(context.Background(), "")
		if err == nil && len(rows) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduler did not sync in time (rows=%v, err=%v)", rows, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	scheduler.Stop()
	scheduler.Stop()
	scheduler.Start()
}

func TestSyncSchedulerDisabled(t *testing.T) {
	f := newFixture(t, time.UTC)

	scheduler := NewSyncScheduler(f.summaries, SyncConfig{})
	scheduler.Start()
	scheduler.Stop()

	if n := scheduler.RunNow(); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}
