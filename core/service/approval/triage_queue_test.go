package approval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"triage_server/adapter/out/persistence"
	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/snowflake"
)

func newTestQueue(t *testing.T) (*Queue, *persistence.MemoryStore) {
	t.Helper()
	ids, err := snowflake.NewGenerator(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	store := persistence.NewMemoryStore()
	return NewQueue(DefaultConfig(), store, ids), store
}

func pendingRecord(messageID string) *domain.ApprovalRecord {
	return &domain.ApprovalRecord{
		MessageID:  messageID,
		ThreadID:   "thread-1",
		Type:       "draft_reply",
		Payload:    "Dear sender, thanks for reaching out.",
		Confidence: 0.75,
		Reasons:    []string{"No high-confidence rule matched"},
		UserID:     "user-1",
	}
}

func TestAddToQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	rec, err := q.AddToQueue(ctx, pendingRecord("msg-1"))
	if err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}
	if rec.ID == "" {
		t.Error("enqueued record must get an id")
	}
	if rec.Status != domain.ApprovalPending {
		t.Errorf("status = %s, want PENDING", rec.Status)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("createdAt must be set")
	}
}

func TestAddToQueue_DuplicatePending(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.AddToQueue(ctx, pendingRecord("msg-1")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	_, err := q.AddToQueue(ctx, pendingRecord("msg-1"))
	if !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("err = %v, want ErrDuplicatePending", err)
	}

	// Same message, different type is a distinct request.
	other := pendingRecord("msg-1")
	other.Type = "schedule_send"
	if _, err := q.AddToQueue(ctx, other); err != nil {
		t.Errorf("different type should enqueue: %v", err)
	}
}

func TestApprove(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	rec, err := q.AddToQueue(ctx, pendingRecord("msg-1"))
	if err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}

	resolved, err := q.Approve(ctx, rec.ID, domain.Resolution{
		ApprovedBy:   "reviewer-1",
		FinalContent: "edited reply",
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if resolved.Status != domain.ApprovalApproved {
		t.Errorf("status = %s, want APPROVED", resolved.Status)
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedBy != "reviewer-1" {
		t.Error("resolution metadata missing")
	}
	if resolved.FinalContent != "edited reply" {
		t.Errorf("finalContent = %q", resolved.FinalContent)
	}

	// The pending record and its duplicate-guard index are gone.
	if _, err := store.Get(ctx, pendingKey(rec.ID)); !errors.Is(err, out.ErrNotFound) {
		t.Error("pending record should be deleted")
	}
	if _, err := q.AddToQueue(ctx, pendingRecord("msg-1")); err != nil {
		t.Errorf("resolved message should be enqueueable again: %v", err)
	}
}

func TestApprove_OneWay(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	rec, _ := q.AddToQueue(ctx, pendingRecord("msg-1"))
	if _, err := q.Approve(ctx, rec.ID, domain.Resolution{ApprovedBy: "a"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if _, err := q.Approve(ctx, rec.ID, domain.Resolution{ApprovedBy: "b"}); !errors.Is(err, ErrNotPending) {
		t.Errorf("second approve: err = %v, want ErrNotPending", err)
	}
	if _, err := q.Reject(ctx, rec.ID, "b", "changed my mind"); !errors.Is(err, ErrNotPending) {
		t.Errorf("reject after approve: err = %v, want ErrNotPending", err)
	}
}

func TestReject(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	rec, _ := q.AddToQueue(ctx, pendingRecord("msg-1"))
	resolved, err := q.Reject(ctx, rec.ID, "reviewer-2", "tone is off")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if resolved.Status != domain.ApprovalRejected {
		t.Errorf("status = %s, want REJECTED", resolved.Status)
	}
	if resolved.RejectionReason != "tone is off" {
		t.Errorf("rejectionReason = %q", resolved.RejectionReason)
	}
}

func TestResolve_UnknownID(t *testing.T) {
	q, _ := newTestQueue(t)

	if _, err := q.Approve(context.Background(), "no-such-id", domain.Resolution{ApprovedBy: "a"}); !errors.Is(err, ErrNotPending) {
		t.Errorf("err = %v, want ErrNotPending", err)
	}
}

func TestGetPendingApprovals(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		if _, err := q.AddToQueue(ctx, pendingRecord(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	other := pendingRecord("msg-other")
	other.UserID = "user-2"
	q.AddToQueue(ctx, other)

	recs, err := q.GetPendingApprovals(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("GetPendingApprovals: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2 (limit)", len(recs))
	}
	for _, rec := range recs {
		if rec.UserID != "user-1" {
			t.Errorf("record %s belongs to %s", rec.ID, rec.UserID)
		}
	}
}

func TestGetPendingByType(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.AddToQueue(ctx, pendingRecord("msg-1"))
	sched := pendingRecord("msg-2")
	sched.Type = "schedule_send"
	q.AddToQueue(ctx, sched)

	recs, err := q.GetPendingByType(ctx, "schedule_send", 10)
	if err != nil {
		t.Fatalf("GetPendingByType: %v", err)
	}
	if len(recs) != 1 || recs[0].MessageID != "msg-2" {
		t.Errorf("unexpected records: %+v", recs)
	}
}

func TestBulkApprove_BestEffort(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, _ := q.AddToQueue(ctx, pendingRecord("msg-1"))
	b, _ := q.AddToQueue(ctx, pendingRecord("msg-2"))

	results := q.BulkApprove(ctx, []string{a.ID, "bogus-id", b.ID}, "reviewer-1")
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if !results[0].OK || !results[2].OK {
		t.Error("valid ids should approve")
	}
	if results[1].OK || results[1].Error == "" {
		t.Error("bogus id should fail with an error message")
	}

	// The failure must not have blocked the record after it.
	if _, err := q.Approve(ctx, b.ID, domain.Resolution{ApprovedBy: "x"}); !errors.Is(err, ErrNotPending) {
		t.Error("msg-2 should already be approved")
	}
}

// backdate rewrites a pending record's CreatedAt, to make resolution-time
// math observable in tests.
func backdate(t *testing.T, store *persistence.MemoryStore, id string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()

	stored, err := store.Get(ctx, pendingKey(id))
	if err != nil {
		t.Fatalf("backdate get: %v", err)
	}
	var rec domain.ApprovalRecord
	if err := json.Unmarshal(stored.Value, &rec); err != nil {
		t.Fatalf("backdate decode: %v", err)
	}
	rec.CreatedAt = createdAt
	stored.Value, _ = json.Marshal(&rec)
	stored.CreatedAt = createdAt
	if err := store.Put(ctx, stored); err != nil {
		t.Fatalf("backdate put: %v", err)
	}
}

func TestGetStatistics(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	a, _ := q.AddToQueue(ctx, pendingRecord("msg-1"))
	b, _ := q.AddToQueue(ctx, pendingRecord("msg-2"))
	q.AddToQueue(ctx, pendingRecord("msg-3"))

	backdate(t, store, a.ID, time.Now().Add(-10*time.Minute))
	backdate(t, store, b.ID, time.Now().Add(-20*time.Minute))

	if _, err := q.Approve(ctx, a.ID, domain.Resolution{ApprovedBy: "r"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := q.Reject(ctx, b.ID, "r", "no"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	stats, err := q.GetStatistics(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}
	if stats.Approved != 1 || stats.Rejected != 1 {
		t.Errorf("approved/rejected = %d/%d, want 1/1", stats.Approved, stats.Rejected)
	}
	if stats.ApprovalRate != 0.5 {
		t.Errorf("approvalRate = %.2f, want 0.50", stats.ApprovalRate)
	}
	if stats.AvgResolutionMinutes != 15 {
		t.Errorf("avgResolutionMinutes = %d, want 15", stats.AvgResolutionMinutes)
	}
}

func TestGetStatistics_NothingResolved(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.AddToQueue(ctx, pendingRecord("msg-1"))

	stats, err := q.GetStatistics(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.ApprovalRate != 0 {
		t.Errorf("approvalRate = %.2f, want 0 with nothing resolved", stats.ApprovalRate)
	}
}

// expireResolved pushes a resolved record's retention deadline into the past.
func expireResolved(t *testing.T, store *persistence.MemoryStore, id string) {
	t.Helper()
	ctx := context.Background()

	stored, err := store.Get(ctx, resolvedKey(id))
	if err != nil {
		t.Fatalf("expire get: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	stored.ExpiresAt = &past
	if err := store.Put(ctx, stored); err != nil {
		t.Fatalf("expire put: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	var expired []string
	for i := 0; i < 30; i++ {
		rec, err := q.AddToQueue(ctx, pendingRecord(fmt.Sprintf("msg-%d", i)))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := q.Approve(ctx, rec.ID, domain.Resolution{ApprovedBy: "r"}); err != nil {
			t.Fatalf("approve: %v", err)
		}
		expired = append(expired, rec.ID)
	}
	// Keep one resolved record inside retention.
	keep, _ := q.AddToQueue(ctx, pendingRecord("msg-keep"))
	q.Approve(ctx, keep.ID, domain.Resolution{ApprovedBy: "r"})

	for _, id := range expired {
		expireResolved(t, store, id)
	}

	deleted, err := q.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 30 {
		t.Errorf("deleted = %d, want 30", deleted)
	}
	if _, err := store.Get(ctx, resolvedKey(keep.ID)); err != nil {
		t.Error("record inside retention should survive cleanup")
	}
}

func TestCleanup_NothingExpired(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	rec, _ := q.AddToQueue(ctx, pendingRecord("msg-1"))
	q.Approve(ctx, rec.ID, domain.Resolution{ApprovedBy: "r"})

	deleted, err := q.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}
