// Package approval implements the persisted approval queue: a one-way
// PENDING → APPROVED | REJECTED state machine over the generic record store.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/logger"
	"triage_server/pkg/snowflake"
)

var (
	// ErrDuplicatePending is returned when a pending approval already exists
	// for the same (message, type) pair.
	ErrDuplicatePending = errors.New("pending approval already exists for this message and type")

	// ErrNotPending is returned when an approval to resolve is missing or
	// already resolved, including losing an approve/reject race.
	ErrNotPending = errors.New("approval not found in pending state")
)

// Record kinds partitioning the store's key space.
const (
	kindPending  = "approval_pending"
	kindResolved = "approval_resolved"
	kindMsgIndex = "approval_msg_index"
)

func pendingKey(id string) string  { return "approval:pending:" + id }
func resolvedKey(id string) string { return "approval:resolved:" + id }
func msgIndexKey(messageID, approvalType string) string {
	return "approval:msg:" + messageID + ":" + approvalType
}

// Config holds the queue's retention and housekeeping knobs.
type Config struct {
	// Retention is how long resolved records are kept before cleanup.
	Retention time.Duration

	// PendingCeiling triggers an automatic cleanup pass when the pending
	// count grows past it.
	PendingCeiling int

	// CleanupBatch is the number of keys deleted per store call.
	CleanupBatch int
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		Retention:      30 * 24 * time.Hour,
		PendingCeiling: 100,
		CleanupBatch:   25,
	}
}

// Queue is the approval queue service. All state lives in the store; the
// queue itself is stateless and safe for concurrent use.
type Queue struct {
	cfg   *Config
	store out.Store
	ids   *snowflake.Generator
}

// NewQueue creates an approval queue over the given store.
func NewQueue(cfg *Config, store out.Store, ids *snowflake.Generator) *Queue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Queue{cfg: cfg, store: store, ids: ids}
}

// AddToQueue persists a new pending approval. The record's ID is assigned
// here; Status and CreatedAt are overwritten. Returns ErrDuplicatePending
// when a pending record already exists for the same message and type.
func (q *Queue) AddToQueue(ctx context.Context, rec *domain.ApprovalRecord) (*domain.ApprovalRecord, error) {
	if rec.MessageID == "" || rec.Type == "" {
		return nil, fmt.Errorf("approval: message id and type are required")
	}

	if _, err := q.store.Get(ctx, msgIndexKey(rec.MessageID, rec.Type)); err == nil {
		return nil, ErrDuplicatePending
	} else if !errors.Is(err, out.ErrNotFound) {
		return nil, fmt.Errorf("approval: duplicate check: %w", err)
	}

	stored := *rec
	stored.ID = strconv.FormatInt(q.ids.MustGenerate(), 10)
	stored.Status = domain.ApprovalPending
	stored.CreatedAt = time.Now().UTC()

	value, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("approval: marshal record: %w", err)
	}

	err = q.store.InTx(ctx, func(tx out.Tx) error {
		if err := tx.Put(ctx, &out.Record{
			Key:       pendingKey(stored.ID),
			Kind:      kindPending,
			Owner:     stored.UserID,
			Value:     value,
			CreatedAt: stored.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Put(ctx, &out.Record{
			Key:       msgIndexKey(stored.MessageID, stored.Type),
			Kind:      kindMsgIndex,
			Owner:     stored.MessageID,
			Value:     []byte(stored.ID),
			CreatedAt: stored.CreatedAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("approval: enqueue %s: %w", stored.ID, err)
	}

	q.maybeCleanup(ctx)
	return &stored, nil
}

// GetPendingApprovals lists a user's pending approvals, newest first.
func (q *Queue) GetPendingApprovals(ctx context.Context, userID string, limit int) ([]*domain.ApprovalRecord, error) {
	recs, err := q.store.ListByOwner(ctx, kindPending, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending for %s: %w", userID, err)
	}
	return decodeRecords(recs)
}

// GetPendingByType lists pending approvals of one type across users, newest
// first. Filtering happens in memory; the pending set is bounded by the
// cleanup ceiling.
func (q *Queue) GetPendingByType(ctx context.Context, approvalType string, limit int) ([]*domain.ApprovalRecord, error) {
	recs, err := q.store.ListByKind(ctx, kindPending, 0)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending by type: %w", err)
	}
	all, err := decodeRecords(recs)
	if err != nil {
		return nil, err
	}

	var matched []*domain.ApprovalRecord
	for _, rec := range all {
		if rec.Type != approvalType {
			continue
		}
		matched = append(matched, rec)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// Approve resolves a pending approval. The pending delete and resolved
// insert happen in one transaction, so a record is never in both states and
// a lost race surfaces ErrNotPending instead of a double resolution.
func (q *Queue) Approve(ctx context.Context, id string, res domain.Resolution) (*domain.ApprovalRecord, error) {
	return q.resolve(ctx, id, func(rec *domain.ApprovalRecord, now time.Time) {
		rec.Status = domain.ApprovalApproved
		rec.ResolvedAt = &now
		rec.ResolvedBy = res.ApprovedBy
		rec.Modifications = res.Modifications
		rec.FinalContent = res.FinalContent
	})
}

// Reject resolves a pending approval as rejected with a reason.
func (q *Queue) Reject(ctx context.Context, id, rejectedBy, reason string) (*domain.ApprovalRecord, error) {
	return q.resolve(ctx, id, func(rec *domain.ApprovalRecord, now time.Time) {
		rec.Status = domain.ApprovalRejected
		rec.ResolvedAt = &now
		rec.ResolvedBy = rejectedBy
		rec.RejectionReason = reason
	})
}

func (q *Queue) resolve(ctx context.Context, id string, apply func(*domain.ApprovalRecord, time.Time)) (*domain.ApprovalRecord, error) {
	var resolved *domain.ApprovalRecord

	err := q.store.InTx(ctx, func(tx out.Tx) error {
		stored, err := tx.Get(ctx, pendingKey(id))
		if errors.Is(err, out.ErrNotFound) {
			return ErrNotPending
		}
		if err != nil {
			return err
		}

		rec, err := decodeRecord(stored)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		apply(rec, now)

		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal resolved record: %w", err)
		}

		if err := tx.Delete(ctx, pendingKey(id)); err != nil {
			return err
		}
		if err := tx.Delete(ctx, msgIndexKey(rec.MessageID, rec.Type)); err != nil && !errors.Is(err, out.ErrNotFound) {
			return err
		}

		expires := now.Add(q.cfg.Retention)
		if err := tx.Put(ctx, &out.Record{
			Key:       resolvedKey(id),
			Kind:      kindResolved,
			Owner:     rec.UserID,
			Value:     value,
			CreatedAt: rec.CreatedAt,
			ExpiresAt: &expires,
		}); err != nil {
			return err
		}

		resolved = rec
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("approval: resolve %s: %w", id, err)
	}
	return resolved, nil
}

// BulkApprove approves each id independently. One failure does not stop the
// rest; the caller gets a per-id result.
func (q *Queue) BulkApprove(ctx context.Context, ids []string, approvedBy string) []domain.BulkResult {
	results := make([]domain.BulkResult, 0, len(ids))
	for _, id := range ids {
		if _, err := q.Approve(ctx, id, domain.Resolution{ApprovedBy: approvedBy}); err != nil {
			results = append(results, domain.BulkResult{ID: id, OK: false, Error: err.Error()})
			continue
		}
		results = append(results, domain.BulkResult{ID: id, OK: true})
	}
	return results
}

// GetStatistics aggregates queue activity for one user.
func (q *Queue) GetStatistics(ctx context.Context, userID string) (*domain.ApprovalStats, error) {
	pending, err := q.store.ListByOwner(ctx, kindPending, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("approval: stats pending: %w", err)
	}
	resolvedRecs, err := q.store.ListByOwner(ctx, kindResolved, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("approval: stats resolved: %w", err)
	}
	resolved, err := decodeRecords(resolvedRecs)
	if err != nil {
		return nil, err
	}

	stats := &domain.ApprovalStats{Pending: len(pending)}
	var totalResolution time.Duration
	var resolvedCount int
	for _, rec := range resolved {
		switch rec.Status {
		case domain.ApprovalApproved:
			stats.Approved++
		case domain.ApprovalRejected:
			stats.Rejected++
		}
		if rec.ResolvedAt != nil {
			totalResolution += rec.ResolvedAt.Sub(rec.CreatedAt)
			resolvedCount++
		}
	}

	if total := stats.Approved + stats.Rejected; total > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(total)
	}
	if resolvedCount > 0 {
		stats.AvgResolutionMinutes = int64((totalResolution / time.Duration(resolvedCount)).Minutes())
	}
	return stats, nil
}

// Cleanup deletes resolved records past retention, in batches. Returns the
// number of records removed.
func (q *Queue) Cleanup(ctx context.Context) (int, error) {
	recs, err := q.store.ListByKind(ctx, kindResolved, 0)
	if err != nil {
		return 0, fmt.Errorf("approval: cleanup list: %w", err)
	}

	now := time.Now().UTC()
	var expired []string
	for _, rec := range recs {
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			expired = append(expired, rec.Key)
		}
	}

	deleted := 0
	for start := 0; start < len(expired); start += q.cfg.CleanupBatch {
		end := start + q.cfg.CleanupBatch
		if end > len(expired) {
			end = len(expired)
		}
		if err := q.store.DeleteBatch(ctx, expired[start:end]); err != nil {
			return deleted, fmt.Errorf("approval: cleanup batch: %w", err)
		}
		deleted += end - start
	}
	if deleted > 0 {
		logger.Info("approval: cleanup removed %d resolved records", deleted)
	}
	return deleted, nil
}

// maybeCleanup runs a cleanup pass when the pending backlog crosses the
// ceiling. Failures are logged, never propagated to the enqueue path.
func (q *Queue) maybeCleanup(ctx context.Context) {
	count, err := q.store.CountByKind(ctx, kindPending)
	if err != nil {
		logger.Warn("approval: pending count check failed: %v", err)
		return
	}
	if count <= q.cfg.PendingCeiling {
		return
	}
	if _, err := q.Cleanup(ctx); err != nil {
		logger.Warn("approval: automatic cleanup failed: %v", err)
	}
}

func decodeRecord(stored *out.Record) (*domain.ApprovalRecord, error) {
	var rec domain.ApprovalRecord
	if err := json.Unmarshal(stored.Value, &rec); err != nil {
		return nil, fmt.Errorf("approval: decode record %s: %w", stored.Key, err)
	}
	return &rec, nil
}

func decodeRecords(stored []*out.Record) ([]*domain.ApprovalRecord, error) {
	recs := make([]*domain.ApprovalRecord, 0, len(stored))
	for _, s := range stored {
		rec, err := decodeRecord(s)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
