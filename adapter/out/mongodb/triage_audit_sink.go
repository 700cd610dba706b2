package mongodb

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"triage_server/core/port/out"
	"triage_server/pkg/logger"
)

// =============================================================================
// MongoDB Audit Sink
// =============================================================================

const (
	collectionAudit = "triage_audit"

	// Audit documents expire after this much time.
	auditRetention = 90 * 24 * time.Hour

	auditWriteTimeout = 2 * time.Second
)

// AuditSink implements out.AuditSink over a MongoDB collection. Writes are
// wrapped in a circuit breaker: when Mongo misbehaves the events fall back
// to the structured log instead of stalling classification.
type AuditSink struct {
	collection *mongo.Collection
	cb         *gobreaker.CircuitBreaker
}

// NewAuditSink creates a MongoDB audit sink.
func NewAuditSink(db *mongo.Database) *AuditSink {
	cbSettings := gobreaker.Settings{
		Name:        "mongo-audit",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &AuditSink{
		collection: db.Collection(collectionAudit),
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// EnsureIndexes creates the collection indexes, including the TTL index
// that ages audit documents out.
func (s *AuditSink) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "message_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "event", Value: 1}, {Key: "timestamp", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type auditDoc struct {
	Event      string    `bson:"event"`
	MessageID  string    `bson:"message_id,omitempty"`
	Sender     string    `bson:"sender,omitempty"`
	Subject    string    `bson:"subject,omitempty"`
	Tier       string    `bson:"tier,omitempty"`
	Confidence float64   `bson:"confidence,omitempty"`
	FromCache  bool      `bson:"from_cache,omitempty"`
	Reason     string    `bson:"reason,omitempty"`
	Kind       string    `bson:"kind,omitempty"`
	Detail     string    `bson:"detail,omitempty"`
	Timestamp  time.Time `bson:"timestamp"`
	ExpiresAt  time.Time `bson:"expires_at"`
}

// EmailClassified records a successful classification.
func (s *AuditSink) EmailClassified(ctx context.Context, ev out.ClassifiedEvent) {
	s.write(ctx, &auditDoc{
		Event:      "email_classified",
		MessageID:  ev.MessageID,
		Sender:     ev.Sender,
		Subject:    ev.Subject,
		Tier:       ev.Tier,
		Confidence: ev.Confidence,
		FromCache:  ev.FromCache,
		Timestamp:  ev.Timestamp,
	})
}

// EmailBlocked records a fail-closed block.
func (s *AuditSink) EmailBlocked(ctx context.Context, ev out.BlockedEvent) {
	s.write(ctx, &auditDoc{
		Event:     "email_blocked",
		MessageID: ev.MessageID,
		Sender:    ev.Sender,
		Reason:    ev.Reason,
		Timestamp: ev.Timestamp,
	})
}

// SecurityViolation records a fired hard-block rule.
func (s *AuditSink) SecurityViolation(ctx context.Context, ev out.ViolationEvent) {
	s.write(ctx, &auditDoc{
		Event:     "security_violation",
		MessageID: ev.MessageID,
		Kind:      ev.Kind,
		Detail:    ev.Detail,
		Timestamp: ev.Timestamp,
	})
}

func (s *AuditSink) write(ctx context.Context, doc *auditDoc) {
	doc.ExpiresAt = doc.Timestamp.Add(auditRetention)

	_, err := s.cb.Execute(func() (any, error) {
		writeCtx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
		defer cancel()
		return s.collection.InsertOne(writeCtx, doc)
	})
	if err != nil {
		logger.Warn("audit: %s for %s not persisted: %v", doc.Event, doc.MessageID, err)
	}
}
