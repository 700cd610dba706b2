// Package bootstrap wires configuration, infrastructure and services into
// runnable surfaces.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	_ "github.com/jackc/pgx/v5/stdlib"

	"triage_server/adapter/out/messaging"
	"triage_server/adapter/out/mongodb"
	"triage_server/adapter/out/persistence"
	"triage_server/adapter/out/redisstore"
	"triage_server/config"
	out "triage_server/core/port/out"
	"triage_server/core/service/approval"
	"triage_server/core/service/classification"
	"triage_server/core/service/dedup"
	"triage_server/core/service/thread"
	"triage_server/core/service/triage"
	"triage_server/infra/database"
	"triage_server/pkg/logger"
	"triage_server/pkg/metrics"
	"triage_server/pkg/ratelimit"
	"triage_server/pkg/snowflake"
)

// Dependencies carries every shared component. Redis and Mongo are
// optional: their absence degrades the pipeline (no snapshot persistence,
// no rate gate, log-only audit) but never prevents startup. Postgres is
// optional too; without it the record store runs in memory and nothing
// survives a restart.
type Dependencies struct {
	Config *config.Config

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	Store     out.Store
	Snapshots out.DedupSnapshotStore
	Audit     out.AuditSink
	Limiter   out.ClassifyLimiter
	Publisher out.ActionPublisher
	Mailbox   out.Mailbox
	Debounce  *ratelimit.Debouncer

	Dedup    *dedup.Engine
	Threads  *thread.Detector
	Engine   *classification.Engine
	Queue    *approval.Queue
	Pipeline *triage.Pipeline
}

// NewDependencies initializes all shared components. The returned cleanup
// runs in reverse initialization order.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres (record store)
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		deps.DB = pool
		cleanups = append(cleanups, pool.Close)

		// sqlx over pgx stdlib for the record store. Simple protocol keeps
		// it compatible with the pgxpool settings above.
		sqlDB, err := sqlx.Connect("pgx", cfg.DatabaseURL+"?default_query_exec_mode=simple_protocol")
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect sqlx: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { sqlDB.Close() })

		metrics.RegisterPool("postgres", sqlDB.DB)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err = sqlDB.ExecContext(ctx, persistence.Schema)
		cancel()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to apply record store schema: %w", err)
		}

		deps.Store = persistence.NewRecordStore(sqlDB)
		logger.Info("Record store backed by Postgres")
	} else {
		deps.Store = persistence.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, record store is in-memory: threads and approvals will not survive a restart")
	}

	// Redis (snapshots, rate gate, streams, debounce)
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without snapshots, rate gate and streams")
		} else {
			deps.Redis = client
			cleanups = append(cleanups, func() { client.Close() })

			deps.Snapshots = redisstore.NewSnapshotStore(client, time.Duration(cfg.SnapshotTTLHours)*time.Hour)
			deps.Limiter = redisstore.NewClassifyLimiter(client, cfg.ClassifyRateLimit, cfg.ClassifyRateWindow)
			deps.Publisher = messaging.NewRedisProducer(client)
			deps.Mailbox = messaging.NewStreamMailbox(client, int64(cfg.MailboxFetchLimit))
			deps.Debounce = ratelimit.NewDebouncer(client, cfg.RunDebounce)
		}
	} else {
		logger.Warn("REDIS_URL not set, continuing without snapshots, rate gate and streams")
	}

	// MongoDB (audit trail)
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(cfg.MongoDBURL, cfg.MongoDBName)
		if err != nil {
			logger.WithError(err).Warn("MongoDB unavailable, audit events go to the log only")
			deps.Audit = mongodb.NewLogSink()
		} else {
			deps.MongoDB = client
			cleanups = append(cleanups, func() {
				client.Disconnect(context.Background())
			})

			sink := mongodb.NewAuditSink(client.Database(cfg.MongoDBName))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := sink.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Failed to ensure audit indexes")
			}
			cancel()
			deps.Audit = sink
		}
	} else {
		deps.Audit = mongodb.NewLogSink()
		logger.Warn("MONGODB_URL not set, audit events go to the log only")
	}

	// Core services
	ids, err := snowflake.NewGenerator(cfg.SnowflakeWorkerID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create id generator: %w", err)
	}

	deps.Dedup = dedup.NewEngine(dedup.DefaultConfig(), deps.Snapshots)

	deps.Threads = thread.NewDetector(thread.DefaultConfig(cfg.OwnerAddress), deps.Store)

	ccfg := classification.DefaultConfig()
	ccfg.VIPSenders = append(ccfg.VIPSenders, cfg.VIPSenders...)
	ccfg.OffLimitsContacts = append(ccfg.OffLimitsContacts, cfg.OffLimitsContacts...)
	ccfg.CriticalDomains = append(ccfg.CriticalDomains, cfg.CriticalDomains...)
	ccfg.NoAutoReplyDomains = append(ccfg.NoAutoReplyDomains, cfg.NoAutoReplyDomains...)
	deps.Engine = classification.NewEngine(ccfg, nil, deps.Limiter, deps.Audit)

	deps.Queue = approval.NewQueue(approval.DefaultConfig(), deps.Store, ids)

	deps.Pipeline = triage.NewPipeline(
		triage.DefaultConfig(cfg.OwnerUserID),
		deps.Dedup,
		deps.Threads,
		deps.Engine,
		deps.Queue,
		deps.Publisher,
	)

	return deps, cleanup, nil
}

// HealthCheck pings every configured backend.
func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if d.DB != nil {
		if err := d.DB.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if d.MongoDB != nil {
		if err := d.MongoDB.Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
	}
	return nil
}
