// Package runner drives the triage pipeline outside the HTTP surface: it
// consumes the inbox stream, batches messages, and triggers the periodic
// sweep and snapshot work.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"triage_server/adapter/out/messaging"
	"triage_server/core/domain"
	in "triage_server/core/port/in"
)

// Sweeper is the maintenance surface of the pipeline: expiry sweeps and
// dedup snapshot persistence.
type Sweeper interface {
	Sweep(ctx context.Context)
	Persist(ctx context.Context)
}

// Config holds runner tuning.
type Config struct {
	Group    string
	Consumer string

	// BatchSize and FlushInterval bound how long a message waits before a
	// pipeline run picks it up.
	BatchSize     int
	FlushInterval time.Duration

	SweepInterval   time.Duration
	PersistInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Group:           "triage",
		Consumer:        "triage-runner",
		BatchSize:       25,
		FlushInterval:   5 * time.Second,
		SweepInterval:   5 * time.Minute,
		PersistInterval: time.Minute,
	}
}

// Runner consumes the inbox stream and feeds the pipeline in batches.
type Runner struct {
	cfg      Config
	service  in.TriageService
	sweeper  Sweeper
	consumer *messaging.Consumer
	log      zerolog.Logger

	mu      sync.Mutex
	pending []*domain.Message
}

// New creates a Runner reading the inbox stream through a consumer group.
func New(cfg Config, service in.TriageService, sweeper Sweeper, client *redis.Client, log zerolog.Logger) *Runner {
	r := &Runner{
		cfg:     cfg,
		service: service,
		sweeper: sweeper,
		log:     log.With().Str("component", "runner").Logger(),
	}
	r.consumer = messaging.NewConsumer(client, &messaging.ConsumerConfig{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{messaging.StreamInbox},
		Handler:  r,
		Logger:   r.log,
	})
	return r
}

// Run blocks until the context is cancelled. The consumer acknowledges a
// stream entry once it is buffered; pipeline-level retry is handled by the
// dedup engine leaving failed messages unmarked.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.flushLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.maintenanceLoop(ctx)
	}()

	err := r.consumer.Run(ctx)
	wg.Wait()

	// Drain whatever is still buffered before shutting down.
	r.flush(context.Background())
	return err
}

// Handle implements messaging.MessageHandler.
func (r *Runner) Handle(ctx context.Context, stream string, data []byte) error {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// A malformed entry will never become valid; log and ack it away.
		r.log.Warn().Err(err).Str("stream", stream).Msg("dropping undecodable inbox entry")
		return nil
	}

	r.mu.Lock()
	r.pending = append(r.pending, &msg)
	full := len(r.pending) >= r.cfg.BatchSize
	r.mu.Unlock()

	if full {
		r.flush(ctx)
	}
	return nil
}

func (r *Runner) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Runner) flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	report, err := r.service.ProcessBatch(ctx, batch)
	if err != nil {
		r.log.Error().Err(err).Int("batch", len(batch)).Msg("pipeline run failed")
		return
	}

	r.log.Info().
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("blocked", report.Blocked).
		Int("queued", report.Queued).
		Msg("pipeline run completed")
}

func (r *Runner) maintenanceLoop(ctx context.Context) {
	sweep := time.NewTicker(r.cfg.SweepInterval)
	persist := time.NewTicker(r.cfg.PersistInterval)
	defer sweep.Stop()
	defer persist.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final snapshot so a restart resumes with a warm dedup index.
			r.sweeper.Persist(context.Background())
			return
		case <-sweep.C:
			r.sweeper.Sweep(ctx)
		case <-persist.C:
			r.sweeper.Persist(ctx)
		}
	}
}
