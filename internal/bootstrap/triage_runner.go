package bootstrap

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"triage_server/adapter/in/runner"
	"triage_server/config"
)

// NewRunner builds the stream-driven pipeline runner on shared
// dependencies. It requires Redis: without the inbox stream there is
// nothing to consume.
func NewRunner(cfg *config.Config, deps *Dependencies) (*runner.Runner, error) {
	if deps.Redis == nil {
		return nil, fmt.Errorf("runner mode requires Redis (REDIS_URL)")
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Logger()

	rcfg := runner.DefaultConfig()
	rcfg.Group = cfg.RunnerGroup
	rcfg.Consumer = cfg.RunnerConsumer
	rcfg.BatchSize = cfg.RunnerBatchSize
	rcfg.FlushInterval = cfg.RunnerFlushInterval
	rcfg.SweepInterval = cfg.SweepInterval
	rcfg.PersistInterval = cfg.PersistInterval

	return runner.New(rcfg, deps.Pipeline, deps.Pipeline, deps.Redis, zlog), nil
}
