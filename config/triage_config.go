package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateRunnerID creates a unique consumer name using hostname and PID.
func generateRunnerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "triage"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Mode selects which surfaces start: "api", "runner" or "all".
	Mode string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// Owner identity
	OwnerAddress string
	OwnerUserID  string

	// Snowflake worker id for approval record ids
	SnowflakeWorkerID int64

	// Classification lists
	VIPSenders         []string
	OffLimitsContacts  []string
	CriticalDomains    []string
	NoAutoReplyDomains []string

	// Classification throughput gate
	ClassifyRateLimit  int
	ClassifyRateWindow time.Duration

	// Runner (Redis Stream consumer)
	RunnerGroup         string
	RunnerConsumer      string
	RunnerBatchSize     int
	RunnerFlushInterval time.Duration
	SweepInterval       time.Duration
	PersistInterval     time.Duration

	// Mailbox
	MailboxFetchLimit int

	// HTTP surface
	HTTPRateLimit    int
	HTTPRateWindow   time.Duration
	RunDebounce      time.Duration
	AllowedOrigins   []string
	SnapshotTTLHours int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		Mode:        getEnv("MODE", "all"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "triage"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Owner identity
		OwnerAddress: getEnv("OWNER_ADDRESS", ""),
		OwnerUserID:  getEnv("OWNER_USER_ID", "owner"),

		SnowflakeWorkerID: int64(getEnvInt("SNOWFLAKE_WORKER_ID", 1)),

		// Classification lists
		VIPSenders:         getEnvSlice("VIP_SENDERS", nil),
		OffLimitsContacts:  getEnvSlice("OFF_LIMITS_CONTACTS", nil),
		CriticalDomains:    getEnvSlice("CRITICAL_DOMAINS", nil),
		NoAutoReplyDomains: getEnvSlice("NO_AUTO_REPLY_DOMAINS", nil),

		// Classification throughput gate
		ClassifyRateLimit:  getEnvInt("CLASSIFY_RATE_LIMIT", 60),
		ClassifyRateWindow: time.Duration(getEnvInt("CLASSIFY_RATE_WINDOW_SEC", 60)) * time.Second,

		// Runner
		RunnerGroup:         getEnv("RUNNER_GROUP", "triage"),
		RunnerConsumer:      getEnv("RUNNER_CONSUMER", generateRunnerID()),
		RunnerBatchSize:     getEnvInt("RUNNER_BATCH_SIZE", 25),
		RunnerFlushInterval: time.Duration(getEnvInt("RUNNER_FLUSH_INTERVAL_SEC", 5)) * time.Second,
		SweepInterval:       time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 300)) * time.Second,
		PersistInterval:     time.Duration(getEnvInt("PERSIST_INTERVAL_SEC", 60)) * time.Second,

		// Mailbox
		MailboxFetchLimit: getEnvInt("MAILBOX_FETCH_LIMIT", 100),

		// HTTP surface
		HTTPRateLimit:  getEnvInt("HTTP_RATE_LIMIT", 120),
		HTTPRateWindow: time.Duration(getEnvInt("HTTP_RATE_WINDOW_SEC", 60)) * time.Second,
		RunDebounce:    time.Duration(getEnvInt("RUN_DEBOUNCE_SEC", 5)) * time.Second,
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		SnapshotTTLHours: getEnvInt("SNAPSHOT_TTL_HOURS", 48),
	}

	if cfg.OwnerAddress == "" {
		return nil, fmt.Errorf("OWNER_ADDRESS is required")
	}
	switch cfg.Mode {
	case "api", "runner", "all":
	default:
		return nil, fmt.Errorf("invalid MODE %q: must be api, runner or all", cfg.Mode)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
