// Package config defines the service configuration and its defaults.
//
// Keys are flat snake_case names shared by the YAML file and the KTRACE_
// environment variables, e.g. mastery_threshold / KTRACE_MASTERY_THRESHOLD.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// APIKey guards /api/*. Required unless AuthDisabled is set.
	APIKey string `koanf:"api_key"`
	// AuthDisabled serves /api/* without authentication.
	AuthDisabled bool `koanf:"auth_disabled"`
	// ShutdownTimeoutMS bounds graceful shutdown.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`

	// StoreDriver is one of memory, sqlite, postgres, redis.
	StoreDriver string `koanf:"store_driver"`
	// StoreDSN is the gorm DSN for sqlite and postgres.
	StoreDSN      string `koanf:"store_dsn"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	// StoreShards sets the shard count of the in-memory store.
	StoreShards    int    `koanf:"store_shards"`
	StoreKeyPrefix string `koanf:"store_key_prefix"`
	// EvidenceLog keeps an audit trail of applied evidence in durable stores.
	EvidenceLog bool `koanf:"evidence_log"`

	// RegistryFile is a YAML concept registry.
	RegistryFile string `koanf:"registry_file"`
	// RegistryNeo4jURI loads the registry from a graph instead of a file.
	RegistryNeo4jURI      string `koanf:"registry_neo4j_uri"`
	RegistryNeo4jUser     string `koanf:"registry_neo4j_user"`
	RegistryNeo4jPassword string `koanf:"registry_neo4j_password"`
	RegistryNeo4jDatabase string `koanf:"registry_neo4j_database"`
	// RegistryRefreshSeconds reloads the registry periodically; 0 disables.
	RegistryRefreshSeconds int `koanf:"registry_refresh_seconds"`

	// Rule is bkt or heuristic.
	Rule              string  `koanf:"rule"`
	BKTGuess          float64 `koanf:"bkt_guess"`
	BKTSlip           float64 `koanf:"bkt_slip"`
	BKTLearn          float64 `koanf:"bkt_learn"`
	BKTViewNudge      float64 `koanf:"bkt_view_nudge"`
	HeuristicRate     float64 `koanf:"heuristic_rate"`
	HeuristicViewRate float64 `koanf:"heuristic_view_rate"`
	MaxStep           float64 `koanf:"max_step"`

	// Prior is the mastery probability of a concept with no evidence.
	Prior               float64 `koanf:"prior"`
	MasteryThreshold    float64 `koanf:"mastery_threshold"`
	StrugglingThreshold float64 `koanf:"struggling_threshold"`
	// SummaryWeighting is evidence, importance or uniform.
	SummaryWeighting string `koanf:"summary_weighting"`

	ResponseWeight float64 `koanf:"response_weight"`
	HistoryWeight  float64 `koanf:"history_weight"`
	ViewFactor     float64 `koanf:"view_factor"`
	MinViewSeconds float64 `koanf:"min_view_seconds"`

	AppliedWindow      int `koanf:"applied_window"`
	CommitAttempts     int `koanf:"commit_attempts"`
	CommitBackoffMS    int `koanf:"commit_backoff_ms"`
	CommitMaxBackoffMS int `koanf:"commit_max_backoff_ms"`
	LockShards         int `koanf:"lock_shards"`

	// QueueSize bounds the asynchronous trace queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of asynchronous trace workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the in-flight attempt set of the async path.
	DedupeSize int `koanf:"dedupe_size"`
	// BatchConcurrency limits parallel attempts in one batch request.
	BatchConcurrency int `koanf:"batch_concurrency"`
	// MaxBatchSize caps attempts per batch request.
	MaxBatchSize int `koanf:"max_batch_size"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		ShutdownTimeoutMS: 15_000,

		StoreDriver:    "memory",
		StoreShards:    256,
		StoreKeyPrefix: "ktrace",
		EvidenceLog:    true,

		RegistryNeo4jDatabase: "neo4j",

		Rule:              "bkt",
		BKTGuess:          0.2,
		BKTSlip:           0.08,
		BKTLearn:          0.18,
		BKTViewNudge:      0.02,
		HeuristicRate:     0.3,
		HeuristicViewRate: 0.05,
		MaxStep:           0.3,

		Prior:               0.3,
		MasteryThreshold:    0.75,
		StrugglingThreshold: 0.35,
		SummaryWeighting:    "evidence",

		ResponseWeight: 1.0,
		HistoryWeight:  0.75,
		ViewFactor:     0.2,

		AppliedWindow:      256,
		CommitAttempts:     5,
		CommitBackoffMS:    10,
		CommitMaxBackoffMS: 500,
		LockShards:         256,

		QueueSize:        10_000,
		WorkerCount:      runtime.NumCPU() * 2,
		DedupeSize:       50_000,
		BatchConcurrency: 8,
		MaxBatchSize:     100,
	}
}
