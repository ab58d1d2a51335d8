package config

import (
	"fmt"
	"log/slog"
	"slices"
)

var (
	storeDrivers = []string{"memory", "sqlite", "postgres", "redis"}
	rules        = []string{"bkt", "heuristic"}
	weightings   = []string{"evidence", "importance", "uniform"}
	logFormats   = []string{"text", "json"}
)

// Validate checks ranges and enumerations. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	var lvl slog.Level
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.Addr != "", "addr must not be empty"},
		{c.APIKey != "" || c.AuthDisabled, "api_key is required unless auth_disabled is true"},
		{lvl.UnmarshalText([]byte(c.LogLevel)) == nil, "log_level must be debug, info, warn or error"},
		{slices.Contains(logFormats, c.LogFormat), "log_format must be text or json"},
		{slices.Contains(storeDrivers, c.StoreDriver), "store_driver must be memory, sqlite, postgres or redis"},
		{c.StoreDriver != "redis" || c.RedisAddr != "", "redis_addr is required for the redis store"},
		{c.StoreDriver != "postgres" || c.StoreDSN != "", "store_dsn is required for the postgres store"},
		{slices.Contains(rules, c.Rule), "rule must be bkt or heuristic"},
		{slices.Contains(weightings, c.SummaryWeighting), "summary_weighting must be evidence, importance or uniform"},
		{c.Prior >= 0 && c.Prior <= 1, "prior must be in [0, 1]"},
		{c.StrugglingThreshold >= 0 && c.StrugglingThreshold < c.MasteryThreshold && c.MasteryThreshold <= 1,
			"thresholds need 0 <= struggling_threshold < mastery_threshold <= 1"},
		{c.MaxStep > 0 && c.MaxStep <= 1, "max_step must be in (0, 1]"},
		{c.ResponseWeight > 0 && c.ResponseWeight <= 1, "response_weight must be in (0, 1]"},
		{c.HistoryWeight > 0 && c.HistoryWeight <= 1, "history_weight must be in (0, 1]"},
		{c.ViewFactor > 0 && c.ViewFactor <= 1, "view_factor must be in (0, 1]"},
		{c.MinViewSeconds >= 0, "min_view_seconds must not be negative"},
		{c.AppliedWindow > 0, "applied_window must be positive"},
		{c.CommitAttempts > 0, "commit_attempts must be positive"},
		{c.CommitBackoffMS >= 0 && c.CommitMaxBackoffMS >= c.CommitBackoffMS, "commit backoff needs 0 <= commit_backoff_ms <= commit_max_backoff_ms"},
		{c.LockShards > 0, "lock_shards must be positive"},
		{c.QueueSize > 0, "queue_size must be positive"},
		{c.WorkerCount > 0, "worker_count must be positive"},
		{c.BatchConcurrency > 0, "batch_concurrency must be positive"},
		{c.MaxBatchSize > 0, "max_batch_size must be positive"},
		{c.RegistryRefreshSeconds >= 0, "registry_refresh_seconds must not be negative"},
		{c.ShutdownTimeoutMS > 0, "shutdown_timeout_ms must be positive"},
	}
	for _, ch := range checks {
		if !ch.ok {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, ch.msg)
		}
	}
	return nil
}
