package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/ktrace/pkg/logger"
)

// ErrNotIdempotent is returned when a replay changed any knowledge state.
var ErrNotIdempotent = errors.New("loadgen: replay changed knowledge state")

// Run generates a workload, submits it and, unless disabled, replays it
// and compares every knowledge state before and after.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (*Stats, []Mismatch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	stats := &Stats{StartTime: time.Now()}
	c := NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)

	if err := c.Health(ctx); err != nil {
		return nil, nil, fmt.Errorf("service health check failed: %w", err)
	}

	w := Generate(cfg)
	stats.AttemptsGenerated = len(w.Attempts)
	log.Info(ctx, "generated workload",
		logger.String("run", w.RunID),
		logger.Int("attempts", len(w.Attempts)),
		logger.Bool("async", cfg.Async))
	if cfg.OutputFile != "" {
		if err := save(cfg.OutputFile, w.Attempts); err != nil {
			log.Warn(ctx, "failed to save attempts", logger.Error(err))
		}
	}

	cnt := submit(ctx, c, cfg, w.Attempts, log)
	stats.Submitted = int(cnt.submitted.Load())
	stats.Accepted = int(cnt.accepted.Load())
	stats.Duplicates = int(cnt.duplicate.Load())
	stats.Failed = int(cnt.failed.Load())
	if cfg.Async {
		if err := drain(ctx, c, cfg.DrainLimit); err != nil {
			return stats, nil, fmt.Errorf("async queue did not drain: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, nil, err
	}

	if cfg.SkipReplay {
		stats.Duration = time.Since(stats.StartTime)
		report(ctx, log, stats)
		return stats, nil, nil
	}

	keys := w.Keys()
	before, err := snapshot(ctx, c, keys, cfg.Workers)
	if err != nil {
		return stats, nil, err
	}

	replayCfg := *cfg
	replayCfg.Async = false
	replay := submit(ctx, c, &replayCfg, w.Attempts, log)
	stats.ReplayApplied = int(replay.applied.Load())

	after, err := snapshot(ctx, c, keys, cfg.Workers)
	if err != nil {
		return stats, nil, err
	}
	mismatches := compare(before, after)
	stats.StatesChecked = len(keys)
	stats.Mismatches = len(mismatches)
	stats.Duration = time.Since(stats.StartTime)
	report(ctx, log, stats)

	if len(mismatches) > 0 || stats.ReplayApplied > 0 || replay.failed.Load() > 0 {
		return stats, mismatches, fmt.Errorf("%w: %d mismatches, %d events re-applied, %d replay failures",
			ErrNotIdempotent, len(mismatches), stats.ReplayApplied, replay.failed.Load())
	}
	return stats, nil, nil
}

func save(path string, attempts []Attempt) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	raw, err := json.MarshalIndent(attempts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}

func report(ctx context.Context, log logger.Logger, s *Stats) {
	var perSecond float64
	if s.Duration > 0 {
		perSecond = float64(s.Submitted) / s.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("generated", s.AttemptsGenerated),
		logger.Int("submitted", s.Submitted),
		logger.Int("accepted", s.Accepted),
		logger.Int("duplicates", s.Duplicates),
		logger.Int("failed", s.Failed),
		logger.Int("statesChecked", s.StatesChecked),
		logger.Int("mismatches", s.Mismatches),
		logger.Int("replayApplied", s.ReplayApplied),
		logger.Duration("duration", s.Duration),
		logger.Float64("attemptsPerSecond", perSecond))
}
