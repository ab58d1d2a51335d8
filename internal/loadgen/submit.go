package loadgen

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/ktrace/pkg/logger"
)

type counters struct {
	submitted atomic.Int64
	accepted  atomic.Int64
	duplicate atomic.Int64
	failed    atomic.Int64
	applied   atomic.Int64
}

// submit sends attempts with a pool of workers. Attempts of one key always
// go to the same worker, in order, so the server sees them in time order.
func submit(ctx context.Context, c *Client, cfg *Config, attempts []Attempt, log logger.Logger) *counters {
	var cnt counters
	lanes := make([]chan *Attempt, cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan *Attempt, 2)
	}

	var wg sync.WaitGroup
	for i := range lanes {
		wg.Add(1)
		go func(in <-chan *Attempt) {
			defer wg.Done()
			for a := range in {
				submitOne(ctx, c, cfg.Async, a, &cnt, log)
			}
		}(lanes[i])
	}

	lane := make(map[string]int)
	done := 0
	lastReport := time.Now()
feed:
	for i := range attempts {
		a := &attempts[i]
		n, ok := lane[a.Key()]
		if !ok {
			n = len(lane) % cfg.Workers
			lane[a.Key()] = n
		}
		select {
		case <-ctx.Done():
			break feed
		case lanes[n] <- a:
		}
		done++
		if time.Since(lastReport) >= time.Second {
			lastReport = time.Now()
			log.Info(ctx, "progress",
				logger.Int("queued", done),
				logger.Int("total", len(attempts)),
				logger.Int64("failed", cnt.failed.Load()))
		}
	}
	for _, ch := range lanes {
		close(ch)
	}
	wg.Wait()
	return &cnt
}

func submitOne(ctx context.Context, c *Client, async bool, a *Attempt, cnt *counters, log logger.Logger) {
	cnt.submitted.Add(1)
	if async {
		status, dup, err := c.Enqueue(ctx, a)
		switch {
		case err != nil:
			cnt.failed.Add(1)
			log.Warn(ctx, "enqueue failed", logger.String("attemptid", a.AttemptID), logger.Error(err))
		case status == http.StatusAccepted:
			cnt.accepted.Add(1)
		case status == http.StatusOK && dup:
			cnt.duplicate.Add(1)
		default:
			cnt.failed.Add(1)
			log.Warn(ctx, "enqueue rejected", logger.String("attemptid", a.AttemptID), logger.Int("status", status))
		}
		return
	}

	status, res, err := c.Trace(ctx, a)
	switch {
	case err != nil:
		cnt.failed.Add(1)
		log.Warn(ctx, "trace failed", logger.String("attemptid", a.AttemptID), logger.Error(err))
	case status != http.StatusOK:
		cnt.failed.Add(1)
		log.Warn(ctx, "trace rejected",
			logger.String("attemptid", a.AttemptID),
			logger.Int("status", status),
			logger.String("code", res.Code))
	default:
		cnt.accepted.Add(1)
		cnt.applied.Add(int64(res.Trace.Applied))
		if res.Trace.Applied == 0 && res.Trace.Duplicates > 0 {
			cnt.duplicate.Add(1)
		}
	}
}

// drain waits until the server reports no queued attempts.
func drain(ctx context.Context, c *Client, limit time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		n, err := c.InFlight(ctx)
		if err == nil && n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
