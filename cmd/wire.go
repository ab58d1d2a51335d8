package main

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/ktrace/internal/adapters/feedback"
	"github.com/okian/ktrace/internal/adapters/http/api"
	"github.com/okian/ktrace/internal/adapters/http/site"
	"github.com/okian/ktrace/internal/adapters/http/swagger"
	"github.com/okian/ktrace/internal/adapters/repository"
	service "github.com/okian/ktrace/internal/app"
	"github.com/okian/ktrace/internal/config"
	"github.com/okian/ktrace/internal/domain/normalize"
	"github.com/okian/ktrace/internal/domain/registry"
	"github.com/okian/ktrace/internal/domain/rule"
	"github.com/okian/ktrace/internal/domain/summary"
	"github.com/okian/ktrace/internal/domain/tracing"
	"github.com/okian/ktrace/pkg/logger"
)

// newService assembles the tracing service from cfg. The returned func
// releases the registry source connection, if any, and must run after
// the service has stopped.
func newService(ctx context.Context, cfg *config.Config, log logger.Logger) (*service.Service, func(), error) {
	noop := func() {}

	store, err := repository.Open(ctx, repository.Config{
		Driver:        cfg.StoreDriver,
		DSN:           cfg.StoreDSN,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	},
		repository.WithPrior(cfg.Prior),
		repository.WithShards(cfg.StoreShards),
		repository.WithKeyPrefix(cfg.StoreKeyPrefix),
		repository.WithEvidenceLog(cfg.EvidenceLog),
	)
	if err != nil {
		return nil, noop, err
	}

	r, err := rule.New(rule.Config{
		Name: cfg.Rule,
		BKT: rule.BKTParams{
			Guess:     cfg.BKTGuess,
			Slip:      cfg.BKTSlip,
			Learn:     cfg.BKTLearn,
			ViewNudge: cfg.BKTViewNudge,
		},
		Heuristic: rule.HeuristicParams{
			Rate:     cfg.HeuristicRate,
			ViewRate: cfg.HeuristicViewRate,
		},
		MaxStep: cfg.MaxStep,
	})
	if err != nil {
		_ = store.Close()
		return nil, noop, err
	}

	regOpts := []registry.Option{
		registry.WithLogger(log.Named("registry")),
		registry.WithRefreshInterval(time.Duration(cfg.RegistryRefreshSeconds) * time.Second),
	}
	release := noop
	switch {
	case cfg.RegistryNeo4jURI != "":
		src, err := registry.NewNeo4jSource(ctx, registry.Neo4jConfig{
			URI:      cfg.RegistryNeo4jURI,
			User:     cfg.RegistryNeo4jUser,
			Password: cfg.RegistryNeo4jPassword,
			Database: cfg.RegistryNeo4jDatabase,
		})
		if err != nil {
			_ = store.Close()
			return nil, noop, err
		}
		regOpts = append(regOpts, registry.WithSource(src))
		release = func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := src.Close(closeCtx); err != nil {
				log.Warn(closeCtx, "close neo4j driver", logger.Error(err))
			}
		}
	case cfg.RegistryFile != "":
		regOpts = append(regOpts, registry.WithSource(registry.NewFileSource(cfg.RegistryFile)))
	default:
		log.Warn(ctx, "no concept registry configured; every item will be reported as unmapped")
	}

	svc := service.New(
		service.WithLogger(log.Named("service")),
		service.WithStore(store),
		service.WithRegistry(registry.New(regOpts...)),
		service.WithRule(r),
		service.WithFeedback(feedback.NewTemplate(feedback.WithLogger(log.Named("feedback")))),
		service.WithThresholds(summary.Thresholds{
			Mastery:    cfg.MasteryThreshold,
			Struggling: cfg.StrugglingThreshold,
		}),
		service.WithWeighting(summary.Weighting(cfg.SummaryWeighting)),
		service.WithNormalizeOptions(normalize.Options{
			ResponseWeight:  cfg.ResponseWeight,
			HistoryWeight:   cfg.HistoryWeight,
			ViewFactor:      cfg.ViewFactor,
			MinViewDuration: time.Duration(cfg.MinViewSeconds * float64(time.Second)),
		}),
		service.WithEngineOptions(
			tracing.WithMaxStep(cfg.MaxStep),
			tracing.WithAppliedWindow(cfg.AppliedWindow),
			tracing.WithCommitAttempts(cfg.CommitAttempts),
			tracing.WithBackoff(
				time.Duration(cfg.CommitBackoffMS)*time.Millisecond,
				time.Duration(cfg.CommitMaxBackoffMS)*time.Millisecond,
			),
			tracing.WithLockShards(cfg.LockShards),
			tracing.WithLogger(log.Named("tracing")),
		),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithBatchConcurrency(cfg.BatchConcurrency),
		service.WithMaxBatchSize(cfg.MaxBatchSize),
	)
	return svc, release, nil
}

// newHandler mounts the API, its docs and the landing page.
func newHandler(ctx context.Context, cfg *config.Config, svc *service.Service, log logger.Logger) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	site.Register(ctx, mux)
	api.NewServer(svc, svc,
		api.WithAPIKey(cfg.APIKey),
		api.WithAuthDisabled(cfg.AuthDisabled),
		api.WithLogger(log.Named("http")),
	).Register(ctx, mux)
	return mux
}
