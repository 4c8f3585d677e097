package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"veriledger/internal/config"
	"veriledger/internal/domain"
	"veriledger/internal/infra/alert"
	"veriledger/internal/infra/anchor"
	"veriledger/internal/infra/cachemem"
	cryptoinfra "veriledger/internal/infra/crypto"
	"veriledger/internal/infra/db"
	httpapi "veriledger/internal/infra/http"
	"veriledger/internal/infra/metrics"
	"veriledger/internal/infra/queue"
	"veriledger/internal/infra/ratelimit"
	"veriledger/internal/infra/scheduler"
	"veriledger/internal/infra/storage"
	"veriledger/internal/usecase"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger API server with its block and rollup loops",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

type app struct {
	cfg *config.Config
	log zerolog.Logger

	redis   *redis.Client
	metrics *metrics.Metrics
	queue   *queue.Queue
	jobs    domain.ProverJobRepository

	ledger      *usecase.Ledger
	chain       *usecase.ChainBuilder
	coordinator *usecase.Coordinator
	aggregator  *usecase.Aggregator
	registry    *usecase.CredentialRegistry
}

func buildApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	gormDB, err := db.Open(cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	events := db.NewEventRepository(gormDB)
	blocks := db.NewBlockRepository(gormDB)
	batches := db.NewBatchRepository(gormDB)
	jobs := db.NewProverJobRepository(gormDB)
	credentials := db.NewCredentialRepository(gormDB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	jobQueue, err := queue.New(rdb, cfg.Queue.Stream, cfg.Queue.Group, log,
		queue.WithClaimCount(cfg.Queue.ClaimCount),
		queue.WithMinIdle(cfg.Queue.MinIdle),
	)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	verifier := cryptoinfra.NewSignatureVerifier(cfg.Signing.Secret, nil)
	anchorClient := anchor.NewHTTPClient(cfg.Anchor.Endpoint, cfg.Anchor.Contract, log)
	notifier := alert.NewWebhookNotifier(cfg.Alerts.WebhookURLs, log)

	var store storage.ObjectStore
	if cfg.Storage.Endpoint != "" {
		base := strings.TrimRight(cfg.Storage.Endpoint, "/")
		if cfg.Storage.Bucket != "" {
			base = base + "/" + cfg.Storage.Bucket
		}
		store, err = storage.NewHTTPStore(base)
		if err != nil {
			return nil, err
		}
	}

	ledger := &usecase.Ledger{
		Events:   events,
		Batches:  batches,
		Verifier: verifier,
		Metrics:  m,
		Log:      log.With().Str("component", "ledger").Logger(),
	}
	chain := &usecase.ChainBuilder{
		Events:    events,
		Blocks:    blocks,
		BlockSize: cfg.Ledger.BlockSize,
		Metrics:   m,
		Log:       log.With().Str("component", "chain").Logger(),
	}
	coordinator := &usecase.Coordinator{
		Jobs:    jobs,
		Events:  events,
		Batches: batches,
		Queue:   jobQueue,
		Metrics: m,
		Log:     log.With().Str("component", "coordinator").Logger(),
	}
	aggregator := &usecase.Aggregator{
		Events:        events,
		Batches:       batches,
		Jobs:          jobs,
		Credentials:   credentials,
		Coordinator:   coordinator,
		Anchor:        anchorClient,
		Storage:       store,
		Alerts:        notifier,
		BatchSize:     cfg.Rollup.BatchSize,
		FetchAttempts: cfg.Rollup.FetchAttempts,
		FetchBackoff:  cfg.Rollup.FetchBackoff,
		Metrics:       m,
		Log:           log.With().Str("component", "rollup").Logger(),
	}
	registry := &usecase.CredentialRegistry{
		Credentials: credentials,
		Cache:       cachemem.NewLeafCache(5 * time.Minute),
		Metrics:     m,
		Log:         log.With().Str("component", "credentials").Logger(),
	}

	return &app{
		cfg:         cfg,
		log:         log,
		redis:       rdb,
		metrics:     m,
		queue:       jobQueue,
		jobs:        jobs,
		ledger:      ledger,
		chain:       chain,
		coordinator: coordinator,
		aggregator:  aggregator,
		registry:    registry,
	}, nil
}

func runServe(cfg *config.Config) error {
	log := newLogger(cfg)
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.NewRedisLimiter(a.redis, nil)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(*cfg, httpapi.ServerDeps{
		Ledger:      a.ledger,
		Chain:       a.chain,
		Coordinator: a.coordinator,
		Aggregator:  a.aggregator,
		Registry:    a.registry,
		DeadLetters: a.queue,
		RateLimiter: limiter,
		Metrics:     a.metrics.Handler(),
		Log:         log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loops := []*scheduler.Loop{
		scheduler.NewLoop("block-builder", cfg.Ledger.BuildInterval, func(ctx context.Context) error {
			_, err := a.chain.BuildBlock(ctx)
			return err
		}, log, scheduler.WithObserver(a.loopObserver("block-builder"))),
		scheduler.NewLoop("batch-former", cfg.Rollup.FormInterval, func(ctx context.Context) error {
			_, err := a.aggregator.FormBatch(ctx)
			return err
		}, log, scheduler.WithObserver(a.loopObserver("batch-former"))),
		scheduler.NewLoop("batch-anchorer", cfg.Rollup.AnchorInterval, a.aggregator.AnchorBatches,
			log, scheduler.WithObserver(a.loopObserver("batch-anchorer"))),
	}
	for _, loop := range loops {
		loop.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		cancel()
		stopLoops(loops)
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	cancel()
	stopLoops(loops)
	if err := server.Shutdown(shutdownTimeout); err != nil {
		return err
	}
	return a.redis.Close()
}

func (a *app) loopObserver(name string) func(float64) {
	return func(seconds float64) {
		a.metrics.TickDuration.WithLabelValues(name).Observe(seconds)
	}
}

func stopLoops(loops []*scheduler.Loop) {
	for _, loop := range loops {
		loop.Stop(shutdownTimeout)
	}
}
