package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"veriledger/internal/config"
	"veriledger/internal/infra/prover"
	"veriledger/internal/infra/scheduler"
	"veriledger/internal/usecase"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a proof-job worker pool consuming the queue",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runWorker(cfg)
	},
}

func runWorker(cfg *config.Config) error {
	log := newLogger(cfg)
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}

	if cfg.Prover.Endpoint == "" {
		return fmt.Errorf("prover.endpoint is required for the worker")
	}
	p, err := prover.NewHTTPProver(cfg.Prover.Endpoint)
	if err != nil {
		return err
	}
	if a.aggregator.Storage == nil {
		return fmt.Errorf("storage.endpoint is required for the worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loops := make([]*scheduler.Loop, 0, cfg.Queue.WorkerCount)
	for i := 0; i < cfg.Queue.WorkerCount; i++ {
		consumer := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		w := &usecase.Worker{
			Consumer: consumer,
			Jobs:     a.jobs,
			Queue:    a.queue,
			Prover:   p,
			Storage:  a.aggregator.Storage,
			Metrics:  a.metrics,
			Log:      log.With().Str("component", "worker").Str("consumer", consumer).Logger(),
		}
		loop := scheduler.NewLoop(consumer, cfg.Queue.PollEvery, w.Tick, log,
			scheduler.WithObserver(a.loopObserver("worker")))
		loops = append(loops, loop)
		loop.Start(ctx)
	}
	log.Info().Int("workers", cfg.Queue.WorkerCount).Msg("worker pool started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	stopLoops(loops)
	return a.redis.Close()
}
