package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/index"
	"github.com/mohammad-safakhou/researcher/internal/llm"
	"github.com/mohammad-safakhou/researcher/internal/queue/streams"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/search"
	"github.com/mohammad-safakhou/researcher/internal/store"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
	"github.com/mohammad-safakhou/researcher/internal/worker"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var metricsAddr string
	var cmd = &cobra.Command{
		Use:   "worker",
		Short: "Run refresh worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tele, meter, tracer, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{
				ServiceName: cfg.Telemetry.ServiceName + "-worker",
				MetricsAddr: metricsAddr,
			})
			if err != nil {
				return fmt.Errorf("telemetry setup: %w", err)
			}
			defer func() { _ = tele.Shutdown(context.Background()) }()

			st, err := store.New(ctx, cfg.Storage.Postgres)
			if err != nil {
				return err
			}

			if !cfg.Storage.Redis.Configured() {
				return fmt.Errorf("worker requires redis (storage.redis.host)")
			}
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr(),
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("worker redis ping: %w", err)
			}
			defer func() { _ = rdb.Close() }()

			if err := streams.EnsureGroup(ctx, rdb, worker.StreamRefreshEnqueued, worker.GroupRefreshWorkers); err != nil {
				return fmt.Errorf("worker ensure group: %w", err)
			}
			consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			consumer := streams.NewConsumer(rdb, worker.GroupRefreshWorkers, consumerName)

			idx, err := index.Open(cfg.Index.Path)
			if err != nil {
				return err
			}
			defer idx.Close()

			logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)

			llmClient, err := llm.NewClient(cfg.LLM, nil)
			if err != nil {
				return err
			}
			generator := llm.NewGenerator(llmClient, cfg)

			providers := search.NewProviders(cfg.Search)
			if len(providers) == 0 {
				logger.Printf("warn: no search providers configured; verticals will resolve empty")
			}
			enricher := search.NewEnricher(cfg.Search.Enrich, nil)
			executor := search.NewExecutor(providers, enricher, cfg.Search, nil)

			orch := research.NewOrchestrator(generator, executor, generator, generator, st, cfg.Research.CallTimeout, nil)

			w := worker.NewWorker(logger, st, orch, idx, consumer, worker.StreamRefreshEnqueued, meter, tracer)
			logger.Printf("worker %s consuming %s", consumerName, worker.StreamRefreshEnqueued)
			return w.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":10002", "worker /metrics listen address")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
