package main

import (
	"context"
	"net"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rl1809/vending-fleet/internal/adapter/messaging"
	"github.com/rl1809/vending-fleet/internal/adapter/storage"
	"github.com/rl1809/vending-fleet/internal/adapter/telemetry"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/port"
)

func init() {
	rootCmd.AddCommand(collectorCmd)
}

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Run the telemetry collector",
	Long: `Run the telemetry collector.

Every connected machine streams one record per sale. The collector keeps a
shared stock estimate per item and writes a low-stock warning back to the
machine whose sale crossed the threshold.`,
	RunE: runCollector,
}

func runCollector(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var estimator port.StockEstimator
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		estimator = storage.NewRedisEstimator(client, cfg.Collector.DefaultStockEstimate)
	} else {
		logger.Logger.Warn().Msg("no Redis configured, stock estimates kept in memory")
		estimator = storage.NewMemoryEstimator(cfg.Collector.DefaultStockEstimate)
	}

	store, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	var sales port.SaleRepository
	if store != nil {
		defer db.Close()
		sales = store
	}

	var publisher port.SalePublisher
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := messaging.NewSalePublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
		logger.Logger.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("publishing sales to Kafka")
	}

	collector := telemetry.NewCollector(estimator, sales, publisher, telemetry.CollectorConfig{
		LowStockThreshold: cfg.Collector.LowStockThreshold,
	})

	if cfg.Collector.SeedFromInventory {
		if store == nil {
			logger.Logger.Warn().Msg("seed_from_inventory set without a database, skipping")
		} else {
			items, err := store.LoadInventory(ctx)
			if err != nil {
				return err
			}
			if err := collector.SeedFromInventory(ctx, items); err != nil {
				return err
			}
		}
	}

	lis, err := net.Listen("tcp", cfg.Collector.ListenAddr)
	if err != nil {
		return err
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- collector.Serve(serveCtx, lis)
	}()

	metricsServer := startMetricsServer(cfg.Collector.MetricsAddr)

	failed := make(chan struct{})
	var serveErr error
	go func() {
		serveErr = <-serveDone
		close(failed)
	}()

	waitForSignal(failed)

	shutdownHTTP(metricsServer, "metrics")
	stopServe()
	<-failed
	logger.Logger.Info().Msg("collector stopped")

	return serveErr
}
