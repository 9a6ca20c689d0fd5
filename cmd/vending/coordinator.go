package main

import (
	"context"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/rl1809/vending-fleet/internal/adapter/fleetsync"
	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/core/service"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/port"
)

func init() {
	rootCmd.AddCommand(coordinatorCmd)
}

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the fleet sync coordinator",
	RunE:  runCoordinator,
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, db, err := openStore(ctx)
	if err != nil {
		return err
	}

	var (
		repo  port.InventoryRepository
		sales fleetsync.SalesSource
		items []domain.Item
	)
	if store != nil {
		defer db.Close()

		repo = store
		sales = service.NewReportService(store)

		items, err = store.LoadInventory(ctx)
		if err != nil {
			return err
		}
	}
	if len(items) == 0 {
		items = defaultCatalog()
		if repo != nil {
			if err := repo.SaveInventory(ctx, items); err != nil {
				return err
			}
		}
		logger.Logger.Info().Int("items", len(items)).Msg("inventory seeded with default catalog")
	}

	coord := fleetsync.NewCoordinator(service.NewInventoryStore(items), repo, sales, fleetsync.CoordinatorConfig{
		PeerQueueSize:  cfg.Coordinator.PeerQueueSize,
		PersistTimeout: cfg.Coordinator.PersistTimeoutDuration(),
	})

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		coord.Run(loopCtx)
	}()

	grpcServer := grpc.NewServer()
	fleetsync.Register(grpcServer, coord)

	lis, err := net.Listen("tcp", cfg.Coordinator.GRPCAddr)
	if err != nil {
		stopLoop()
		return err
	}

	serveFailed := make(chan struct{})
	go func() {
		logger.Logger.Info().Str("addr", cfg.Coordinator.GRPCAddr).Int("items", len(items)).Msg("coordinator listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Logger.Error().Err(err).Msg("gRPC server error")
			close(serveFailed)
		}
	}()

	metricsServer := startMetricsServer(cfg.Coordinator.MetricsAddr)

	waitForSignal(serveFailed)

	shutdownHTTP(metricsServer, "metrics")

	// stopping the loop closes every peer stream so GracefulStop can finish
	stopLoop()
	<-loopDone
	grpcServer.GracefulStop()
	logger.Logger.Info().Msg("gRPC server stopped")

	return nil
}
