package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/vending-fleet/internal/adapter/storage"
	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// defaultCatalog seeds an empty inventory table.
func defaultCatalog() []domain.Item {
	return []domain.Item{
		{Name: "Water", Price: 450, Stock: 10},
		{Name: "Coffee", Price: 500, Stock: 10},
		{Name: "Sports Drink", Price: 550, Stock: 10},
		{Name: "Premium Coffee", Price: 700, Stock: 10},
		{Name: "Soda", Price: 750, Stock: 10},
		{Name: "Specialty Drink", Price: 800, Stock: 10},
	}
}

// openStore opens the configured database, or returns nil when persistence
// is disabled.
func openStore(ctx context.Context) (storage.Store, *sql.DB, error) {
	if cfg.Database.Driver == "" {
		logger.Logger.Warn().Msg("no database configured, persistence disabled")
		return nil, nil, nil
	}

	store, db, err := storage.OpenStore(ctx, cfg.Database.Driver, cfg.Database.DSN,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}
	logger.Logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")
	return store, db, nil
}

// startMetricsServer serves /metrics on addr. An empty addr disables it.
func startMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, name string) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Warn().Err(err).Str("server", name).Msg("shutdown did not complete")
		return
	}
	logger.Logger.Info().Str("server", name).Msg("server stopped")
}

// waitForSignal blocks until SIGINT or SIGTERM, or until done is closed.
func waitForSignal(done <-chan struct{}) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Logger.Info().Str("signal", sig.String()).Msg("shutting down...")
	case <-done:
		logger.Logger.Warn().Msg("shutting down after a fatal component error")
	}
}
