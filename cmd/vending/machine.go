package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rl1809/vending-fleet/internal/adapter/auth"
	"github.com/rl1809/vending-fleet/internal/adapter/fleetsync"
	"github.com/rl1809/vending-fleet/internal/adapter/handler"
	"github.com/rl1809/vending-fleet/internal/adapter/storage"
	"github.com/rl1809/vending-fleet/internal/adapter/telemetry"
	"github.com/rl1809/vending-fleet/internal/core/service"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/port"
)

const dialTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(machineCmd)
}

var machineCmd = &cobra.Command{
	Use:   "machine",
	Short: "Run a vending machine",
	Long: `Run a vending machine.

The machine mirrors the coordinator's inventory, accepts money and purchases
over HTTP, and streams every sale to the telemetry collector. Admin routes
require a token from /api/admin/login.`,
	RunE: runMachine,
}

func runMachine(cmd *cobra.Command, args []string) error {
	mc := cfg.Machine

	denominations := mc.Denominations
	if len(denominations) == 0 {
		denominations = service.DefaultDenominations
	}
	money := service.NewMoneyEngine(denominations, mc.InitialCoinStock)
	mirror := service.NewInventoryStore(nil)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), dialTimeout)
	defer cancelDial()

	peer, err := fleetsync.Dial(dialCtx, mc.CoordinatorAddr, mirror)
	if err != nil {
		return err
	}
	defer peer.Close()

	svc := service.NewMachineService(mc.ID, money, mirror, peer, mc.CollectMinimum, mc.SaleQueueSize)
	if err := svc.SyncInventory(dialCtx); err != nil {
		return err
	}
	logger.Logger.Info().
		Str("coordinator", mc.CoordinatorAddr).
		Int("items", len(svc.Inventory())).
		Msg("inventory synced from coordinator")

	var reporter port.SaleReporter
	if mc.CollectorAddr != "" {
		r, err := telemetry.DialReporter(dialCtx, mc.CollectorAddr, svc.RecordWarning)
		if err != nil {
			logger.Logger.Warn().Err(err).Str("collector", mc.CollectorAddr).Msg("telemetry unavailable, sales will not be reported")
		} else {
			defer r.Close()
			reporter = r
		}
	}

	var (
		salesDB   *sql.DB
		salesRepo port.SaleRepository
	)
	if mc.SalesDB != "" {
		salesDB, err = storage.OpenSQLite(dialCtx, mc.SalesDB)
		if err != nil {
			return err
		}
		defer salesDB.Close()

		local := storage.NewSQLiteAdapter(salesDB)
		if err := local.Migrate(dialCtx); err != nil {
			return err
		}
		salesRepo = local
	}

	// a single worker keeps the telemetry stream in sale order
	var wg sync.WaitGroup
	worker := service.NewSaleWorker(mc.ID, salesRepo, reporter)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(0, svc.GetSaleQueue())
	}()

	authenticator, err := auth.NewPasswordAuthenticator(cfg.Auth.InitialPassword, 0)
	if err != nil {
		return err
	}
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLDuration(), mc.ID)

	httpHandler := handler.NewHTTPHandler(svc, authenticator, tokens)
	httpServer := &http.Server{
		Addr:         mc.HTTPAddr,
		Handler:      httpHandler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	httpFailed := make(chan struct{})
	go func() {
		logger.Logger.Info().Str("machine", mc.ID).Str("addr", mc.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error().Err(err).Msg("HTTP server error")
			close(httpFailed)
		}
	}()

	go func() {
		<-peer.Done()
		logger.Logger.Error().Err(peer.Err()).Msg("lost connection to coordinator, admin changes unavailable")
	}()

	waitForSignal(httpFailed)

	shutdownHTTP(httpServer, "http")

	svc.Close()
	wg.Wait()
	logger.Logger.Info().Msg("sale queue drained")

	return nil
}
