package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rl1809/vending-fleet/internal/config"
	"github.com/rl1809/vending-fleet/internal/logger"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vending",
	Short: "Vending machine fleet: coordinator, telemetry collector and machine",
	Long: `vending runs one role of the fleet per process.

  coordinator  owns the authoritative inventory and broadcasts every edit
  collector    ingests sale streams and warns machines about low stock
  machine      runs the money engine and purchase flow behind an HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		logger.Init("vending-"+cmd.Name(), cfg.Log.Development)
		logger.SetLevel(cfg.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
