package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !reflect.DeepEqual(cfg.Machine.Denominations, []int{1000, 500, 100, 50, 10}) {
		t.Errorf("Machine.Denominations = %v", cfg.Machine.Denominations)
	}
	if cfg.Machine.InitialCoinStock != 10 {
		t.Errorf("Machine.InitialCoinStock = %d, want %d", cfg.Machine.InitialCoinStock, 10)
	}
	if cfg.Machine.CollectMinimum != 5 {
		t.Errorf("Machine.CollectMinimum = %d, want %d", cfg.Machine.CollectMinimum, 5)
	}
	if cfg.Collector.DefaultStockEstimate != 10 {
		t.Errorf("Collector.DefaultStockEstimate = %d, want %d", cfg.Collector.DefaultStockEstimate, 10)
	}
	if cfg.Collector.LowStockThreshold != 3 {
		t.Errorf("Collector.LowStockThreshold = %d, want %d", cfg.Collector.LowStockThreshold, 3)
	}
	if cfg.Coordinator.PeerQueueSize != 64 {
		t.Errorf("Coordinator.PeerQueueSize = %d, want %d", cfg.Coordinator.PeerQueueSize, 64)
	}
	if cfg.Coordinator.PersistTimeoutDuration() != 5*time.Second {
		t.Errorf("PersistTimeoutDuration = %v, want 5s", cfg.Coordinator.PersistTimeoutDuration())
	}
	if cfg.Auth.InitialPassword != "admin123!" {
		t.Errorf("Auth.InitialPassword = %q", cfg.Auth.InitialPassword)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vending.toml")
	content := `
[machine]
id = "vm-7"
denominations = [500, 100]

[collector]
low_stock_threshold = 2
seed_from_inventory = true

[database]
driver = "mysql"
dsn = "root:pw@tcp(localhost:3306)/vending"

[kafka]
brokers = ["k1:9092", "k2:9092"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Machine.ID != "vm-7" {
		t.Errorf("Machine.ID = %q, want %q", cfg.Machine.ID, "vm-7")
	}
	if !reflect.DeepEqual(cfg.Machine.Denominations, []int{500, 100}) {
		t.Errorf("Machine.Denominations = %v", cfg.Machine.Denominations)
	}
	if !cfg.Collector.SeedFromInventory || cfg.Collector.LowStockThreshold != 2 {
		t.Errorf("Collector = %+v", cfg.Collector)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q", cfg.Database.Driver)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}

	// untouched sections keep their defaults
	if cfg.Coordinator.PeerQueueSize != 64 {
		t.Errorf("Coordinator.PeerQueueSize = %d, want 64", cfg.Coordinator.PeerQueueSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VENDING_DB_DRIVER", "mysql")
	t.Setenv("VENDING_DB_DSN", "env-dsn")
	t.Setenv("VENDING_REDIS_ADDR", "redis:6379")
	t.Setenv("VENDING_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("VENDING_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Driver != "mysql" || cfg.Database.DSN != "env-dsn" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"a:9092", "b:9092"}) {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ascending denominations", func(c *Config) { c.Machine.Denominations = []int{10, 100} }, "descending"},
		{"zero denomination", func(c *Config) { c.Machine.Denominations = []int{100, 0} }, "positive"},
		{"threshold above estimate", func(c *Config) { c.Collector.LowStockThreshold = 20 }, "low_stock_threshold"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "not supported"},
		{"bad timeout", func(c *Config) { c.Coordinator.PersistTimeout = "soon" }, "persist_timeout"},
		{"missing id", func(c *Config) { c.Machine.ID = "" }, "machine.id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
