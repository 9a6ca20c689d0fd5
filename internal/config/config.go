// Package config loads the TOML configuration shared by the coordinator, the
// collector and the machine process.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Machine     MachineConfig     `toml:"machine"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Collector   CollectorConfig   `toml:"collector"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Kafka       KafkaConfig       `toml:"kafka"`
	Auth        AuthConfig        `toml:"auth"`
	Log         LogConfig         `toml:"log"`
}

// ─── Sections ───────────────────────────────────────────────────────────────

type MachineConfig struct {
	ID               string `toml:"id"`
	HTTPAddr         string `toml:"http_addr"`
	CoordinatorAddr  string `toml:"coordinator_addr"`
	CollectorAddr    string `toml:"collector_addr"`
	Denominations    []int  `toml:"denominations"`
	InitialCoinStock int    `toml:"initial_coin_stock"`
	CollectMinimum   int    `toml:"collect_minimum"`
	SaleQueueSize    int    `toml:"sale_queue_size"`

	// SalesDB is a SQLite file for the machine's own sales log; empty disables it.
	SalesDB string `toml:"sales_db"`
}

type CoordinatorConfig struct {
	GRPCAddr       string `toml:"grpc_addr"`
	MetricsAddr    string `toml:"metrics_addr"`
	PeerQueueSize  int    `toml:"peer_queue_size"`
	PersistTimeout string `toml:"persist_timeout"`
}

type CollectorConfig struct {
	ListenAddr           string `toml:"listen_addr"`
	MetricsAddr          string `toml:"metrics_addr"`
	DefaultStockEstimate int    `toml:"default_stock_estimate"`
	LowStockThreshold    int    `toml:"low_stock_threshold"`
	SeedFromInventory    bool   `toml:"seed_from_inventory"`
}

type DatabaseConfig struct {
	// Driver is "mysql" or "sqlite"; empty disables persistence.
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

type RedisConfig struct {
	// Addr selects the shared Redis estimator; empty keeps estimates in memory.
	Addr     string `toml:"addr"`
	PoolSize int    `toml:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type AuthConfig struct {
	InitialPassword string `toml:"initial_password"`
	JWTSecret       string `toml:"jwt_secret"`
	TokenTTL        string `toml:"token_ttl"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// DefaultConfig returns a configuration that runs every role on localhost
// with in-memory estimates and SQLite persistence.
func DefaultConfig() Config {
	return Config{
		Machine: MachineConfig{
			ID:               "vm-1",
			HTTPAddr:         ":8080",
			CoordinatorAddr:  "localhost:9090",
			CollectorAddr:    "localhost:9100",
			Denominations:    []int{1000, 500, 100, 50, 10},
			InitialCoinStock: 10,
			CollectMinimum:   5,
			SaleQueueSize:    1000,
		},
		Coordinator: CoordinatorConfig{
			GRPCAddr:       ":9090",
			MetricsAddr:    ":9091",
			PeerQueueSize:  64,
			PersistTimeout: "5s",
		},
		Collector: CollectorConfig{
			ListenAddr:           ":9100",
			MetricsAddr:          ":9101",
			DefaultStockEstimate: 10,
			LowStockThreshold:    3,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "vending.db",
			MaxOpenConns: 20,
			MaxIdleConns: 10,
		},
		Redis: RedisConfig{
			PoolSize: 50,
		},
		Kafka: KafkaConfig{
			Topic: "vending-sales",
		},
		Auth: AuthConfig{
			InitialPassword: "admin123!",
			JWTSecret:       "change-me",
			TokenTTL:        "30m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path loads only defaults and environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("VENDING_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("VENDING_DB_DSN", c.Database.DSN)
	c.Redis.Addr = getEnv("VENDING_REDIS_ADDR", c.Redis.Addr)
	c.Log.Level = getEnv("VENDING_LOG_LEVEL", c.Log.Level)
	c.Auth.JWTSecret = getEnv("VENDING_JWT_SECRET", c.Auth.JWTSecret)
	c.Machine.ID = getEnv("VENDING_MACHINE_ID", c.Machine.ID)

	if brokers := os.Getenv("VENDING_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
}

// Validate checks the fields every role depends on.
func (c Config) Validate() error {
	var errs []error

	if c.Machine.ID == "" {
		errs = append(errs, errors.New("machine.id is required"))
	}
	if len(c.Machine.Denominations) == 0 {
		errs = append(errs, errors.New("machine.denominations is empty"))
	}
	for i, d := range c.Machine.Denominations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("machine.denominations[%d] = %d, must be positive", i, d))
		}
		if i > 0 && d >= c.Machine.Denominations[i-1] {
			errs = append(errs, errors.New("machine.denominations must be strictly descending"))
		}
	}
	if c.Machine.InitialCoinStock < 0 || c.Machine.CollectMinimum < 0 {
		errs = append(errs, errors.New("machine coin stock settings cannot be negative"))
	}

	if c.Collector.LowStockThreshold > c.Collector.DefaultStockEstimate {
		errs = append(errs, fmt.Errorf("collector.low_stock_threshold %d exceeds default_stock_estimate %d",
			c.Collector.LowStockThreshold, c.Collector.DefaultStockEstimate))
	}

	switch c.Database.Driver {
	case "", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	if _, err := parseDuration(c.Coordinator.PersistTimeout); err != nil {
		errs = append(errs, fmt.Errorf("coordinator.persist_timeout: %w", err))
	}
	if _, err := parseDuration(c.Auth.TokenTTL); err != nil {
		errs = append(errs, fmt.Errorf("auth.token_ttl: %w", err))
	}

	return errors.Join(errs...)
}

func (c CoordinatorConfig) PersistTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.PersistTimeout)
	return d
}

func (c AuthConfig) TokenTTLDuration() time.Duration {
	d, _ := parseDuration(c.TokenTTL)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%q must be positive", s)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
