// Package config loads the abserver configuration: a YAML file, then AB_*
// environment overrides, then defaults. Flags are applied by main.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultFileName = "abserver.yaml"

// Config holds all server configuration.
type Config struct {
	DataDir string `yaml:"datadir"`

	Server struct {
		GRPCListen string `yaml:"grpc_listen"`
		// WSListen enables the websocket gateway when set.
		WSListen string `yaml:"ws_listen"`
		// WSOrigins are extra browser origins allowed on the gateway.
		WSOrigins   []string `yaml:"ws_origins"`
		DealerToken string   `yaml:"dealer_token"`
	} `yaml:"server"`

	Database struct {
		// SQLitePath is relative to DataDir unless absolute. "memory" keeps
		// everything in process.
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	Game struct {
		BettingDuration time.Duration `yaml:"betting_duration"`
		TickInterval    time.Duration `yaml:"tick_interval"`
		MinBet          int64         `yaml:"min_bet"`
		MaxBet          int64         `yaml:"max_bet"`
		PayoutWorkers   int           `yaml:"payout_workers"`
	} `yaml:"game"`

	Ledger struct {
		MaxRetries  int           `yaml:"max_retries"`
		BaseBackoff time.Duration `yaml:"base_backoff"`
	} `yaml:"ledger"`

	Broadcast struct {
		QueueSize     int `yaml:"queue_size"`
		Workers       int `yaml:"workers"`
		SubscriberBuf int `yaml:"subscriber_buffer"`
	} `yaml:"broadcast"`

	Sweeper struct {
		// Schedule is a cron expression with a seconds field.
		Schedule string `yaml:"schedule"`
	} `yaml:"sweeper"`

	Log struct {
		DebugLevel   string `yaml:"debuglevel"`
		MaxLogFiles  int    `yaml:"max_log_files"`
		MaxLogSizeKB int64  `yaml:"max_log_size_kb"`
	} `yaml:"log"`
}

// Load reads the config at path (a missing file is not an error), applies
// environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int64) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("AB_DATADIR", &c.DataDir)
	str("AB_GRPC_LISTEN", &c.Server.GRPCListen)
	str("AB_WS_LISTEN", &c.Server.WSListen)
	str("AB_DEALER_TOKEN", &c.Server.DealerToken)
	str("AB_SQLITE_PATH", &c.Database.SQLitePath)
	dur("AB_BETTING_DURATION", &c.Game.BettingDuration)
	num("AB_MIN_BET", &c.Game.MinBet)
	num("AB_MAX_BET", &c.Game.MaxBet)
	str("AB_SWEEPER_SCHEDULE", &c.Sweeper.Schedule)
	str("AB_DEBUGLEVEL", &c.Log.DebugLevel)

	return errors.Join(errs...)
}

// SetDefaults fills every unset value.
func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Server.GRPCListen == "" {
		c.Server.GRPCListen = "127.0.0.1:50061"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "andarbahar.db"
	}
	if c.Game.BettingDuration == 0 {
		c.Game.BettingDuration = 30 * time.Second
	}
	if c.Game.TickInterval == 0 {
		c.Game.TickInterval = time.Second
	}
	if c.Game.MinBet == 0 {
		c.Game.MinBet = 10
	}
	if c.Game.PayoutWorkers == 0 {
		c.Game.PayoutWorkers = 8
	}
	if c.Ledger.MaxRetries == 0 {
		c.Ledger.MaxRetries = 5
	}
	if c.Ledger.BaseBackoff == 0 {
		c.Ledger.BaseBackoff = 50 * time.Millisecond
	}
	if c.Broadcast.QueueSize == 0 {
		c.Broadcast.QueueSize = 1000
	}
	if c.Broadcast.Workers == 0 {
		c.Broadcast.Workers = 3
	}
	if c.Broadcast.SubscriberBuf == 0 {
		c.Broadcast.SubscriberBuf = 64
	}
	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "*/5 * * * * *"
	}
	if c.Log.DebugLevel == "" {
		c.Log.DebugLevel = "info"
	}
	if c.Log.MaxLogFiles == 0 {
		c.Log.MaxLogFiles = 3
	}
	if c.Log.MaxLogSizeKB == 0 {
		c.Log.MaxLogSizeKB = 10 * 1024
	}
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	if c.Server.DealerToken == "" {
		return fmt.Errorf("server.dealer_token is required")
	}
	if c.Game.BettingDuration < time.Second {
		return fmt.Errorf("game.betting_duration must be at least 1s")
	}
	if c.Game.TickInterval <= 0 || c.Game.TickInterval > c.Game.BettingDuration {
		return fmt.Errorf("game.tick_interval must be positive and not exceed betting_duration")
	}
	if c.Game.MinBet <= 0 {
		return fmt.Errorf("game.min_bet must be positive")
	}
	if c.Game.MaxBet != 0 && c.Game.MaxBet < c.Game.MinBet {
		return fmt.Errorf("game.max_bet must be 0 (unlimited) or at least min_bet")
	}
	if c.Game.PayoutWorkers < 0 || c.Broadcast.Workers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}
	return nil
}

// InMemory reports whether the server should run without a database file.
func (c *Config) InMemory() bool {
	return c.Database.SQLitePath == "memory"
}

// DBPath returns the SQLite path resolved against DataDir.
func (c *Config) DBPath() string {
	return c.resolve(c.Database.SQLitePath)
}

// LogFile returns the rotating log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "logs", "abserver.log")
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".andarbahar"
	}
	return filepath.Join(home, ".andarbahar")
}
