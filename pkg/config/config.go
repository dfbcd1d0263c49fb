// Package config provides configuration management for the dagsearch engine.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Engine EngineConfig  `mapstructure:"engine"`
	LM     LMConfig      `mapstructure:"lm"`
	Ledger LedgerConfig  `mapstructure:"ledger"`
	Log    LogConfig     `mapstructure:"log"`
}

// EngineConfig holds the sizing and search parameters that would otherwise
// be passed to global_init: arena pool sizes, the randomized refill batch
// range, and the nucleus sampling default.
type EngineConfig struct {
	// ArenaNodeCapacity is the number of SearchNode slots preallocated per
	// batch element.
	ArenaNodeCapacity int `mapstructure:"arena_node_capacity"`

	// ArenaStepScoreCapacity is the number of spilled node_step_score chain
	// slots preallocated per batch element.
	ArenaStepScoreCapacity int `mapstructure:"arena_step_score_capacity"`

	// ArenaNotifyCapacity is the number of Notify chain link slots
	// preallocated per batch element.
	ArenaNotifyCapacity int `mapstructure:"arena_notify_capacity"`

	// RefillBatchBase is B in "B + rand() % R": the minimum number of arena
	// slots a goroutine leases at a time before requesting more.
	RefillBatchBase int `mapstructure:"refill_batch_base"`

	// RefillBatchJitter is R: the width of the randomized range added to
	// RefillBatchBase.
	RefillBatchJitter int `mapstructure:"refill_batch_jitter"`

	// Workers is the number of goroutines the parallel expansion driver
	// partitions work across.
	Workers int `mapstructure:"workers"`

	// NucleusTopP is the default cumulative-probability cutoff used when a
	// per-call ExpandInput omits one.
	NucleusTopP float64 `mapstructure:"nucleus_top_p"`

	// MapBucketCount is the number of buckets backing each concurrent hash
	// map (children, step scores, notifications).
	MapBucketCount int `mapstructure:"map_bucket_count"`
}

// LMConfig holds configuration for resolving the opaque n-gram LM blob. The
// blob's contents are never parsed by this module; only its bytes and a
// content hash are resolved, for an adapter supplied by the caller.
type LMConfig struct {
	// Path is the blob reference (local path or COS object key) to fetch.
	Path   string         `mapstructure:"path"`
	Source LMSourceConfig `mapstructure:"source"`
}

// LMSourceConfig holds the blob source backend configuration, mirroring the
// teacher's object storage config shape.
type LMSourceConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// LedgerConfig holds database connection configuration for recording run
// metadata. It mirrors internal/ledger.DBConfig so callers can decode
// straight from viper without an internal package import at config time.
type LedgerConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql, or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dagsearch")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Engine defaults.
	v.SetDefault("engine.arena_node_capacity", 1<<16)
	v.SetDefault("engine.arena_step_score_capacity", 1<<14)
	v.SetDefault("engine.arena_notify_capacity", 1<<14)
	v.SetDefault("engine.refill_batch_base", 1024)
	v.SetDefault("engine.refill_batch_jitter", 1024)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.nucleus_top_p", 0.9)
	v.SetDefault("engine.map_bucket_count", 4096)

	// LM defaults.
	v.SetDefault("lm.source.type", "local")
	v.SetDefault("lm.source.local_path", "./models")

	// Ledger defaults.
	v.SetDefault("ledger.type", "sqlite")
	v.SetDefault("ledger.database", "dagsearch.db")
	v.SetDefault("ledger.max_conns", 10)

	// Log defaults.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.Ledger.Type != "" && c.Ledger.Type != "postgres" && c.Ledger.Type != "mysql" && c.Ledger.Type != "sqlite" {
		return fmt.Errorf("unsupported ledger database type: %s", c.Ledger.Type)
	}
	return nil
}

// Validate validates the engine sizing and search parameters in isolation,
// so an Engine constructed directly from an EngineConfig (without a full
// Config) can check itself without importing viper.
func (c *EngineConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	if c.ArenaNodeCapacity < 1 {
		return fmt.Errorf("engine.arena_node_capacity must be at least 1")
	}
	if c.ArenaStepScoreCapacity < 1 {
		return fmt.Errorf("engine.arena_step_score_capacity must be at least 1")
	}
	if c.ArenaNotifyCapacity < 1 {
		return fmt.Errorf("engine.arena_notify_capacity must be at least 1")
	}
	if c.NucleusTopP <= 0 || c.NucleusTopP > 1 {
		return fmt.Errorf("engine.nucleus_top_p must be in (0, 1]")
	}
	if c.MapBucketCount < 1 {
		return fmt.Errorf("engine.map_bucket_count must be at least 1")
	}
	return nil
}
