// Copyright 2025 Certen Protocol
//
// Node configuration
// Options load from environment variables with safe defaults; an optional
// YAML file named by NODE_CONFIG_FILE overrides the environment. Call
// Validate() after Load() before starting the node.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the recognized consensus-core options.
type Config struct {
	// Data directory for the persistent store.
	DataDir string `yaml:"dataDir"`

	// MaxBlockSize is the upper bound on a serialized block, in bytes.
	MaxBlockSize int `yaml:"maxBlockSize"`

	// BlockConstructionTimeout is the baking budget.
	BlockConstructionTimeout time.Duration `yaml:"blockConstructionTimeout"`

	// EarlyBlockThreshold rejects blocks whose slot time exceeds
	// now + threshold.
	EarlyBlockThreshold time.Duration `yaml:"earlyBlockThreshold"`

	// MaxBakingDelay clamps baker time skew.
	MaxBakingDelay time.Duration `yaml:"maxBakingDelay"`

	// InsertionsBeforeTransactionPurge is the table-purge cadence.
	InsertionsBeforeTransactionPurge int `yaml:"insertionsBeforeTransactionPurge"`

	// TransactionsKeepAliveTime is the admission-side horizon for untouched
	// transactions.
	TransactionsKeepAliveTime time.Duration `yaml:"transactionsKeepAliveTime"`

	// TransactionsPurgingDelay is the period of the purge task.
	TransactionsPurgingDelay time.Duration `yaml:"transactionsPurgingDelay"`

	// AccountsCacheSize / ModulesCacheSize bound the LRU caches.
	AccountsCacheSize int `yaml:"accountsCacheSize"`
	ModulesCacheSize  int `yaml:"modulesCacheSize"`

	// DownloadBlocksTimeout is the per-chunk timeout for out-of-band
	// catch-up downloads.
	DownloadBlocksTimeout time.Duration `yaml:"downloadBlocksTimeout"`

	// LogLevel controls log verbosity.
	LogLevel string `yaml:"logLevel"`
}

// Load reads configuration from environment variables, then overlays the
// YAML file named by NODE_CONFIG_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:                          getEnv("DATA_DIR", "./data"),
		MaxBlockSize:                     getEnvInt("MAX_BLOCK_SIZE", 4*1024*1024),
		BlockConstructionTimeout:         getEnvDurationMS("BLOCK_CONSTRUCTION_TIMEOUT_MS", 3*time.Second),
		EarlyBlockThreshold:              getEnvDurationS("EARLY_BLOCK_THRESHOLD_S", 30*time.Second),
		MaxBakingDelay:                   getEnvDurationS("MAX_BAKING_DELAY_S", 10*time.Second),
		InsertionsBeforeTransactionPurge: getEnvInt("INSERTIONS_BEFORE_TRANSACTION_PURGE", 1000),
		TransactionsKeepAliveTime:        getEnvDurationS("TRANSACTIONS_KEEP_ALIVE_TIME_S", 10*time.Minute),
		TransactionsPurgingDelay:         getEnvDurationS("TRANSACTIONS_PURGING_DELAY_S", time.Minute),
		AccountsCacheSize:                getEnvInt("ACCOUNTS_CACHE_SIZE", 10000),
		ModulesCacheSize:                 getEnvInt("MODULES_CACHE_SIZE", 1000),
		DownloadBlocksTimeout:            getEnvDurationS("DOWNLOAD_BLOCKS_TIMEOUT_S", 5*time.Minute),
		LogLevel:                         getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("NODE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string
	if c.DataDir == "" {
		errs = append(errs, "DATA_DIR must not be empty")
	}
	if c.MaxBlockSize <= 0 {
		errs = append(errs, "MAX_BLOCK_SIZE must be positive")
	}
	if c.InsertionsBeforeTransactionPurge <= 0 {
		errs = append(errs, "INSERTIONS_BEFORE_TRANSACTION_PURGE must be positive")
	}
	if c.AccountsCacheSize <= 0 || c.ModulesCacheSize <= 0 {
		errs = append(errs, "cache sizes must be positive")
	}
	if c.EarlyBlockThreshold <= 0 {
		errs = append(errs, "EARLY_BLOCK_THRESHOLD_S must be positive")
	}
	if len(errs) > 0 {
		msg := errs[0]
		for _, e := range errs[1:] {
			msg += "; " + e
		}
		return fmt.Errorf("configuration validation failed: %s", msg)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationS(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvDurationMS(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
