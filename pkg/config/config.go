// Package config provides centralized configuration management for the
// GRANDPA parachain light client: environment variables, an optional YAML
// config file, and sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for one light client instance.
type Config struct {
	Chain       ChainConfig       `yaml:"chain"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Limits      LimitsConfig      `yaml:"limits"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Development DevelopmentConfig `yaml:"development"`
}

// MetricsConfig controls Prometheus instrumentation exposure.
type MetricsConfig struct {
	// ListenAddr, if non-empty, is the address the CLI entrypoint serves
	// "/metrics" on. Left empty, metrics are still collected in-process
	// but never exposed.
	ListenAddr string `yaml:"listen_addr"`
}

// ChainConfig identifies which relay chain and parachain this client tracks.
type ChainConfig struct {
	// RelayChain is a human-readable identifier for the relay chain this
	// client verifies GRANDPA finality over (e.g. "polkadot", "kusama").
	RelayChain string `yaml:"relay_chain"`

	// ParaID is the parachain this client derives consensus states for.
	ParaID uint32 `yaml:"para_id"`

	// GenesisRelayHash is the hex-encoded (no 0x prefix) hash of the relay
	// block this client's ancestry is rooted at.
	GenesisRelayHash string `yaml:"genesis_relay_hash"`

	// GenesisHashAllowlist additionally permits misbehaviour proofs
	// anchored at the all-zero genesis parent hash; left empty, those are
	// always rejected.
	GenesisHashAllowlist []string `yaml:"genesis_hash_allowlist"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is one of "memdb", "goleveldb", or "badgerdb", matching the
	// cometbft-db driver names this client links against.
	Backend string `yaml:"backend"`

	// Directory is the on-disk path for non-memory backends.
	Directory string `yaml:"directory"`

	// Name is the database name cometbft-db namespaces files under.
	Name string `yaml:"name"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json, text
	Output    string `yaml:"output"` // stdout, stderr, file path
	AddSource bool   `yaml:"add_source"`
}

// LimitsConfig holds per-message input-size limits. Validate only requires
// them to be positive; nothing in this module reads them, and pkg/client
// enforces its own compiled-in MaxUnknownHeaders/MaxParachainHeaders.
type LimitsConfig struct {
	MaxUnknownHeaders   int `yaml:"max_unknown_headers"`
	MaxParachainHeaders int `yaml:"max_parachain_headers"`
}

// DevelopmentConfig bundles options only meaningful off the production
// path.
type DevelopmentConfig struct {
	Debug               bool `yaml:"debug"`
	DisableVerification bool `yaml:"disable_verification"`
}

// DefaultConfig returns a configuration with sensible defaults for a
// single-node, in-memory client.
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			RelayChain: "polkadot",
			ParaID:     2000,
		},
		Storage: StorageConfig{
			Backend:   "memdb",
			Directory: "./data",
			Name:      "grandpa-lightclient",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Limits: LimitsConfig{
			MaxUnknownHeaders:   512,
			MaxParachainHeaders: 256,
		},
		Development: DevelopmentConfig{},
	}
}

// Load builds a Config from defaults, then an optional YAML file named by
// the GRANDPA_LC_CONFIG_FILE environment variable, then individual
// GRANDPA_LC_* environment variable overrides, applied in that order so
// environment variables always win.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("GRANDPA_LC_CONFIG_FILE"); path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("grandpa-lightclient: loading config file %s: %w", path, err)
		}
	}
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grandpa-lightclient: invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("GRANDPA_LC_RELAY_CHAIN"); v != "" {
		cfg.Chain.RelayChain = v
	}
	if v := os.Getenv("GRANDPA_LC_PARA_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Chain.ParaID = uint32(n)
		}
	}
	if v := os.Getenv("GRANDPA_LC_GENESIS_RELAY_HASH"); v != "" {
		cfg.Chain.GenesisRelayHash = v
	}
	if v := os.Getenv("GRANDPA_LC_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("GRANDPA_LC_STORAGE_DIR"); v != "" {
		cfg.Storage.Directory = v
	}
	if v := os.Getenv("GRANDPA_LC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GRANDPA_LC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("GRANDPA_LC_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Development.Debug = b
		}
	}
	if v := os.Getenv("GRANDPA_LC_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
}

var validBackends = map[string]bool{"memdb": true, "goleveldb": true, "badgerdb": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate rejects a Config with missing or out-of-range settings.
func (c *Config) Validate() error {
	if c.Chain.RelayChain == "" {
		return fmt.Errorf("chain.relay_chain is required")
	}
	if c.Chain.ParaID == 0 {
		return fmt.Errorf("chain.para_id must be non-zero")
	}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend must be one of memdb, goleveldb, badgerdb, got %q", c.Storage.Backend)
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Limits.MaxUnknownHeaders <= 0 {
		return fmt.Errorf("limits.max_unknown_headers must be positive")
	}
	if c.Limits.MaxParachainHeaders <= 0 {
		return fmt.Errorf("limits.max_parachain_headers must be positive")
	}
	return nil
}

// StartupTimeout is how long the CLI entrypoint waits for the storage
// backend to open before giving up.
const StartupTimeout = 10 * time.Second
