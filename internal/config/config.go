// Package config loads and validates the coordinator configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/scancoord/internal/errdefs"
)

// Config represents the application configuration
type Config struct {
	DataDir       string         `yaml:"data_dir"`
	Puzzles       []int          `yaml:"puzzles"`
	CustomPuzzles []CustomPuzzle `yaml:"custom_puzzles,omitempty"`
	Scan          ScanConfig     `yaml:"scan"`
	Pool          PoolConfig     `yaml:"pool"`
	Filter        FilterConfig   `yaml:"filter"`
	Dispatch      DispatchConfig `yaml:"dispatch"`
	Daemon        DaemonConfig   `yaml:"daemon"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// CustomPuzzle declares a scan target that is not in the built-in catalog.
// Bounds are hex strings without 0x prefix.
type CustomPuzzle struct {
	ID         int    `yaml:"id"`
	Bits       int    `yaml:"bits,omitempty"`
	Address    string `yaml:"address"`
	RangeStart string `yaml:"range_start"`
	RangeEnd   string `yaml:"range_end"`
}

// DaemonConfig covers the long-running mode: status HTTP server and the
// optional NATS event emitter.
type DaemonConfig struct {
	HTTPAddr string     `yaml:"http_addr,omitempty"`
	NATS     NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
	Stream        string `yaml:"stream,omitempty"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just log it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errdefs.ConfigNotFound(configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	exampleConfig := Config{
		DataDir: "${HOME}/.scancoord",
		Puzzles: []int{71},
		Scan: ScanConfig{
			BlockSize:       "1000000000",
			InterRangeDelay: 2 * time.Second,
		},
		Pool: PoolConfig{
			Enabled:      boolPtr(true),
			BaseURL:      "https://btcpuzzle.info",
			Timeout:      30 * time.Second,
			SyncInterval: time.Hour,
		},
		Filter: FilterConfig{
			Enabled:    boolPtr(true),
			MinRepeat:  3,
			Strategies: []string{StrategyRepeatedDigits, StrategyUniformClass},
		},
		Dispatch: DispatchConfig{
			Binary:       "./KeyHunt-Cuda",
			Threads:      0,
			GPU:          true,
			GPUID:        0,
			GPUGrid:      "256,256",
			Mode:         "address",
			Coin:         "BTC",
			FoundFile:    "Found.txt",
			RetryDelay:   3 * time.Second,
			RetryBackoff: "fixed",
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8714",
		},
		Logging: LoggingConfig{
			Level:  string(LogLevelInfo),
			Format: string(LogFormatText),
		},
	}

	data, err := yaml.Marshal(&exampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// loadEnvFile loads environment variables from the first .env file found.
// Existing variables are never overridden.
func loadEnvFile() error {
	envPaths := []string{".env", ".env.local"}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
		fmt.Fprintf(os.Stderr, "Loaded environment variables from %s\n", envPath)
		return nil
	}

	return fmt.Errorf("no .env file found")
}

func boolPtr(v bool) *bool { return &v }
