// Package config provides configuration management for the ledger service.
// It loads configuration from .env files, an optional YAML file and
// environment variables, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/category"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/pathutil"
)

// Config represents the application configuration.
type Config struct {
	Database   DatabaseConfig     `yaml:"database"`
	Server     ServerConfig       `yaml:"server"`
	Outbox     OutboxConfig       `yaml:"outbox"`
	Categories []category.Default `yaml:"categories"`
	Debug      bool               `yaml:"debug"`
}

// DatabaseConfig represents SQLite storage configuration.
type DatabaseConfig struct {
	DataDir string `yaml:"data_dir"`
	Path    string `yaml:"path"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// OutboxConfig represents audit outbox delivery configuration.
type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBase    time.Duration `yaml:"retry_base"`
	RetryMax     time.Duration `yaml:"retry_max"`
}

// Options selects the files Load reads. Both are optional.
type Options struct {
	// EnvFile is a .env file; when empty, .env in the working directory is
	// loaded if it exists.
	EnvFile string
	// ConfigFile is a YAML file; when empty, LEDGER_CONFIG_FILE is used.
	ConfigFile string
}

// Load builds the configuration: defaults, then the YAML file, then
// environment variables.
func Load(opts Options) (*Config, error) {
	// Load .env file
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		// Try to load .env from current directory (ignore error if not found)
		_ = godotenv.Load()
	}

	config := &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Outbox: OutboxConfig{
			PollInterval: 2 * time.Second,
			BatchSize:    100,
			MaxAttempts:  8,
			RetryBase:    time.Second,
			RetryMax:     5 * time.Minute,
		},
	}

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv("LEDGER_CONFIG_FILE")
	}
	if configFile != "" {
		if err := config.loadFile(configFile); err != nil {
			return nil, err
		}
	}

	config.Database.DataDir = getEnvOrDefault("LEDGER_DATA_DIR", config.Database.DataDir)
	config.Database.Path = getEnvOrDefault("LEDGER_DB_PATH", config.Database.Path)
	config.Server.Addr = getEnvOrDefault("LEDGER_HTTP_ADDR", config.Server.Addr)

	batchSize, err := parseIntEnv("LEDGER_OUTBOX_BATCH_SIZE", config.Outbox.BatchSize)
	if err != nil {
		return nil, err
	}
	config.Outbox.BatchSize = batchSize

	maxAttempts, err := parseIntEnv("LEDGER_OUTBOX_MAX_ATTEMPTS", config.Outbox.MaxAttempts)
	if err != nil {
		return nil, err
	}
	config.Outbox.MaxAttempts = maxAttempts

	if os.Getenv("DEBUG") == "true" {
		config.Debug = true
	}

	paths := pathutil.New(pathutil.Config{
		DataDir:      config.Database.DataDir,
		DatabasePath: config.Database.Path,
	})
	config.Database.DataDir = paths.GetDataDir()
	config.Database.Path = paths.GetDatabasePath()

	return config, nil
}

// loadFile overlays the YAML file at path onto c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, d := range c.Categories {
		if d.Name == "" {
			return fmt.Errorf("invalid config file %s: category %d has no name", path, i)
		}
		if d.Kind != category.KindIncome && d.Kind != category.KindExpense {
			return fmt.Errorf("invalid config file %s: category %q has unknown kind %q", path, d.Name, d.Kind)
		}
	}

	return nil
}

// Validate validates the configuration.
// It checks if all required fields are set.
func (c *Config) Validate(required ...[]string) error {
	var missing []string

	for _, path := range required {
		if len(path) < 2 {
			continue
		}

		var value string
		switch path[0] {
		case "database":
			switch path[1] {
			case "path":
				value = c.Database.Path
			case "dataDir":
				value = c.Database.DataDir
			}
		case "server":
			switch path[1] {
			case "addr":
				value = c.Server.Addr
			}
		case "outbox":
			switch path[1] {
			case "batchSize":
				if c.Outbox.BatchSize > 0 {
					value = "set"
				}
			case "maxAttempts":
				if c.Outbox.MaxAttempts > 0 {
					value = "set"
				}
			}
		case "categories":
			if len(c.Categories) > 0 {
				value = "set"
			}
		}

		if value == "" {
			missing = append(missing, joinPath(path))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v\nPlease check your .env file, config file or environment variables", missing)
	}

	return nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an int from an environment variable.
// Returns defaultValue if the environment variable is not set.
func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value for %s: %s", key, value)
	}

	return parsed, nil
}

// joinPath joins a path slice into a dot-separated string.
func joinPath(path []string) string {
	result := ""
	for i, p := range path {
		if i > 0 {
			result += "."
		}
		result += p
	}
	return result
}
