// Package cfg provides configuration for typeddag.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"typeddag/internal/closure"
)

// Config holds service configuration.
type Config struct {
	// Listen is the address the HTTP API listens on (e.g., ":7450").
	Listen string `yaml:"listen"`
	// DBURL is the database URL (SQLite path, Postgres URL or mysql:// DSN).
	DBURL string `yaml:"db_url"`
	// Table is the closure table name.
	Table string `yaml:"table"`
	// FromColumn and ToColumn name the endpoint columns.
	FromColumn string `yaml:"from_column"`
	ToColumn   string `yaml:"to_column"`
	// TypeColumns lists one column per edge type, in slot order.
	TypeColumns []string `yaml:"type_columns"`
	// RankStrategy selects the ranking dialect ("window" or "counter").
	// Empty means the driver default.
	RankStrategy string `yaml:"rank_strategy"`
	// VerifyInterval is how often serve checks the closure in the background.
	// Zero disables the check.
	VerifyInterval time.Duration `yaml:"verify_interval"`
	// AutoRebuild rebuilds the closure when a background check finds drift.
	AutoRebuild bool `yaml:"auto_rebuild"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`
	// Version is the server version string.
	Version string `yaml:"version"`
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	return &Config{
		Listen:         getEnv("TYPEDDAG_LISTEN", ":7450"),
		DBURL:          getEnv("TYPEDDAG_DB_URL", "typeddag.db"),
		Table:          getEnv("TYPEDDAG_TABLE", "edges"),
		FromColumn:     getEnv("TYPEDDAG_FROM_COLUMN", "from_id"),
		ToColumn:       getEnv("TYPEDDAG_TO_COLUMN", "to_id"),
		TypeColumns:    getEnvList("TYPEDDAG_TYPE_COLUMNS", []string{"hierarchy"}),
		RankStrategy:   getEnv("TYPEDDAG_RANK_STRATEGY", ""),
		VerifyInterval: getEnvDuration("TYPEDDAG_VERIFY_INTERVAL", 0),
		AutoRebuild:    getEnvBool("TYPEDDAG_AUTO_REBUILD", false),
		Debug:          getEnvBool("TYPEDDAG_DEBUG", false),
		LogFormat:      getEnv("TYPEDDAG_LOG_FORMAT", "text"),
		Version:        getEnv("TYPEDDAG_VERSION", "0.1.0"),
	}
}

// Load reads a YAML file over the environment defaults. Keys absent from the
// file keep their environment or default value.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Schema returns the closure table layout described by the config.
func (c *Config) Schema() closure.Schema {
	return closure.Schema{
		Table:       c.Table,
		FromColumn:  c.FromColumn,
		ToColumn:    c.ToColumn,
		TypeColumns: c.TypeColumns,
	}
}

// Validate checks the schema and the rank strategy before anything touches
// the database.
func (c *Config) Validate() error {
	if err := c.Schema().Validate(); err != nil {
		return err
	}
	if c.RankStrategy != "" {
		if _, err := closure.RankerFor(c.RankStrategy); err != nil {
			return err
		}
	}
	if c.VerifyInterval < 0 {
		return fmt.Errorf("verify_interval must not be negative, got %s", c.VerifyInterval)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
