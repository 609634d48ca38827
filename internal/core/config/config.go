// Package config provides configuration management for routingfilter commands.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds configuration shared by the routingfilter commands.
type Config struct {
	Routing RoutingConfig
	DB      DBConfig
	Redis   RedisConfig
	Stats   StatsConfig
	Metrics MetricsConfig
	DataDir string
}

// RoutingConfig selects the rule sources and the event fields the engine
// reads and writes.
type RoutingConfig struct {
	RulesPaths    []string
	VariablesFile string
	Namespace     string
	TagField      string
	HistoryField  string
	StatsField    string
	Watch         bool
	Debounce      time.Duration
}

// DBConfig configures the optional rule and stats database.
type DBConfig struct {
	URL string
}

// RedisConfig configures the optional redis rule source. An empty address
// disables it.
type RedisConfig struct {
	Address  string
	DB       int
	Key      string
	Channel  string
	Password string
}

// StatsConfig configures periodic hit-count flushing.
type StatsConfig struct {
	FlushSchedule string
}

// MetricsConfig configures the prometheus textfile export. An empty path
// disables it.
type MetricsConfig struct {
	Textfile string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Routing: RoutingConfig{
			Namespace:    "streams",
			TagField:     "tags",
			HistoryField: "certego.routing_history",
			StatsField:   "rule.name",
			Debounce:     100 * time.Millisecond,
		},
		Redis: RedisConfig{
			Key:     "routingfilter:rules",
			Channel: "routingfilter:updates",
		},
		Stats: StatsConfig{
			FlushSchedule: "@every 1m",
		},
		DataDir: "./data",
	}
}

// RedisPassword reads the redis password from RF_REDIS_PASSWORD.
// Passwords are never read from config files.
func RedisPassword() string {
	return os.Getenv("RF_REDIS_PASSWORD")
}

// Describe renders cfg for logs without secrets.
func (c *Config) Describe() string {
	password := ""
	if c.Redis.Password != "" {
		password = "<redacted>"
	}
	return fmt.Sprintf("rules=%v namespace=%s db=%t redis=%s/%d password=%s",
		c.Routing.RulesPaths, c.Routing.Namespace, c.DB.URL != "", c.Redis.Address, c.Redis.DB, password)
}
