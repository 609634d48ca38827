package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/solatis/routingfilter/internal/types"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags to config keys. Flags that are not
// registered on the command are ignored.
var flagKeys = map[string]string{
	"db-url":    "db.url",
	"rules":     "routing.rules_paths",
	"variables": "routing.variables_file",
	"namespace": "routing.namespace",
	"tag-field": "routing.tag_field",
	"watch":     "routing.watch",
	"redis":     "redis.address",
	"data-dir":  "data_dir",
}

// LoadConfig loads configuration using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("routing.rules_paths", []string{})
	v.SetDefault("routing.variables_file", "")
	v.SetDefault("routing.namespace", d.Routing.Namespace)
	v.SetDefault("routing.tag_field", d.Routing.TagField)
	v.SetDefault("routing.history_field", d.Routing.HistoryField)
	v.SetDefault("routing.stats_field", d.Routing.StatsField)
	v.SetDefault("routing.watch", false)
	v.SetDefault("routing.debounce", d.Routing.Debounce.String())
	v.SetDefault("db.url", "")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", d.Redis.Key)
	v.SetDefault("redis.channel", d.Redis.Channel)
	v.SetDefault("stats.flush_schedule", d.Stats.FlushSchedule)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("data_dir", d.DataDir)

	// Bind environment variables with RF_ prefix
	v.SetEnvPrefix("RF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		Routing: RoutingConfig{
			RulesPaths:    v.GetStringSlice("routing.rules_paths"),
			VariablesFile: v.GetString("routing.variables_file"),
			Namespace:     v.GetString("routing.namespace"),
			TagField:      v.GetString("routing.tag_field"),
			HistoryField:  v.GetString("routing.history_field"),
			StatsField:    v.GetString("routing.stats_field"),
			Watch:         v.GetBool("routing.watch"),
			Debounce:      v.GetDuration("routing.debounce"),
		},
		DB: DBConfig{URL: v.GetString("db.url")},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			DB:       v.GetInt("redis.db"),
			Key:      v.GetString("redis.key"),
			Channel:  v.GetString("redis.channel"),
			Password: RedisPassword(),
		},
		Stats:   StatsConfig{FlushSchedule: v.GetString("stats.flush_schedule")},
		Metrics: MetricsConfig{Textfile: v.GetString("metrics.textfile")},
		DataDir: v.GetString("data_dir"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks the namespace, field paths, redis settings and the
// flush schedule.
func validateConfig(cfg *Config) error {
	if _, err := types.ParseNamespace(cfg.Routing.Namespace); err != nil {
		return fmt.Errorf("routing.namespace: %w", err)
	}
	if cfg.Routing.TagField == "" {
		return fmt.Errorf("routing.tag_field must not be empty")
	}
	if cfg.Routing.HistoryField == "" {
		return fmt.Errorf("routing.history_field must not be empty")
	}
	if cfg.Routing.Debounce <= 0 {
		return fmt.Errorf("routing.debounce must be positive, got %v", cfg.Routing.Debounce)
	}
	if cfg.Redis.DB < 0 || cfg.Redis.DB > 15 {
		return fmt.Errorf("redis.db must be between 0 and 15, got %d", cfg.Redis.DB)
	}
	if cfg.Redis.Address != "" && (cfg.Redis.Key == "" || cfg.Redis.Channel == "") {
		return fmt.Errorf("redis.key and redis.channel are required when redis.address is set")
	}
	if cfg.Stats.FlushSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Stats.FlushSchedule); err != nil {
			return fmt.Errorf("stats.flush_schedule: %w", err)
		}
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("redis.password") || v.InConfig("password") {
		return fmt.Errorf("redis passwords not allowed in config files (use RF_REDIS_PASSWORD environment variable)")
	}
	return nil
}
