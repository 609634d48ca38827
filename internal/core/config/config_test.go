package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("", nil)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Routing.Namespace != "streams" {
			t.Errorf("expected namespace streams, got %s", cfg.Routing.Namespace)
		}
		if cfg.Routing.TagField != "tags" {
			t.Errorf("expected tag_field tags, got %s", cfg.Routing.TagField)
		}
		if cfg.Routing.HistoryField != "certego.routing_history" {
			t.Errorf("expected history_field certego.routing_history, got %s", cfg.Routing.HistoryField)
		}
		if cfg.Routing.StatsField != "rule.name" {
			t.Errorf("expected stats_field rule.name, got %s", cfg.Routing.StatsField)
		}
		if cfg.Routing.Debounce != 100*time.Millisecond {
			t.Errorf("expected debounce 100ms, got %v", cfg.Routing.Debounce)
		}
		if cfg.Stats.FlushSchedule != "@every 1m" {
			t.Errorf("expected flush_schedule @every 1m, got %s", cfg.Stats.FlushSchedule)
		}
		if cfg.DataDir != "./data" {
			t.Errorf("expected data_dir ./data, got %s", cfg.DataDir)
		}
		if len(cfg.Routing.RulesPaths) != 0 {
			t.Errorf("expected no rules paths, got %v", cfg.Routing.RulesPaths)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, `routing:
  rules_paths: ["rules/a.json", "rules/b.yaml"]
  namespace: customers
redis:
  address: "localhost:6379"
  db: 2
`)
		cfg, err := LoadConfig(path, nil)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if !reflect.DeepEqual(cfg.Routing.RulesPaths, []string{"rules/a.json", "rules/b.yaml"}) {
			t.Errorf("unexpected rules_paths: %v", cfg.Routing.RulesPaths)
		}
		if cfg.Routing.Namespace != "customers" {
			t.Errorf("expected namespace customers, got %s", cfg.Routing.Namespace)
		}
		if cfg.Redis.Address != "localhost:6379" || cfg.Redis.DB != 2 {
			t.Errorf("unexpected redis config: %+v", cfg.Redis)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("RF_ROUTING_TAG_FIELD", "labels")
		t.Setenv("RF_DB_URL", "sqlite://test.db")

		cfg, err := LoadConfig("", nil)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Routing.TagField != "labels" {
			t.Errorf("expected tag_field labels, got %s", cfg.Routing.TagField)
		}
		if cfg.DB.URL != "sqlite://test.db" {
			t.Errorf("expected db url sqlite://test.db, got %s", cfg.DB.URL)
		}
	})

	t.Run("flag override", func(t *testing.T) {
		t.Setenv("RF_ROUTING_NAMESPACE", "streams")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("namespace", "streams", "")
		flags.StringSlice("rules", nil, "")
		if err := flags.Parse([]string{"--namespace=customers", "--rules=a.json,b.json"}); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfig("", flags)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Routing.Namespace != "customers" {
			t.Errorf("expected flag to win, got namespace %s", cfg.Routing.Namespace)
		}
		if !reflect.DeepEqual(cfg.Routing.RulesPaths, []string{"a.json", "b.json"}) {
			t.Errorf("unexpected rules_paths: %v", cfg.Routing.RulesPaths)
		}
	})

	t.Run("unchanged flag keeps environment", func(t *testing.T) {
		t.Setenv("RF_ROUTING_NAMESPACE", "customers")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("namespace", "streams", "")

		cfg, err := LoadConfig("", flags)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Routing.Namespace != "customers" {
			t.Errorf("expected namespace customers, got %s", cfg.Routing.Namespace)
		}
	})

	t.Run("invalid namespace", func(t *testing.T) {
		t.Setenv("RF_ROUTING_NAMESPACE", "wrong_type")

		if _, err := LoadConfig("", nil); err == nil {
			t.Error("expected error for invalid namespace")
		}
	})

	t.Run("invalid schedule", func(t *testing.T) {
		t.Setenv("RF_STATS_FLUSH_SCHEDULE", "every minute")

		if _, err := LoadConfig("", nil); err == nil {
			t.Error("expected error for invalid flush schedule")
		}
	})

	t.Run("invalid redis db", func(t *testing.T) {
		t.Setenv("RF_REDIS_DB", "16")

		if _, err := LoadConfig("", nil); err == nil {
			t.Error("expected error for redis.db > 15")
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestRedisPassword(t *testing.T) {
	t.Setenv("RF_REDIS_PASSWORD", "hunter2")

	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Errorf("expected password from environment, got %q", cfg.Redis.Password)
	}
	if got := cfg.Describe(); got == "" || strings.Contains(got, "hunter2") {
		t.Errorf("Describe() leaked the password: %s", got)
	}
}
