package cmd

import (
	"fmt"

	"github.com/solatis/routingfilter/internal/core/config"
	"github.com/solatis/routingfilter/internal/core/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "routingfilter",
	Short:        "routingfilter event routing rule engine",
	Long:         `routingfilter matches structured events against tagged rule sets and reports where each event should be delivered.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration with the command's flags and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(logLevel, logFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("configuration loaded", zap.String("config", cfg.Describe()))
	return cfg, logger, nil
}

// addRuleFlags registers the flags selecting rule sources and event fields.
func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("rules", nil, "rule files or directories (.json, .yaml, .yml)")
	cmd.Flags().String("variables", "", "variables file mapping $NAME to a value or list")
	cmd.Flags().String("namespace", "streams", "namespace to match (streams, customers)")
	cmd.Flags().String("tag-field", "tags", "event field holding the dispatch tags")
	cmd.Flags().String("redis", "", "redis address holding the published rule bundle")
}
