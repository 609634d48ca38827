package cmd

import (
	"fmt"

	"github.com/solatis/routingfilter/internal/source"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish rule files to redis and notify running instances",
	RunE:  runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringSlice("rules", nil, "rule files or directories (.json, .yaml, .yml)")
	publishCmd.Flags().String("variables", "", "variables file mapping $NAME to a value or list")
	publishCmd.Flags().String("redis", "", "redis address")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Redis.Address == "" {
		return fmt.Errorf("--redis required")
	}
	if len(cfg.Routing.RulesPaths) == 0 {
		return fmt.Errorf("--rules required")
	}

	bundle, err := source.NewFileSource(cfg.Routing.RulesPaths, cfg.Routing.VariablesFile, logger).Load(ctx)
	if err != nil {
		return err
	}

	client, err := source.NewRedisClient(ctx, source.RedisOptions{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := source.NewRedisSource(client, cfg.Redis.Key, cfg.Redis.Channel, logger).Publish(ctx, bundle)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d documents as update %s\n", len(bundle.Documents), id)
	return nil
}
