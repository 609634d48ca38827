package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/solatis/routingfilter/internal/core/config"
	"github.com/solatis/routingfilter/internal/core/db"
	"github.com/solatis/routingfilter/internal/core/metrics"
	"github.com/solatis/routingfilter/internal/routing"
	"github.com/solatis/routingfilter/internal/source"
	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// engine is a Routing wired to its configured rule sources.
type engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	routing *routing.Routing
	metrics *metrics.Metrics
	loader  *source.Loader

	files *source.FileSource
	redis *source.RedisSource
	store *db.Store

	database    *sqlx.DB
	redisClient *redis.Client
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger, metrics: metrics.New()}
	e.routing = routing.New(
		routing.WithLogger(logger),
		routing.WithTagField(cfg.Routing.TagField),
		routing.WithHistoryField(cfg.Routing.HistoryField),
		routing.WithStatsField(cfg.Routing.StatsField),
		routing.WithObserver(e.metrics),
	)

	var sources []source.Source
	if len(cfg.Routing.RulesPaths) > 0 {
		e.files = source.NewFileSource(cfg.Routing.RulesPaths, cfg.Routing.VariablesFile, logger)
		sources = append(sources, e.files)
	}

	if cfg.DB.URL != "" {
		if err := e.openStore(ctx); err != nil {
			e.Close()
			return nil, err
		}
		sources = append(sources, source.NewDBSource(e.store, logger))
	}

	if cfg.Redis.Address != "" {
		client, err := source.NewRedisClient(ctx, source.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			e.Close()
			return nil, err
		}
		e.redisClient = client
		e.redis = source.NewRedisSource(client, cfg.Redis.Key, cfg.Redis.Channel, logger)
		sources = append(sources, e.redis)
	}

	if len(sources) == 0 {
		e.Close()
		return nil, fmt.Errorf("no rule sources configured (use --rules, --db-url or --redis)")
	}

	e.loader = source.NewLoader(e.routing, e.metrics, logger, sources...)
	return e, nil
}

// openStore opens the database and checks that the schema is current.
func (e *engine) openStore(ctx context.Context) error {
	database, err := db.Open(ctx, e.cfg.DB.URL)
	if err != nil {
		return err
	}
	e.database = database

	migrator, err := db.NewMigrator(database, e.logger)
	if err != nil {
		return err
	}
	statuses, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'routingfilter migrate up' first", s.ID)
		}
	}

	store, err := db.NewStore(database, nil)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	e.store = store
	return nil
}

// reload loads every source into the routing and refreshes the rule
// gauges. Partial loads are not fatal; source failures are.
func (e *engine) reload(ctx context.Context, trigger string) error {
	err := e.loader.Reload(ctx, trigger)
	for _, ns := range types.Namespaces {
		e.metrics.SetRulesLoaded(ns, e.routing.CountNamespace(ns))
	}
	if errors.Is(err, source.ErrSourceFailed) {
		return err
	}
	return nil
}

// loadStrict loads every source and reports partial loads as errors.
func (e *engine) loadStrict(ctx context.Context) error {
	return e.loader.Reload(ctx, "startup")
}

func (e *engine) Close() error {
	var err error
	if e.redisClient != nil {
		err = multierr.Append(err, e.redisClient.Close())
	}
	if e.database != nil {
		err = multierr.Append(err, e.database.Close())
	}
	return err
}
