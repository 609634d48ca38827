package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNoBundle is returned when the redis key holds no rules.
var ErrNoBundle = errors.New("no rule bundle in redis")

// RedisSource loads a rule bundle stored as JSON under one redis key and
// announces updates on a pub/sub channel.
type RedisSource struct {
	client  redis.UniversalClient
	key     string
	channel string
	logger  *zap.Logger
}

// RedisOptions configures a redis client for NewRedisClient.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient creates a client and checks the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Address, err)
	}
	return client, nil
}

// NewRedisSource creates a source over key and channel.
func NewRedisSource(client redis.UniversalClient, key, channel string, logger *zap.Logger) *RedisSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSource{client: client, key: key, channel: channel, logger: logger}
}

// Name implements Source.
func (s *RedisSource) Name() string { return "redis" }

// Load reads the stored bundle. A missing key returns ErrNoBundle.
func (s *RedisSource) Load(ctx context.Context) (Bundle, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Bundle{}, ErrNoBundle
	}
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to fetch rules from redis: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(val))
	dec.UseNumber()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("invalid rule bundle in redis key %s: %w", s.key, err)
	}

	s.logger.Info("loaded rule documents from redis",
		zap.String("key", s.key),
		zap.Int("documents", len(b.Documents)),
		zap.Int("variables", len(b.Variables)))
	return b, nil
}

// Publish stores b and announces it on the channel. It returns the update
// id sent as the message payload.
func (s *RedisSource) Publish(ctx context.Context, b Bundle) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode rule bundle: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate update id: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key, data, 0)
	pipe.Publish(ctx, s.channel, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to publish rules to redis: %w", err)
	}
	return id.String(), nil
}

// Watch subscribes to the update channel and calls onReload for every
// message until ctx is cancelled. The subscription is confirmed before
// ready is closed; ready may be nil.
func (s *RedisSource) Watch(ctx context.Context, ready chan<- struct{}, onReload func() error) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	s.logger.Info("redis watcher started", zap.String("channel", s.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("redis watcher stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			s.logger.Info("received rule update", zap.String("update", msg.Payload))
			if err := onReload(); err != nil {
				s.logger.Error("rule reload failed", zap.Error(err))
			}
		}
	}
}
