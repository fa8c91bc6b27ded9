package blockstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"astra-responder/internal/schema"
)

const blockKeyPrefix = "responder:block:"

// RedisConfig holds Redis connection settings for block persistence.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// DefaultRedisConfig returns sane connection defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// RedisPersister stores active blocks in Redis. Keys carry the block's
// remaining TTL so Redis expires them on its own even if the service is
// down when the window ends.
type RedisPersister struct {
	client *redis.Client
}

// NewRedisPersister connects to Redis and verifies the connection.
func NewRedisPersister(cfg RedisConfig) (*RedisPersister, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPersister{client: client}, nil
}

func blockKey(target string, actionType schema.ActionType) string {
	return blockKeyPrefix + target + "|" + string(actionType)
}

// Save writes the block as JSON, keyed by (target, action type), with the
// key TTL matching the block expiry.
func (p *RedisPersister) Save(ctx context.Context, block ActiveBlock) error {
	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}

	var ttl time.Duration // 0 = no expiry, matches a permanent block
	if block.ExpiresAt != nil {
		ttl = time.Until(*block.ExpiresAt)
		if ttl <= 0 {
			// Already expired; nothing worth persisting.
			return p.Delete(ctx, block.Target, block.ActionType)
		}
	}

	return p.client.Set(ctx, blockKey(block.Target, block.ActionType), data, ttl).Err()
}

// Delete removes the persisted block.
func (p *RedisPersister) Delete(ctx context.Context, target string, actionType schema.ActionType) error {
	err := p.client.Del(ctx, blockKey(target, actionType)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Load scans all persisted blocks for crash recovery.
func (p *RedisPersister) Load(ctx context.Context) ([]ActiveBlock, error) {
	var blocks []ActiveBlock

	iter := p.client.Scan(ctx, 0, blockKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := p.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("load block %s: %w", iter.Val(), err)
		}

		var block ActiveBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return nil, fmt.Errorf("decode block %s: %w", iter.Val(), err)
		}
		blocks = append(blocks, block)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan blocks: %w", err)
	}

	return blocks, nil
}

// Close releases the Redis connection.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}
