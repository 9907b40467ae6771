package backend

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lexfront/connkit/client"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/logger"
)

// RedisKey is the registry key of the Redis client.
const RedisKey = "redis"

// RedisOptions builds go-redis options from cfg.
func RedisOptions(cfg RedisConfig) (*goredis.Options, error) {
	cfg.ApplyDefaults()

	opts := &goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.ConfigurationIssue("backend.redis.url", err.Error())
		}
		opts = parsed
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	return opts, nil
}

// RedisFactory returns a factory that dials Redis and verifies it with a
// PING before handing the client out.
func RedisFactory(cfg RedisConfig, log *logger.Logger) client.Factory {
	log = logger.OrDefault(log, "backend")
	return func(ctx context.Context) (any, error) {
		opts, err := RedisOptions(cfg)
		if err != nil {
			return nil, err
		}
		rdb := goredis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
		}
		log.Info("redis client ready", logger.Fields("addr", opts.Addr, "db", opts.DB, "pool_size", opts.PoolSize))
		return rdb, nil
	}
}

// Redis returns the registry's Redis client.
func Redis(ctx context.Context, reg *client.Registry) (*goredis.Client, error) {
	v, err := reg.Client(ctx, RedisKey)
	if err != nil {
		return nil, err
	}
	rdb, ok := v.(*goredis.Client)
	if !ok {
		return nil, errors.ClientConstructionFailed(RedisKey, fmt.Errorf("registered instance is %T", v))
	}
	return rdb, nil
}
