package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexfront/connkit/client"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/logger"
)

// PostgresKey is the registry key of the Postgres pool.
const PostgresKey = "postgres"

// PostgresPoolConfig parses cfg into a pgxpool configuration.
func PostgresPoolConfig(cfg PostgresConfig) (*pgxpool.Config, error) {
	cfg.ApplyDefaults()
	if cfg.DSN == "" {
		return nil, errors.ConfigurationIssue("backend.postgres.dsn", "must not be empty")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.ConfigurationIssue("backend.postgres.dsn", err.Error())
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	return poolCfg, nil
}

// PostgresFactory returns a factory that opens a pgx pool and pings it.
func PostgresFactory(cfg PostgresConfig, log *logger.Logger) client.Factory {
	log = logger.OrDefault(log, "backend")
	return func(ctx context.Context) (any, error) {
		poolCfg, err := PostgresPoolConfig(cfg)
		if err != nil {
			return nil, err
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		log.Info("postgres pool ready", logger.Fields("host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database, "max_conns", poolCfg.MaxConns))
		return pool, nil
	}
}

// Postgres returns the registry's Postgres pool.
func Postgres(ctx context.Context, reg *client.Registry) (*pgxpool.Pool, error) {
	v, err := reg.Client(ctx, PostgresKey)
	if err != nil {
		return nil, err
	}
	pool, ok := v.(*pgxpool.Pool)
	if !ok {
		return nil, errors.ClientConstructionFailed(PostgresKey, fmt.Errorf("registered instance is %T", v))
	}
	return pool, nil
}

// Wrap decorates a backend factory before registration.
type Wrap func(key string, f client.Factory) client.Factory

// Register adds the enabled backend factories to reg, applying wraps in
// order.
func Register(reg *client.Registry, cfg Config, log *logger.Logger, wraps ...Wrap) []string {
	var keys []string
	add := func(key string, f client.Factory) {
		for _, w := range wraps {
			f = w(key, f)
		}
		reg.Register(key, f)
		keys = append(keys, key)
	}
	if cfg.Redis.Enabled {
		add(RedisKey, RedisFactory(cfg.Redis, log))
	}
	if cfg.Postgres.Enabled {
		add(PostgresKey, PostgresFactory(cfg.Postgres, log))
	}
	return keys
}
