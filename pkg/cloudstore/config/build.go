package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
	cenotify "github.com/tendant/simple-cloud/pkg/cloudstore/notify/cloudevents"
	"github.com/tendant/simple-cloud/pkg/cloudstore/repo/memory"
	repopg "github.com/tendant/simple-cloud/pkg/cloudstore/repo/postgres"
)

// Runtime is a built service plus the resources backing it.
type Runtime struct {
	Service   cloudstore.Service
	Directory cloudstore.Directory
	Pool      *pgxpool.Pool
}

// Close releases the database pool, if any.
func (r *Runtime) Close() {
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// BuildService creates a Service from the server configuration. extra options
// are applied last, so callers can supply a logger or metrics.
func (c *ServerConfig) BuildService(ctx context.Context, extra ...cloudstore.Option) (*Runtime, error) {
	rt := &Runtime{}
	logger := slog.Default()
	var options []cloudstore.Option

	// Set up repository and directory
	switch c.DatabaseType {
	case "memory":
		options = append(options, cloudstore.WithRepository(memory.New()))
		rt.Directory = cloudstore.OpenDirectory{}
	case "postgres":
		pool, err := c.OpenPostgres(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to build repository: %w", err)
		}
		rt.Pool = pool
		options = append(options, cloudstore.WithRepository(repopg.NewWithPool(pool)))
		dir, err := cloudstore.NewCachedDirectory(repopg.NewDirectory(pool), c.DirectoryCacheSize)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Directory = dir
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
	options = append(options, cloudstore.WithDirectory(rt.Directory))

	store, err := c.buildBlobStore()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}
	options = append(options, cloudstore.WithBlobStore(store))

	// Set up notifier
	if c.NotifierURL != "" {
		n, err := cenotify.New(c.NotifierURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to build notifier: %w", err)
		}
		options = append(options, cloudstore.WithNotifier(n))
	} else {
		options = append(options, cloudstore.WithNotifier(cloudstore.LoggingNotifier{Logger: logger}))
	}

	if c.EnableEventLogging {
		options = append(options, cloudstore.WithEventSink(cloudstore.NewLoggingEventSink(logger)))
	}

	options = append(options,
		cloudstore.WithLimits(c.ServiceLimits()),
		cloudstore.WithNotifyConcurrency(c.NotifyConcurrency),
	)
	options = append(options, extra...)

	svc, err := cloudstore.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

func (c *ServerConfig) poolConfig() (*pgxpool.Config, error) {
	if c.DatabaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	schema := c.DBSchema
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if schema == "" {
			return nil
		}
		_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", schema))
		return err
	}
	return cfg, nil
}

// OpenPostgres opens a pool whose sessions use the configured schema.
func (c *ServerConfig) OpenPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := c.poolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres within five seconds.
func (c *ServerConfig) PingPostgres(ctx context.Context) error {
	pool, err := c.OpenPostgres(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Migrate creates the schema if needed and applies the catalog DDL.
func (c *ServerConfig) Migrate(ctx context.Context) error {
	if c.DatabaseType != "postgres" {
		return errors.New("migrate requires a postgres database")
	}
	pool, err := c.OpenPostgres(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if c.DBSchema != "" {
		if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", c.DBSchema)); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return repopg.Migrate(ctx, pool)
}
