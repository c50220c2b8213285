package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"medgate/cmd/identity"
	"medgate/cmd/identity/migrations"
)

// NewDBPool builds a pgxpool whose connections use cfg.DBSchema as their
// search_path, creates the schema if needed and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	fail := oops.Code("STORE_OPEN_FAILED").In("postgres")

	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fail.Wrap(err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	pcfg.ConnConfig.RuntimeParams["search_path"] = cfg.DBSchema

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fail.Wrap(err)
	}
	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, fail.Wrap(err)
	}

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{cfg.DBSchema}.Sanitize()); err != nil {
		pool.Close()
		return nil, fail.With("schema", cfg.DBSchema).Wrap(err)
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// migrateDB applies pending migrations for the configured driver on db.
func migrateDB(ctx context.Context, db *sql.DB, driver string, log Logger) error {
	dialect, err := migrations.ParseDialect(driver)
	if err != nil {
		return oops.Code("MIGRATE_DIALECT").Wrap(err)
	}
	applied, err := migrations.Up(ctx, db, dialect)
	if err != nil {
		return err
	}
	for _, a := range applied {
		log.Info("db.migration.applied", "version", a.Version, "source", a.Source)
	}
	log.Info("db.migrations.done", "driver", driver, "applied", len(applied))
	return nil
}

// openSQL returns a database/sql handle for goose. For postgres it borrows
// the pool; closing the returned DB does not close the pool.
func openSQL(cfg Config, pool *pgxpool.Pool) (*sql.DB, error) {
	switch cfg.StoreDriver {
	case DriverPostgres:
		return stdlib.OpenDBFromPool(pool), nil
	case DriverSQLite:
		db, err := identity.OpenSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, oops.Code("STORE_OPEN_FAILED").In("sqlite").With("path", cfg.SQLitePath).Wrap(err)
		}
		return db, nil
	default:
		return nil, oops.Code("MIGRATE_DIALECT").Errorf("store %q has no schema", cfg.StoreDriver)
	}
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_OPEN_FAILED").Wrap(err)
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, oops.Code("REDIS_OPEN_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return rdb, nil
}
