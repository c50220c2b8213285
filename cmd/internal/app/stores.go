package app

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"medgate/cmd/identity"
	"medgate/cmd/internal/auth/session"
)

// backends owns every external resource the app opened. close releases
// them in reverse dependency order.
type backends struct {
	driver   string
	creds    identity.CredentialStore
	sessions session.Store
	pool     *pgxpool.Pool
	redis    *redis.Client
}

// openBackends selects the credential store, applies migrations when asked
// and connects the optional Redis session mirror.
func openBackends(ctx context.Context, cfg Config, log Logger) (*backends, error) {
	b := &backends{driver: cfg.StoreDriver}

	if err := b.openCredentials(ctx, cfg, log); err != nil {
		b.close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		rdb, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.redis = rdb
		b.sessions = session.NewRedisStore(rdb, cfg.RedisPrefix)
		log.Info("session.mirror.redis", "addr", rdb.Options().Addr, "prefix", cfg.RedisPrefix)
	} else {
		b.sessions = session.NewMemoryStore()
		log.Info("session.mirror.memory")
	}
	return b, nil
}

func (b *backends) openCredentials(ctx context.Context, cfg Config, log Logger) error {
	switch cfg.StoreDriver {
	case DriverMemory:
		b.creds = identity.NewMemoryStore()
		log.Info("db.disabled.inmemory_store")
		return nil

	case DriverSQLite:
		db, err := openSQL(cfg, nil)
		if err != nil {
			return err
		}
		if cfg.MigrateOnStart {
			if err := migrateDB(ctx, db, DriverSQLite, log); err != nil {
				_ = db.Close()
				return err
			}
		}
		st, err := identity.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return oops.Code("STORE_OPEN_FAILED").In("sqlite").Wrap(err)
		}
		b.creds = st
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return nil

	case DriverPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		b.pool = pool
		if cfg.MigrateOnStart {
			db, err := openSQL(cfg, pool)
			if err != nil {
				return err
			}
			err = migrateDB(ctx, db, DriverPostgres, log)
			_ = db.Close()
			if err != nil {
				return err
			}
		}
		st, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			return oops.Code("STORE_OPEN_FAILED").In("postgres").Wrap(err)
		}
		b.creds = st
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
		return nil

	default:
		return oops.Code("CONFIG_INVALID").Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// durable reports whether credentials survive a restart.
func (b *backends) durable() bool { return b.driver != DriverMemory }

// ping checks every backend that can go away.
func (b *backends) ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if b.creds != nil {
		if err := b.creds.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if b.redis != nil {
		if err := b.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, oops.In("redis").Wrap(err))
		}
	}
	return errors.Join(errs...)
}

// close releases everything. The session store closes the Redis client.
func (b *backends) close() error {
	var errs []error
	if b.sessions != nil {
		errs = append(errs, b.sessions.Close())
	} else if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.creds != nil {
		errs = append(errs, b.creds.Close())
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return errors.Join(errs...)
}
