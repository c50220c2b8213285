package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/samber/oops"

	"medgate/cmd/identity/migrations"
)

// Run is the entrypoint used by `medgate serve`. It returns an error
// instead of calling os.Exit so that defers still run.
func Run(ctx context.Context, cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate applies pending migrations for the configured store, or with
// status only prints which ones are applied.
func Migrate(ctx context.Context, cfg Config, status bool, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	if cfg.StoreDriver == DriverMemory {
		return oops.Code("MIGRATE_DIALECT").Errorf("the memory store has no schema; set MEDGATE_STORE")
	}
	dialect, err := migrations.ParseDialect(cfg.StoreDriver)
	if err != nil {
		return oops.Code("MIGRATE_DIALECT").Wrap(err)
	}

	b := &backends{driver: cfg.StoreDriver}
	if cfg.StoreDriver == DriverPostgres {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		b.pool = pool
	}
	defer func() { _ = b.close() }()

	db, err := openSQL(cfg, b.pool)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if !status {
		return migrateDB(ctx, db, cfg.StoreDriver, log)
	}

	states, err := migrations.Status(ctx, db, dialect)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tAPPLIED\tSOURCE")
	for _, s := range states {
		fmt.Fprintf(tw, "%d\t%t\t%s\n", s.Version, s.Applied, s.Source)
	}
	return tw.Flush()
}
