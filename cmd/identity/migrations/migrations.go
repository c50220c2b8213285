// Package migrations holds the embedded goose migrations for the users table.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/samber/oops"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect selects a migration set.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// Applied describes one migration run by Up.
type Applied struct {
	Version int64
	Source  string
}

// State is one row of Status.
type State struct {
	Version int64
	Source  string
	Applied bool
}

func provider(db *sql.DB, d Dialect) (*goose.Provider, error) {
	var (
		gd  goose.Dialect
		dir string
	)
	switch d {
	case Postgres:
		gd, dir = goose.DialectPostgres, "postgres"
	case SQLite:
		gd, dir = goose.DialectSQLite3, "sqlite"
	default:
		return nil, oops.Code("MIGRATE_DIALECT").Errorf("unknown dialect %q", d)
	}

	sub, err := fs.Sub(files, dir)
	if err != nil {
		return nil, oops.Code("MIGRATE_FS").Wrap(err)
	}
	p, err := goose.NewProvider(gd, db, sub)
	if err != nil {
		return nil, oops.Code("MIGRATE_INIT").With("dialect", string(d)).Wrap(err)
	}
	return p, nil
}

// Up applies every pending migration. It is idempotent.
func Up(ctx context.Context, db *sql.DB, d Dialect) ([]Applied, error) {
	p, err := provider(db, d)
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, oops.Code("MIGRATE_UP").With("dialect", string(d)).Wrap(err)
	}

	out := make([]Applied, 0, len(results))
	for _, r := range results {
		out = append(out, Applied{Version: r.Source.Version, Source: r.Source.Path})
	}
	return out, nil
}

// Status lists every known migration and whether it has been applied.
func Status(ctx context.Context, db *sql.DB, d Dialect) ([]State, error) {
	p, err := provider(db, d)
	if err != nil {
		return nil, err
	}
	st, err := p.Status(ctx)
	if err != nil {
		return nil, oops.Code("MIGRATE_STATUS").With("dialect", string(d)).Wrap(err)
	}

	out := make([]State, 0, len(st))
	for _, s := range st {
		out = append(out, State{
			Version: s.Source.Version,
			Source:  s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

// ParseDialect maps a store driver name to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("migrations: no schema for driver %q", driver)
	}
}
