// Package postgres opens the configuration catalog on Postgres through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"surveycore/internal/infra/persistence"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/surveycore?sslmode=disable"
)

// Dialect is the Postgres flavour of the catalog SQL.
var Dialect = persistence.Dialect{
	Name:        "postgres",
	PayloadType: "JSONB",
	Placeholder: persistence.Numbered,
}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Open connects to dsn (or the local default), pings the server and ensures
// the catalog tables exist.
func Open(ctx context.Context, dsn string, opts ...persistence.Option) (*persistence.Catalog, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	cat, err := persistence.NewCatalog(ctx, db, Dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return cat, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
