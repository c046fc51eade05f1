// Package sqlite opens the configuration catalog on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"surveycore/internal/infra/persistence"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "surveycore.db"

// Dialect is the SQLite flavour of the catalog SQL.
var Dialect = persistence.Dialect{
	Name:        "sqlite",
	PayloadType: "BLOB",
	Placeholder: persistence.QuestionMarks,
}

// Open opens or creates the database at path and ensures the catalog
// tables exist.
func Open(ctx context.Context, path string, opts ...persistence.Option) (*persistence.Catalog, error) {
	if path == "" {
		path = DefaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	cat, err := persistence.NewCatalog(ctx, db, Dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return cat, nil
}
