// Package persistence stores subsets and entity set configurations in a SQL
// database as JSON payloads keyed by id.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"surveycore/internal/entity"
	"surveycore/internal/observability"
	"surveycore/pkg/domain"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name        string
	PayloadType string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

// QuestionMarks binds parameters positionally with "?".
func QuestionMarks(int) string { return "?" }

// Numbered binds parameters as "$1", "$2", ...
func Numbered(n int) string { return fmt.Sprintf("$%d", n) }

// Catalog is a durable subset source and entity set configuration
// repository.
type Catalog struct {
	db      *sql.DB
	dialect Dialect
	logger  observability.Logger
	now     func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the catalog's logger.
func WithLogger(l observability.Logger) Option {
	return func(c *Catalog) { c.logger = observability.OrNoop(l) }
}

// WithNow overrides the clock stamping saved configurations.
func WithNow(now func() time.Time) Option {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

var (
	_ entity.SetConfigurationRepository = (*Catalog)(nil)
	_ domain.SubsetSource               = (*Catalog)(nil)
)

// NewCatalog wraps db and creates the catalog tables when missing.
func NewCatalog(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Catalog, error) {
	if dialect.Placeholder == nil {
		dialect.Placeholder = QuestionMarks
	}
	c := &Catalog{
		db:      db,
		dialect: dialect,
		logger:  observability.NoopLogger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if err := c.migrate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// DB exposes the underlying database.
func (c *Catalog) DB() *sql.DB { return c.db }

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS subsets (
		id TEXT PRIMARY KEY,
		payload %s NOT NULL
	)`, c.dialect.PayloadType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entity_set_configurations (
		id INTEGER PRIMARY KEY,
		payload %s NOT NULL
	)`, c.dialect.PayloadType),
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: create catalog tables: %w", c.dialect.Name, err)
		}
	}
	return nil
}

func (c *Catalog) upsert(ctx context.Context, table string, id any, payload []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, payload) VALUES (%s, %s) ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`,
		table, c.dialect.Placeholder(1), c.dialect.Placeholder(2))
	if _, err := c.db.ExecContext(ctx, query, id, payload); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (c *Catalog) delete(ctx context.Context, table string, id any) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, table, c.dialect.Placeholder(1))
	if _, err := c.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

func (c *Catalog) payloads(ctx context.Context, query string, args ...any) ([][]byte, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out [][]byte
	for rows.Next() {
		var id any
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// Subsets implements domain.SubsetSource, ordered by id.
func (c *Catalog) Subsets(ctx context.Context) ([]domain.Subset, error) {
	raw, err := c.payloads(ctx, `SELECT id, payload FROM subsets`)
	if err != nil {
		return nil, fmt.Errorf("select subsets: %w", err)
	}
	out := make([]domain.Subset, 0, len(raw))
	for _, payload := range raw {
		var s domain.Subset
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decode subset: %w", err)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveSubset inserts or replaces a subset.
func (c *Catalog) SaveSubset(ctx context.Context, s domain.Subset) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("subset id is required")
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.upsert(ctx, "subsets", s.ID, payload)
}

// DeleteSubset removes a subset.
func (c *Catalog) DeleteSubset(ctx context.Context, id string) error {
	return c.delete(ctx, "subsets", id)
}

// EntitySetConfigurations returns every stored configuration ordered by id.
func (c *Catalog) EntitySetConfigurations(ctx context.Context) ([]entity.EntitySetConfiguration, error) {
	raw, err := c.payloads(ctx, `SELECT id, payload FROM entity_set_configurations`)
	if err != nil {
		return nil, fmt.Errorf("select entity set configurations: %w", err)
	}
	out := make([]entity.EntitySetConfiguration, 0, len(raw))
	for _, payload := range raw {
		var cfg entity.EntitySetConfiguration
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return nil, fmt.Errorf("decode entity set configuration: %w", err)
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetWithoutMappings returns the configuration with id, stripped of its
// child average mappings.
func (c *Catalog) GetWithoutMappings(ctx context.Context, id int) (entity.EntitySetConfiguration, bool, error) {
	raw, err := c.payloads(ctx,
		fmt.Sprintf(`SELECT id, payload FROM entity_set_configurations WHERE id = %s`, c.dialect.Placeholder(1)), id)
	if err != nil {
		return entity.EntitySetConfiguration{}, false, fmt.Errorf("select entity set configuration %d: %w", id, err)
	}
	if len(raw) == 0 {
		return entity.EntitySetConfiguration{}, false, nil
	}
	var cfg entity.EntitySetConfiguration
	if err := json.Unmarshal(raw[0], &cfg); err != nil {
		return entity.EntitySetConfiguration{}, false, fmt.Errorf("decode entity set configuration %d: %w", id, err)
	}
	cfg.ChildAverageMappings = nil
	return cfg, true, nil
}

// Save inserts or replaces a configuration, stamping UpdatedAt.
func (c *Catalog) Save(ctx context.Context, cfg entity.EntitySetConfiguration) error {
	cfg.UpdatedAt = c.now()
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := c.upsert(ctx, "entity_set_configurations", cfg.ID, payload); err != nil {
		return err
	}
	c.logger.Debug("entity set configuration saved", "id", cfg.ID, "name", cfg.Name, "driver", c.dialect.Name)
	return nil
}

// Delete removes a configuration.
func (c *Catalog) Delete(ctx context.Context, cfg entity.EntitySetConfiguration) error {
	return c.delete(ctx, "entity_set_configurations", cfg.ID)
}
