// Package postgres provides a PostgreSQL implementation of the docstore.Store interface.
// Documents are kept in their tagged wire form in a JSONB column so integers
// and doubles stay distinct. Patches lock the row with SELECT FOR UPDATE and
// merge in Go within a transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

// Schema creates the documents table and its index. It is applied by Migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
	collection  TEXT        NOT NULL,
	id          TEXT        NOT NULL,
	fields      JSONB       NOT NULL DEFAULT '{}'::jsonb,
	update_time TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`,
	`CREATE INDEX IF NOT EXISTS documents_fields_gin ON documents USING GIN (fields jsonb_path_ops)`,
}

// Storage implements docstore.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

var _ docstore.Store = (*Storage)(nil)

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies Schema on startup
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}
	if config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies Schema.
func (s *Storage) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get implements docstore.Store
func (s *Storage) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var (
		raw     []byte
		updated time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT fields, update_time FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fulfill.Upstream("postgres get "+collection, err)
	}
	return decodeRow(collection, id, raw, updated)
}

// Patch implements docstore.Store. The row is created empty first so that
// concurrent patches to a new document serialize on the row lock instead of
// racing on insert.
func (s *Storage) Patch(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	if err := docstore.ValidateUpdates(updates); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			collection, id); err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		var raw []byte
		if err := tx.QueryRow(ctx,
			`SELECT fields FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			collection, id).Scan(&raw); err != nil {
			return fmt.Errorf("lock: %w", err)
		}

		base, err := docstore.UnmarshalFields(raw)
		if err != nil {
			return err
		}
		merged, err := docstore.MarshalFields(docstore.ApplyUpdates(base, updates))
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE documents SET fields = $3::jsonb, update_time = now() WHERE collection = $1 AND id = $2`,
			collection, id, string(merged)); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return fulfill.Upstream("postgres patch "+collection, err)
	}
	return nil
}

// QueryEqual implements docstore.Store by comparing the tagged wire value at
// the field's wire path, so "1" and 1 never match each other.
func (s *Storage) QueryEqual(ctx context.Context, collection string, field docstore.FieldPath,
	value docstore.Value) (*docstore.Document, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("%w: empty query field", docstore.ErrInvalidUpdate)
	}
	want, err := docstore.MarshalValue(value)
	if err != nil {
		return nil, err
	}

	var (
		id      string
		raw     []byte
		updated time.Time
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, fields, update_time FROM documents
			WHERE collection = $1 AND fields #> $2::text[] = $3::jsonb
			ORDER BY id LIMIT 1`,
		collection, WirePath(field), string(want)).Scan(&id, &raw, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fulfill.Upstream("postgres query "+collection, err)
	}
	return decodeRow(collection, id, raw, updated)
}

// Enabled implements docstore.Store
func (s *Storage) Enabled() bool {
	return true
}

// WirePath maps a field path onto the JSON path of its tagged value inside
// the stored fields object: nested segments live under mapValue.fields.
func WirePath(field docstore.FieldPath) []string {
	out := make([]string, 0, len(field)*3)
	for i, seg := range field {
		if i > 0 {
			out = append(out, "mapValue", "fields")
		}
		out = append(out, seg)
	}
	return out
}

func decodeRow(collection, id string, raw []byte, updated time.Time) (*docstore.Document, error) {
	fields, err := docstore.UnmarshalFields(raw)
	if err != nil {
		return nil, fulfill.Upstream("postgres decode "+collection+"/"+id, err)
	}
	return &docstore.Document{Collection: collection, ID: id, Fields: fields, UpdateTime: updated}, nil
}
