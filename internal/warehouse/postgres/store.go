// Package postgres loads registry records into a Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/metrics"
	"github.com/JakeFAU/cert-registry-crawler/internal/warehouse"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and target table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Schema          string        `mapstructure:"schema"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store upserts records keyed by guid.
type Store struct {
	pool   pool
	table  string
	upsert string
}

// NewStore connects a pgx pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("warehouse.dsn is required")
	}
	table, err := qualifiedTable(cfg.Schema, cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newStore(p, table), nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, schema, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	qualified, err := qualifiedTable(schema, table)
	if err != nil {
		return nil, err
	}
	return newStore(p, qualified), nil
}

func newStore(p pool, table string) *Store {
	return &Store{pool: p, table: table, upsert: upsertSQL(table)}
}

func qualifiedTable(schema, table string) (string, error) {
	if table == "" {
		table = "records"
	}
	if !validIdentifier.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	if schema == "" {
		return table, nil
	}
	if !validIdentifier.MatchString(schema) {
		return "", fmt.Errorf("invalid schema name %q", schema)
	}
	return schema + "." + table, nil
}

var columns = []string{
	"guid",
	"name",
	"certification_raw",
	"certificate_name",
	"certificate_version",
	"location_raw",
	"city",
	"state",
	"country",
	"organization",
	"awarded_date",
	"crawl_timestamp",
	"variant",
}

func upsertSQL(table string) string {
	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns)-1)
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col == "crawl_timestamp" {
			placeholders[i] = fmt.Sprintf("to_timestamp($%d)", i+1)
		}
		if col != warehouse.IdentityField {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		warehouse.IdentityField,
		strings.Join(updates, ", "),
	)
}

func upsertArgs(rec crawler.Record) []any {
	var awarded any
	if rec.AwardedDate != "" {
		awarded = rec.AwardedDate
	}
	return []any{
		rec.GUID,
		rec.Name,
		rec.CertificationRaw,
		rec.CertificateName,
		rec.CertificateVersion,
		rec.LocationRaw,
		rec.City,
		rec.State,
		rec.Country,
		rec.Organization,
		awarded,
		rec.Timestamp,
		string(rec.Variant),
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load upserts each record individually so one bad row does not sink the
// batch. Rows the database rejects come back as WarehouseWriteErrors. A
// canceled context stops the load and is returned as the error.
func (s *Store) Load(ctx context.Context, records []crawler.Record, identityField string) ([]*crawler.WarehouseWriteError, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("warehouse store is not configured")
	}
	if err := warehouse.CheckIdentity(identityField); err != nil {
		return nil, err
	}
	var rowErrs []*crawler.WarehouseWriteError
	defer func() {
		for variant, n := range countByVariant(records, rowErrs) {
			metrics.ObserveWarehouseErrors(variant, n)
		}
	}()
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return rowErrs, fmt.Errorf("load interrupted at row %d: %w", i, err)
		}
		if rec.GUID == "" {
			rowErrs = append(rowErrs, &crawler.WarehouseWriteError{Index: i, Err: errors.New("missing guid")})
			continue
		}
		if _, err := s.pool.Exec(ctx, s.upsert, upsertArgs(rec)...); err != nil {
			if ctx.Err() != nil {
				return rowErrs, fmt.Errorf("load interrupted at row %d: %w", i, ctx.Err())
			}
			rowErrs = append(rowErrs, &crawler.WarehouseWriteError{Index: i, Key: rec.GUID, Err: err})
		}
	}
	return rowErrs, nil
}

// Query runs query with {table} replaced by the configured table.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("warehouse store is not configured")
	}
	rows, err := s.pool.Query(ctx, strings.ReplaceAll(query, warehouse.TablePlaceholder, s.table), args...)
	if err != nil {
		return nil, fmt.Errorf("query warehouse: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect warehouse rows: %w", err)
	}
	return out, nil
}

func countByVariant(records []crawler.Record, rowErrs []*crawler.WarehouseWriteError) map[string]int {
	counts := make(map[string]int)
	for _, e := range rowErrs {
		variant := "unknown"
		if e.Index >= 0 && e.Index < len(records) && records[e.Index].Variant != "" {
			variant = string(records[e.Index].Variant)
		}
		counts[variant]++
	}
	return counts
}
