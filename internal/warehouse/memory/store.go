// Package memory provides an in-process warehouse for tests and local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/metrics"
	"github.com/JakeFAU/cert-registry-crawler/internal/warehouse"
)

// Store keeps one record per guid.
type Store struct {
	mu   sync.RWMutex
	rows map[string]crawler.Record
	// Reject, when set, refuses individual rows the way a database
	// constraint would.
	Reject func(crawler.Record) error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{rows: make(map[string]crawler.Record)}
}

// Load upserts records by guid.
func (s *Store) Load(ctx context.Context, records []crawler.Record, identityField string) ([]*crawler.WarehouseWriteError, error) {
	if err := warehouse.CheckIdentity(identityField); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var rowErrs []*crawler.WarehouseWriteError
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return rowErrs, fmt.Errorf("load interrupted at row %d: %w", i, err)
		}
		if rec.GUID == "" {
			rowErrs = append(rowErrs, &crawler.WarehouseWriteError{Index: i, Err: errors.New("missing guid")})
			metrics.ObserveWarehouseErrors(string(rec.Variant), 1)
			continue
		}
		if s.Reject != nil {
			if err := s.Reject(rec); err != nil {
				rowErrs = append(rowErrs, &crawler.WarehouseWriteError{Index: i, Key: rec.GUID, Err: err})
				metrics.ObserveWarehouseErrors(string(rec.Variant), 1)
				continue
			}
		}
		s.rows[rec.GUID] = rec
	}
	return rowErrs, nil
}

// Query supports warehouse.RecentRecordsQuery only.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !warehouse.SameQuery(query, warehouse.RecentRecordsQuery) {
		return nil, warehouse.ErrUnsupportedQuery
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("recent records query takes 2 args, got %d", len(args))
	}
	variant, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("variant arg must be a string, got %T", args[0])
	}
	limit, ok := args[1].(int)
	if !ok {
		return nil, fmt.Errorf("limit arg must be an int, got %T", args[1])
	}

	s.mu.RLock()
	matched := make([]crawler.Record, 0, len(s.rows))
	for _, rec := range s.rows {
		if string(rec.Variant) == variant {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	// ISO dates sort lexically.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].AwardedDate != matched[j].AwardedDate {
			return matched[i].AwardedDate > matched[j].AwardedDate
		}
		return matched[i].GUID < matched[j].GUID
	})
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]map[string]any, len(matched))
	for i, rec := range matched {
		out[i] = warehouse.RecordToRow(rec)
	}
	return out, nil
}

// Get returns the stored record for guid.
func (s *Store) Get(guid string) (crawler.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[guid]
	return rec, ok
}

// Len reports how many distinct guids are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Close is a no-op.
func (s *Store) Close() {}
