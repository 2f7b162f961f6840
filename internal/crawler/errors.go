package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPaginationNotFound means the landing page had no last-page pager link.
	// Callers treat it as a single-page registry.
	ErrPaginationNotFound = errors.New("pagination link not found")
	// ErrEmptyPage signals a page with no data rows. It marks the end of data,
	// not a failure.
	ErrEmptyPage = errors.New("page has no data rows")
	// ErrCrawlTimeout is returned alongside partial results when the crawl
	// deadline expires.
	ErrCrawlTimeout = errors.New("crawl deadline exceeded")
	// ErrAllPagesFailed is returned when no page pipeline succeeded.
	ErrAllPagesFailed = errors.New("all registry pages failed")
	// ErrUnknownVariant rejects variant labels outside Regular and GrandMaster.
	ErrUnknownVariant = errors.New("unknown registry variant")
)

// TransportError wraps a failed outbound registry read.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d %s: %v", e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedRecordError rejects a single table row.
type MalformedRecordError struct {
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed record: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed record: %s: %s", e.Field, e.Reason)
}

// WarehouseWriteError describes one row the warehouse refused.
type WarehouseWriteError struct {
	Index int
	Key   string
	Err   error
}

func (e *WarehouseWriteError) Error() string {
	return fmt.Sprintf("row %d (%s): %v", e.Index, e.Key, e.Err)
}

func (e *WarehouseWriteError) Unwrap() error {
	return e.Err
}

// MarshalText lets the error list render cleanly in JSON responses.
func (e *WarehouseWriteError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}
