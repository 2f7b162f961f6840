// Package warehouse defines the load and read contract for normalized
// registry records. Rows are keyed by guid; loading the same records twice
// leaves one logical row per guid.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

// IdentityField is the only natural key the warehouse upserts on.
const IdentityField = "guid"

// TablePlaceholder is replaced with the configured schema-qualified table.
const TablePlaceholder = "{table}"

// RecentRecordsQuery returns the newest awards of one variant.
// Args: $1 variant, $2 limit.
const RecentRecordsQuery = `SELECT guid, name, certification_raw, certificate_name, certificate_version,
	location_raw, city, state, country, organization, awarded_date, crawl_timestamp, variant
FROM {table}
WHERE variant = $1
ORDER BY awarded_date DESC, guid
LIMIT $2`

var (
	// ErrUnsupportedIdentity rejects identity fields other than guid.
	ErrUnsupportedIdentity = errors.New("unsupported identity field")
	// ErrUnsupportedQuery is returned by stores that cannot run a query.
	ErrUnsupportedQuery = errors.New("unsupported warehouse query")
)

// Loader performs best-effort bulk upserts. The returned slice lists rows the
// warehouse refused; the error reports batch-level failures such as a lost
// connection or canceled context.
type Loader interface {
	Load(ctx context.Context, records []crawler.Record, identityField string) ([]*crawler.WarehouseWriteError, error)
}

// Reader runs read queries scoped to the configured table.
type Reader interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// Store is a full warehouse backend.
type Store interface {
	Loader
	Reader
	Close()
}

// CheckIdentity validates the identity field passed to Load.
func CheckIdentity(field string) error {
	if field != IdentityField {
		return fmt.Errorf("%w: %q", ErrUnsupportedIdentity, field)
	}
	return nil
}

// RecordToRow flattens a record into warehouse column names.
func RecordToRow(rec crawler.Record) map[string]any {
	return map[string]any{
		"guid":                rec.GUID,
		"name":                rec.Name,
		"certification_raw":   rec.CertificationRaw,
		"certificate_name":    rec.CertificateName,
		"certificate_version": rec.CertificateVersion,
		"location_raw":        rec.LocationRaw,
		"city":                rec.City,
		"state":               rec.State,
		"country":             rec.Country,
		"organization":        rec.Organization,
		"awarded_date":        rec.AwardedDate,
		"crawl_timestamp":     rec.Timestamp,
		"variant":             string(rec.Variant),
	}
}

// RecordFromRow rebuilds a record from a warehouse row. Dates and timestamps
// may arrive as time.Time (Postgres) or in their loaded form.
func RecordFromRow(row map[string]any) (crawler.Record, error) {
	rec := crawler.Record{
		GUID:               str(row["guid"]),
		Name:               str(row["name"]),
		CertificationRaw:   str(row["certification_raw"]),
		CertificateName:    str(row["certificate_name"]),
		CertificateVersion: str(row["certificate_version"]),
		LocationRaw:        str(row["location_raw"]),
		City:               str(row["city"]),
		State:              str(row["state"]),
		Country:            str(row["country"]),
		Organization:       str(row["organization"]),
		Variant:            crawler.Variant(str(row["variant"])),
	}
	if rec.GUID == "" {
		return crawler.Record{}, errors.New("row has no guid")
	}
	switch d := row["awarded_date"].(type) {
	case time.Time:
		rec.AwardedDate = d.Format("2006-01-02")
	case string:
		rec.AwardedDate = d
	case nil:
	default:
		return crawler.Record{}, fmt.Errorf("row %s: unexpected awarded_date type %T", rec.GUID, d)
	}
	switch ts := row["crawl_timestamp"].(type) {
	case time.Time:
		rec.Timestamp = float64(ts.UnixNano()) / float64(time.Second)
	case float64:
		rec.Timestamp = ts
	case int64:
		rec.Timestamp = float64(ts)
	case nil:
	default:
		return crawler.Record{}, fmt.Errorf("row %s: unexpected crawl_timestamp type %T", rec.GUID, ts)
	}
	return rec, nil
}

// RecordsFromRows converts every row, stopping at the first bad one.
func RecordsFromRows(rows []map[string]any) ([]crawler.Record, error) {
	out := make([]crawler.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := RecordFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SameQuery reports whether two SQL strings match ignoring whitespace runs.
func SameQuery(a, b string) bool {
	return strings.Join(strings.Fields(a), " ") == strings.Join(strings.Fields(b), " ")
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}
