// Package export renders records for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

// ContentTypeCSV is the media type of Write output.
const ContentTypeCSV = "text/csv; charset=utf-8"

// Header lists CSV columns in output order. Names match the record JSON keys.
var Header = []string{
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
	"guid",
	"timestamp",
	"variant",
}

// Filename is the attachment name for a variant's CSV download.
func Filename(v crawler.Variant) string {
	return fmt.Sprintf("%s-records.csv", v)
}

// Write renders records as CSV with a header row. An empty slice still
// produces the header.
func Write(w io.Writer, records []crawler.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, rec := range records {
		if err := cw.Write(row(rec)); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func row(rec crawler.Record) []string {
	return []string{
		rec.Name,
		rec.CertificationRaw,
		rec.CertificateName,
		rec.CertificateVersion,
		rec.LocationRaw,
		rec.City,
		rec.State,
		rec.Country,
		rec.Organization,
		rec.AwardedDate,
		rec.GUID,
		strconv.FormatFloat(rec.Timestamp, 'f', -1, 64),
		string(rec.Variant),
	}
}
