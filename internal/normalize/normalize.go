// Package normalize derives structured registry records from raw table rows.
package normalize

import (
	"crypto/md5" //nolint:gosec // content identity key, not a security boundary
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

// Source column names after header cleanup.
const (
	ColumnName          = "Name"
	ColumnCertification = "Certification"
	ColumnCredential    = "Credential"
	ColumnLocation      = "Location"
	ColumnOrganization  = "Organization"
	ColumnAwarded       = "Awarded"
)

const (
	// AwardedLayout is the registry's date format, e.g. "March 03, 2021".
	AwardedLayout = "January 02, 2006"
	// awardedParseLayout also accepts days without zero padding.
	awardedParseLayout = "January 2, 2006"
	isoDate            = "2006-01-02"

	// GrandMasterName is the certificate name of every grand-master credential.
	GrandMasterName = "Grand Master"
)

// Normalize turns one table row into a Record. It performs no I/O. Steps run
// in a fixed order (organization, date, location, certificate, guid) and the
// guid is computed from the already-normalized fields. A row missing Name,
// Location, or the variant's certificate column fails with
// *crawler.MalformedRecordError.
func Normalize(row crawler.TableRow, variant crawler.Variant, crawlTime time.Time, orgs *OrgMap) (crawler.Record, error) {
	if !variant.Valid() {
		return crawler.Record{}, fmt.Errorf("%w: %q", crawler.ErrUnknownVariant, variant)
	}
	name, ok := row.Value(ColumnName)
	if !ok {
		return crawler.Record{}, &crawler.MalformedRecordError{Field: ColumnName}
	}
	location, ok := row.Value(ColumnLocation)
	if !ok {
		return crawler.Record{}, &crawler.MalformedRecordError{Field: ColumnLocation}
	}
	certColumn := ColumnCertification
	if variant == crawler.VariantGrandMaster {
		certColumn = ColumnCredential
	}
	certRaw, ok := row.Value(certColumn)
	if !ok {
		return crawler.Record{}, &crawler.MalformedRecordError{Field: certColumn}
	}

	rec := crawler.Record{
		Name:             name,
		CertificationRaw: certRaw,
		LocationRaw:      location,
		Timestamp:        float64(crawlTime.UnixNano()) / float64(time.Second),
		Variant:          variant,
	}

	org, _ := row.Value(ColumnOrganization)
	rec.Organization = orgs.Canonical(org)

	awarded, err := AwardedDate(row, crawlTime)
	if err != nil {
		return crawler.Record{}, err
	}
	rec.AwardedDate = awarded

	rec.City, rec.State, rec.Country = SplitLocation(location)

	if variant == crawler.VariantGrandMaster {
		rec.CertificateName, rec.CertificateVersion = SplitGrandMaster(certRaw)
	} else {
		rec.CertificateName, rec.CertificateVersion = SplitCertification(certRaw)
	}

	rec.GUID = GUID(rec.Name, rec.CertificationRaw, rec.LocationRaw)
	return rec, nil
}

// AwardedDate converts the row's Awarded cell to YYYY-MM-DD. A missing cell
// defaults to crawlTime, rendered in the registry layout and parsed back.
func AwardedDate(row crawler.TableRow, crawlTime time.Time) (string, error) {
	raw, ok := row.Value(ColumnAwarded)
	if !ok {
		raw = crawlTime.Format(AwardedLayout)
	}
	t, err := time.Parse(awardedParseLayout, raw)
	if err != nil {
		return "", &crawler.MalformedRecordError{Field: ColumnAwarded, Reason: fmt.Sprintf("unparsable date %q", raw)}
	}
	return t.Format(isoDate), nil
}

// SplitLocation breaks "City, State, Country" apart. Everything after the
// second comma is the country.
func SplitLocation(location string) (city, state, country string) {
	parts := strings.SplitN(location, ",", 3)
	city = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		state = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		country = strings.TrimSpace(parts[2])
	}
	return city, state, country
}

// SplitCertification splits "Drupal 9 Grackle - Site Builder" on the first
// dash. The version is empty when there is no dash.
func SplitCertification(raw string) (name, version string) {
	before, after, found := strings.Cut(raw, "-")
	if !found {
		return strings.TrimSpace(raw), ""
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

// SplitGrandMaster maps a grand-master credential to D7 when it mentions 7,
// otherwise D8.
func SplitGrandMaster(raw string) (name, version string) {
	if strings.Contains(raw, "7") {
		return GrandMasterName, "D7"
	}
	return GrandMasterName, "D8"
}

// GUID is the hex MD5 of name, certification, and location concatenated.
func GUID(name, certificationRaw, locationRaw string) string {
	sum := md5.Sum([]byte(name + certificationRaw + locationRaw)) //nolint:gosec // identity hash
	return hex.EncodeToString(sum[:])
}
