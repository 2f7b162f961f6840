// Package registry binds each registry variant to its listing URL and default
// filters, and fetches pages and pager links from it.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/normalize"
	"github.com/JakeFAU/cert-registry-crawler/internal/parser"
)

// Default listing locations.
const (
	DefaultRegularURL     = "https://certification.acquia.com/registry"
	DefaultGrandMasterURL = "https://certification.acquia.com/registry/grand-masters"
)

// Listing describes one registry variant. It is immutable once built and
// shared read-only by every page pipeline of a crawl.
type Listing struct {
	Variant crawler.Variant
	// BaseURL is the unparameterized landing page. Pagination discovery reads it as-is.
	BaseURL string
	// Defaults are the filter parameters sent with every page request.
	Defaults url.Values
	// FirstPage is the lowest page index the pager uses.
	FirstPage int
	extractor *parser.Extractor
}

// Config selects listing URLs. Empty fields fall back to the defaults.
type Config struct {
	RegularURL     string
	GrandMasterURL string
}

// Regular returns the regular certification listing.
func Regular(rawURL string) Listing {
	if rawURL == "" {
		rawURL = DefaultRegularURL
	}
	return Listing{
		Variant:   crawler.VariantRegular,
		BaseURL:   rawURL,
		Defaults:  url.Values{"exam": {"All"}},
		FirstPage: 0,
		extractor: parser.NewExtractor(map[string]string{
			"name":               normalize.ColumnName,
			"certificate holder": normalize.ColumnName,
			"certification":      normalize.ColumnCertification,
			"exam":               normalize.ColumnCertification,
			"location":           normalize.ColumnLocation,
			"organization":       normalize.ColumnOrganization,
			"company":            normalize.ColumnOrganization,
			"awarded":            normalize.ColumnAwarded,
			"date awarded":       normalize.ColumnAwarded,
		}),
	}
}

// GrandMaster returns the grand-master listing.
func GrandMaster(rawURL string) Listing {
	if rawURL == "" {
		rawURL = DefaultGrandMasterURL
	}
	return Listing{
		Variant:   crawler.VariantGrandMaster,
		BaseURL:   rawURL,
		Defaults:  url.Values{"credential": {"All"}},
		FirstPage: 0,
		extractor: parser.NewExtractor(map[string]string{
			"name":               normalize.ColumnName,
			"certificate holder": normalize.ColumnName,
			"credential":         normalize.ColumnCredential,
			"grand master":       normalize.ColumnCredential,
			"location":           normalize.ColumnLocation,
			"organization":       normalize.ColumnOrganization,
			"company":            normalize.ColumnOrganization,
			"awarded":            normalize.ColumnAwarded,
			"date awarded":       normalize.ColumnAwarded,
		}),
	}
}

// Listings builds both variants from cfg.
func Listings(cfg Config) []Listing {
	return []Listing{Regular(cfg.RegularURL), GrandMaster(cfg.GrandMasterURL)}
}

// PageURL returns the listing URL for page with the variant's default filters.
// Parameters already present on BaseURL are kept unless a default overrides them.
func (l Listing) PageURL(page int) (string, error) {
	u, err := url.Parse(l.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse %s listing url: %w", l.Variant, err)
	}
	q := u.Query()
	for k, vs := range l.Defaults {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Extract parses body into rows using the variant's header aliases.
func (l Listing) Extract(body []byte) ([]crawler.TableRow, error) {
	if l.extractor == nil {
		return nil, errors.New("listing has no table extractor")
	}
	return l.extractor.Extract(body)
}

func (l Listing) validate() error {
	if !l.Variant.Valid() {
		return fmt.Errorf("%w: %q", crawler.ErrUnknownVariant, l.Variant)
	}
	u, err := url.Parse(l.BaseURL)
	if err != nil {
		return fmt.Errorf("%s listing url: %w", l.Variant, err)
	}
	if !strings.HasPrefix(u.Scheme, "http") || u.Host == "" {
		return fmt.Errorf("%s listing url %q must be absolute http(s)", l.Variant, l.BaseURL)
	}
	if l.FirstPage < 0 {
		return fmt.Errorf("%s first page must be >= 0", l.Variant)
	}
	return nil
}
