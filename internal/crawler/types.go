package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// Variant selects which registry listing a crawl targets.
type Variant string

// Supported registry variants.
const (
	VariantRegular     Variant = "regular"
	VariantGrandMaster Variant = "grand_master"
)

// VariantFor maps the front-end "gm" flag onto a Variant.
func VariantFor(grandMaster bool) Variant {
	if grandMaster {
		return VariantGrandMaster
	}
	return VariantRegular
}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantRegular || v == VariantGrandMaster
}

// ParseVariant converts a stored variant label back into a Variant.
func ParseVariant(s string) (Variant, error) {
	v := Variant(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
	return v, nil
}

// RawPage is one fetched page of registry markup. It is consumed once by the
// table extractor.
type RawPage struct {
	Variant    Variant
	Page       int
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
	Duration   time.Duration
}

// TableRow maps canonical column names to cell text for one body row.
type TableRow map[string]string

// Value returns the trimmed cell for column and whether it held any text.
func (r TableRow) Value(column string) (string, bool) {
	v, ok := r[column]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Record is a normalized registry entry, the unit loaded into the warehouse.
type Record struct {
	Name               string  `json:"name"`
	CertificationRaw   string  `json:"certification_raw"`
	CertificateName    string  `json:"certificate_name"`
	CertificateVersion string  `json:"certificate_version"`
	LocationRaw        string  `json:"location_raw"`
	City               string  `json:"city"`
	State              string  `json:"state"`
	Country            string  `json:"country"`
	Organization       string  `json:"organization"`
	AwardedDate        string  `json:"awarded_date"`
	GUID               string  `json:"guid"`
	Timestamp          float64 `json:"timestamp"`
	Variant            Variant `json:"variant"`
}

// PageOutcome is the result of one fetch, extract, normalize pipeline.
// Exactly one of Err or the record fields is meaningful.
type PageOutcome struct {
	Page      int
	Records   []Record
	Empty     bool
	Malformed int
	Bytes     int
	Duration  time.Duration
	Err       error
}

// Failed reports whether the page pipeline ended in an error.
func (o PageOutcome) Failed() bool {
	return o.Err != nil
}

// PageFailure records a page skipped by the orchestrator.
type PageFailure struct {
	Page   int    `json:"page"`
	Reason string `json:"reason"`
}

// Result is returned by a full crawl of one variant.
type Result struct {
	CrawlID       string        `json:"crawl_id"`
	Variant       Variant       `json:"variant"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	FirstPage     int           `json:"first_page"`
	LastPage      int           `json:"last_page"`
	Records       []Record      `json:"records"`
	Skipped       []PageFailure `json:"skipped_pages,omitempty"`
	EmptyPages    int           `json:"empty_pages"`
	MalformedRows int           `json:"malformed_rows"`
	TimedOut      bool          `json:"timed_out"`
}

// Pages returns how many page pipelines the crawl dispatched.
func (r Result) Pages() int {
	if r.LastPage < r.FirstPage {
		return 0
	}
	return r.LastPage - r.FirstPage + 1
}

// Partial reports whether any page was skipped or the crawl hit its deadline.
func (r Result) Partial() bool {
	return r.TimedOut || len(r.Skipped) > 0
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
