package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StagePageDone   Stage = "PAGE_DONE"
	StagePageFailed Stage = "PAGE_FAILED"
	StageCrawlDone  Stage = "CRAWL_DONE"
)

// Outcome labels a finished page or crawl.
type Outcome string

// Page and crawl outcomes.
const (
	OutcomeOK      Outcome = "ok"
	OutcomeEmpty   Outcome = "empty"
	OutcomeFailed  Outcome = "failed"
	OutcomePartial Outcome = "partial"
)

// Event captures a single milestone of a crawl.
type Event struct {
	// CrawlID identifies one CrawlAll or CrawlPage invocation.
	CrawlID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Variant is the registry listing being crawled.
	Variant string
	// Page is the zero-based page index for page events.
	Page int
	URL  string
	// Records counts normalized records (page events) or the crawl total.
	Records int
	// Malformed counts rows dropped by the normalizer.
	Malformed int
	Bytes     int64
	Outcome   Outcome
	// Dur is the page pipeline or whole-crawl latency.
	Dur time.Duration
	// Note carries the failure reason for PAGE_FAILED and failed crawls.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Variant == "" {
		return errors.New("variant is required")
	}
	switch e.Stage {
	case StageCrawlStart:
	case StagePageDone, StagePageFailed:
		if e.Page < 0 {
			return errors.New("page must be >= 0")
		}
		if e.Stage == StagePageFailed && e.Note == "" {
			return errors.New("page failure requires a note")
		}
	case StageCrawlDone:
		if e.Outcome == "" {
			return errors.New("crawl done requires an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
