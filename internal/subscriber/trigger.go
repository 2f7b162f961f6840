// Package subscriber runs full crawls of every registry variant when a
// trigger message arrives and loads the results into the warehouse.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/warehouse"
)

// Crawler runs a paginated crawl of one variant.
type Crawler interface {
	CrawlAll(ctx context.Context, v crawler.Variant) (crawler.Result, error)
}

// Payload is the trigger message body. Invalid or empty bodies decode to the
// zero value.
type Payload struct {
	GrandMaster bool `json:"gm"`
}

// DecodePayload parses data leniently.
func DecodePayload(data []byte) (Payload, bool) {
	var p Payload
	if len(data) == 0 {
		return p, true
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, false
	}
	return p, true
}

// VariantReport summarizes one variant's crawl and load.
type VariantReport struct {
	Variant         crawler.Variant `json:"variant"`
	CrawlID         string          `json:"crawl_id,omitempty"`
	Records         int             `json:"records"`
	Pages           int             `json:"pages"`
	SkippedPages    int             `json:"skipped_pages"`
	Partial         bool            `json:"partial"`
	WarehouseErrors int             `json:"warehouse_errors"`
	Error           string          `json:"error,omitempty"`
}

// Report is the outcome of one trigger.
type Report struct {
	Variants []VariantReport `json:"variants"`
}

// Failed reports whether any variant ended in an error.
func (r Report) Failed() bool {
	for _, v := range r.Variants {
		if v.Error != "" {
			return true
		}
	}
	return false
}

// Trigger crawls Regular then GrandMaster and loads each result.
type Trigger struct {
	crawler Crawler
	loader  warehouse.Loader
	logger  *zap.Logger
}

// NewTrigger builds a Trigger. loader may be nil to crawl without loading.
func NewTrigger(c Crawler, loader warehouse.Loader, logger *zap.Logger) (*Trigger, error) {
	if c == nil {
		return nil, errors.New("crawler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{crawler: c, loader: loader, logger: logger}, nil
}

// Variants is the fixed order the trigger crawls in.
var Variants = []crawler.Variant{crawler.VariantRegular, crawler.VariantGrandMaster}

// Run crawls every variant sequentially. Per-variant failures are recorded in
// the report and do not stop the next variant. A canceled context stops the
// run and is returned.
func (t *Trigger) Run(ctx context.Context) (Report, error) {
	var report Report
	for _, v := range Variants {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("trigger canceled before %s: %w", v, err)
		}
		report.Variants = append(report.Variants, t.runVariant(ctx, v))
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("trigger canceled: %w", err)
	}
	return report, nil
}

func (t *Trigger) runVariant(ctx context.Context, v crawler.Variant) VariantReport {
	logger := t.logger.With(zap.String("variant", string(v)))
	rep := VariantReport{Variant: v}

	res, err := t.crawler.CrawlAll(ctx, v)
	rep.CrawlID = res.CrawlID
	rep.Records = len(res.Records)
	rep.Pages = res.Pages()
	rep.SkippedPages = len(res.Skipped)
	rep.Partial = res.Partial()
	if err != nil && !errors.Is(err, crawler.ErrCrawlTimeout) {
		logger.Error("crawl failed", zap.String("crawl_id", res.CrawlID), zap.Error(err))
		rep.Error = err.Error()
		return rep
	}
	if err != nil {
		logger.Warn("crawl timed out, loading partial result",
			zap.String("crawl_id", res.CrawlID),
			zap.Int("records", len(res.Records)),
		)
	}
	if t.loader == nil || len(res.Records) == 0 {
		return rep
	}

	rowErrs, err := t.loader.Load(ctx, res.Records, warehouse.IdentityField)
	rep.WarehouseErrors = len(rowErrs)
	for _, rowErr := range rowErrs {
		logger.Warn("warehouse rejected row",
			zap.String("crawl_id", res.CrawlID),
			zap.Int("index", rowErr.Index),
			zap.String("guid", rowErr.Key),
			zap.Error(rowErr.Err),
		)
	}
	if err != nil {
		logger.Error("warehouse load failed", zap.String("crawl_id", res.CrawlID), zap.Error(err))
		rep.Error = fmt.Sprintf("warehouse load: %v", err)
		return rep
	}
	logger.Info("variant loaded",
		zap.String("crawl_id", res.CrawlID),
		zap.Int("records", len(res.Records)),
		zap.Int("warehouse_errors", len(rowErrs)),
	)
	return rep
}
