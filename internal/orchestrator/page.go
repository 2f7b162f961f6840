package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/metrics"
	"github.com/JakeFAU/cert-registry-crawler/internal/normalize"
	"github.com/JakeFAU/cert-registry-crawler/internal/progress"
)

// runPage is one fetch, extract, normalize pipeline. It never panics on bad
// input and reports every failure through PageOutcome.Err.
func (o *Orchestrator) runPage(ctx context.Context, res crawler.Result, page int, logger *zap.Logger) crawler.PageOutcome {
	start := time.Now()
	out := crawler.PageOutcome{Page: page, Records: []crawler.Record{}}
	logger = logger.With(zap.Int("page", page))

	pageCtx, cancel := o.withTimeout(ctx, o.cfg.PageTimeout)
	defer cancel()

	raw, err := o.registry.FetchPage(pageCtx, res.Variant, page)
	if err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		o.pageFailed(res, out, raw.URL, logger)
		return out
	}
	out.Bytes = len(raw.Body)
	metrics.ObserveFetch(raw.URL, out.Bytes)
	o.archivePage(ctx, res, raw, logger)

	rows, err := o.registry.Extract(res.Variant, raw.Body)
	switch {
	case errors.Is(err, crawler.ErrEmptyPage):
		out.Empty = true
	case err != nil:
		out.Err = fmt.Errorf("extract page %d: %w", page, err)
		out.Duration = time.Since(start)
		o.pageFailed(res, out, raw.URL, logger)
		return out
	}

	for i, row := range rows {
		rec, err := normalize.Normalize(row, res.Variant, res.StartedAt, o.orgs)
		if err != nil {
			out.Malformed++
			var mre *crawler.MalformedRecordError
			field := ""
			if errors.As(err, &mre) {
				field = mre.Field
			}
			logger.Warn("skipping malformed row",
				zap.Int("row", i),
				zap.String("field", field),
				zap.Error(err),
			)
			continue
		}
		out.Records = append(out.Records, rec)
	}
	out.Duration = time.Since(start)

	outcome := progress.OutcomeOK
	if out.Empty {
		outcome = progress.OutcomeEmpty
	}
	o.emit(progress.Event{
		CrawlID:   res.CrawlID,
		TS:        o.clock.Now(),
		Stage:     progress.StagePageDone,
		Variant:   string(res.Variant),
		Page:      page,
		URL:       raw.URL,
		Records:   len(out.Records),
		Malformed: out.Malformed,
		Bytes:     int64(out.Bytes),
		Outcome:   outcome,
		Dur:       out.Duration,
	})
	logger.Debug("page done",
		zap.Int("records", len(out.Records)),
		zap.Bool("empty", out.Empty),
		zap.Duration("dur", out.Duration),
	)
	return out
}

func (o *Orchestrator) pageFailed(res crawler.Result, out crawler.PageOutcome, url string, logger *zap.Logger) {
	o.emit(progress.Event{
		CrawlID: res.CrawlID,
		TS:      o.clock.Now(),
		Stage:   progress.StagePageFailed,
		Variant: string(res.Variant),
		Page:    out.Page,
		URL:     url,
		Outcome: progress.OutcomeFailed,
		Dur:     out.Duration,
		Note:    out.Err.Error(),
	})
	logger.Warn("page failed", zap.Error(out.Err))
}

// archivePage stores the raw body. Archive failures are logged and never fail
// the page.
func (o *Orchestrator) archivePage(ctx context.Context, res crawler.Result, raw crawler.RawPage, logger *zap.Logger) {
	if o.archive == nil {
		return
	}
	digest, err := o.hasher.Hash(raw.Body)
	if err != nil {
		logger.Warn("archive digest failed", zap.Error(err))
		return
	}
	name := ArchivePath(o.cfg.ArchivePrefix, res.CrawlID, res.Variant, raw.Page, digest)
	uri, err := o.archive.PutObject(ctx, name, "text/html; charset=utf-8", bytes.NewReader(raw.Body))
	if err != nil {
		logger.Warn("archive page failed", zap.String("object", name), zap.Error(err))
		return
	}
	logger.Debug("archived page", zap.String("uri", uri))
}

// ArchivePath names an archived page: <prefix>/<crawl_id>/<variant>/page-<n>-<digest>.html.
func ArchivePath(prefix, crawlID string, v crawler.Variant, page int, digest string) string {
	file := fmt.Sprintf("page-%d-%s.html", page, digest)
	return path.Join(strings.Trim(prefix, "/"), crawlID, string(v), file)
}
