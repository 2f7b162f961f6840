// Package orchestrator runs registry crawls: it discovers the page range,
// fans fetch, extract, and normalize pipelines out across a bounded pool, and
// merges per-page outcomes into one record list in page order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/cert-registry-crawler/internal/clock/system"
	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	"github.com/JakeFAU/cert-registry-crawler/internal/hash/sha256"
	"github.com/JakeFAU/cert-registry-crawler/internal/id/uuid"
	"github.com/JakeFAU/cert-registry-crawler/internal/normalize"
	"github.com/JakeFAU/cert-registry-crawler/internal/progress"
)

const (
	defaultConcurrency = 4
	maxConcurrency     = 16
	publishTimeout     = 10 * time.Second
)

// Registry is the page source a crawl reads from. *registry.Client satisfies it.
type Registry interface {
	FirstPage(v crawler.Variant) (int, error)
	DiscoverLastPage(ctx context.Context, v crawler.Variant) (int, error)
	FetchPage(ctx context.Context, v crawler.Variant, page int) (crawler.RawPage, error)
	Extract(v crawler.Variant, body []byte) ([]crawler.TableRow, error)
}

// Config bounds a crawl. Zero timeouts disable the corresponding deadline.
type Config struct {
	Concurrency  int
	PageTimeout  time.Duration
	CrawlTimeout time.Duration
	// ArchivePrefix is prepended to archived page object names.
	ArchivePrefix string
	// NotifyTopic receives a Notice after every CrawlAll when a publisher is set.
	NotifyTopic string
}

// Orchestrator runs crawls bound to one variant each. It holds no per-crawl
// state, so one instance serves concurrent crawls.
type Orchestrator struct {
	cfg       Config
	registry  Registry
	orgs      *normalize.OrgMap
	clock     crawler.Clock
	ids       crawler.IDGenerator
	hasher    crawler.Hasher
	archive   crawler.BlobStore
	publisher crawler.Publisher
	progress  progress.Emitter
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithOrgMap sets the organization canonicalization rules.
func WithOrgMap(m *normalize.OrgMap) Option { return func(o *Orchestrator) { o.orgs = m } }

// WithClock sets the clock that stamps crawl time.
func WithClock(c crawler.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

// WithIDGenerator sets the crawl id source.
func WithIDGenerator(g crawler.IDGenerator) Option { return func(o *Orchestrator) { o.ids = g } }

// WithHasher sets the digest used in archive object names.
func WithHasher(h crawler.Hasher) Option { return func(o *Orchestrator) { o.hasher = h } }

// WithArchive stores every fetched page body in b.
func WithArchive(b crawler.BlobStore) Option { return func(o *Orchestrator) { o.archive = b } }

// WithPublisher sends completion notices through p.
func WithPublisher(p crawler.Publisher) Option { return func(o *Orchestrator) { o.publisher = p } }

// WithProgress reports crawl milestones to e.
func WithProgress(e progress.Emitter) Option { return func(o *Orchestrator) { o.progress = e } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New builds an Orchestrator over reg.
func New(cfg Config, reg Registry, opts ...Option) (*Orchestrator, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Concurrency > maxConcurrency {
		return nil, fmt.Errorf("concurrency %d exceeds %d", cfg.Concurrency, maxConcurrency)
	}
	if cfg.PageTimeout < 0 || cfg.CrawlTimeout < 0 {
		return nil, errors.New("timeouts must be >= 0")
	}
	o := &Orchestrator{
		cfg:      cfg,
		registry: reg,
		clock:    system.New(),
		ids:      uuid.New(),
		hasher:   sha256.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// CrawlAll crawls every page of v. Page failures are recorded in
// Result.Skipped and never abort the crawl. Errors:
//   - discovery transport failure: the crawl fails with no records
//   - crawl deadline: the partial Result plus crawler.ErrCrawlTimeout
//   - every page failed: crawler.ErrAllPagesFailed
func (o *Orchestrator) CrawlAll(ctx context.Context, v crawler.Variant) (crawler.Result, error) {
	first, err := o.registry.FirstPage(v)
	if err != nil {
		return crawler.Result{Variant: v}, err
	}
	res, err := o.begin(v)
	if err != nil {
		return res, err
	}
	res.FirstPage, res.LastPage = first, first-1
	logger := o.logger.With(zap.String("crawl_id", res.CrawlID), zap.String("variant", string(v)))

	crawlCtx, cancel := o.withTimeout(ctx, o.cfg.CrawlTimeout)
	defer cancel()

	last, err := o.registry.DiscoverLastPage(crawlCtx, v)
	switch {
	case errors.Is(err, crawler.ErrPaginationNotFound):
		logger.Info("no usable pager link, crawling a single page", zap.Error(err))
		last = first
	case err != nil:
		if crawlCtx.Err() != nil && ctx.Err() == nil {
			res.TimedOut = true
			err = fmt.Errorf("%w: discover pages: %w", crawler.ErrCrawlTimeout, err)
		} else {
			err = fmt.Errorf("discover pages: %w", err)
		}
		o.finish(ctx, &res, err, logger)
		return res, err
	}
	if last < first {
		last = first
	}
	res.LastPage = last

	outcomes := o.fanOut(crawlCtx, res, logger)
	o.merge(&res, outcomes)

	switch {
	case ctx.Err() != nil:
		err = fmt.Errorf("crawl canceled: %w", ctx.Err())
	case crawlCtx.Err() != nil:
		res.TimedOut = true
		err = crawler.ErrCrawlTimeout
	case len(res.Skipped) == res.Pages():
		err = fmt.Errorf("%w: %d pages, first failure on page %d: %s",
			crawler.ErrAllPagesFailed, res.Pages(), res.Skipped[0].Page, res.Skipped[0].Reason)
	}
	o.finish(ctx, &res, err, logger)
	return res, err
}

// CrawlPage runs a single page pipeline. An empty page yields no records and
// no error; a failed page returns its error alongside the Result.
func (o *Orchestrator) CrawlPage(ctx context.Context, v crawler.Variant, page int) (crawler.Result, error) {
	first, err := o.registry.FirstPage(v)
	if err != nil {
		return crawler.Result{Variant: v}, err
	}
	if page < first {
		return crawler.Result{Variant: v}, fmt.Errorf("page %d is before the first %s page %d", page, v, first)
	}
	res, err := o.begin(v)
	if err != nil {
		return res, err
	}
	res.FirstPage, res.LastPage = page, page
	logger := o.logger.With(zap.String("crawl_id", res.CrawlID), zap.String("variant", string(v)))

	crawlCtx, cancel := o.withTimeout(ctx, o.cfg.CrawlTimeout)
	defer cancel()

	out := o.runPage(crawlCtx, res, page, logger)
	o.merge(&res, []pageSlot{{dispatched: true, outcome: out}})
	err = out.Err
	if err != nil && crawlCtx.Err() != nil && ctx.Err() == nil {
		res.TimedOut = true
		err = fmt.Errorf("%w: %w", crawler.ErrCrawlTimeout, err)
	}
	o.finishPage(&res, err, logger)
	return res, err
}

func (o *Orchestrator) begin(v crawler.Variant) (crawler.Result, error) {
	id, err := o.ids.NewID()
	if err != nil {
		return crawler.Result{Variant: v}, fmt.Errorf("crawl id: %w", err)
	}
	res := crawler.Result{
		CrawlID:   id,
		Variant:   v,
		StartedAt: o.clock.Now(),
		Records:   []crawler.Record{},
	}
	o.emit(progress.Event{
		CrawlID: id,
		TS:      res.StartedAt,
		Stage:   progress.StageCrawlStart,
		Variant: string(v),
	})
	return res, nil
}

type pageSlot struct {
	dispatched bool
	outcome    crawler.PageOutcome
}

// fanOut runs one pipeline per page with at most Concurrency in flight. Each
// goroutine writes only its own slot, so no locking is needed. Pages not yet
// dispatched when the crawl context ends stay undispatched.
func (o *Orchestrator) fanOut(ctx context.Context, res crawler.Result, logger *zap.Logger) []pageSlot {
	slots := make([]pageSlot, res.Pages())
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i := range slots {
		if ctx.Err() != nil {
			break
		}
		page := res.FirstPage + i
		slot := &slots[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slot.dispatched = true
			slot.outcome = o.runPage(ctx, res, page, logger)
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

func (o *Orchestrator) merge(res *crawler.Result, slots []pageSlot) {
	for i, s := range slots {
		page := res.FirstPage + i
		switch {
		case !s.dispatched:
			res.Skipped = append(res.Skipped, crawler.PageFailure{Page: page, Reason: "not dispatched before crawl deadline"})
		case s.outcome.Failed():
			res.Skipped = append(res.Skipped, crawler.PageFailure{Page: page, Reason: s.outcome.Err.Error()})
		default:
			if s.outcome.Empty {
				res.EmptyPages++
			}
			res.MalformedRows += s.outcome.Malformed
			res.Records = append(res.Records, s.outcome.Records...)
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, res *crawler.Result, err error, logger *zap.Logger) {
	res.FinishedAt = o.clock.Now()
	outcome := crawlOutcome(*res, err)
	o.emit(progress.Event{
		CrawlID: res.CrawlID,
		TS:      res.FinishedAt,
		Stage:   progress.StageCrawlDone,
		Variant: string(res.Variant),
		Records: len(res.Records),
		Outcome: outcome,
		Dur:     nonNegative(res.FinishedAt.Sub(res.StartedAt)),
		Note:    errNote(err),
	})

	fields := []zap.Field{
		zap.Int("pages", res.Pages()),
		zap.Int("records", len(res.Records)),
		zap.Int("skipped_pages", len(res.Skipped)),
		zap.Int("empty_pages", res.EmptyPages),
		zap.Int("malformed_rows", res.MalformedRows),
		zap.Bool("timed_out", res.TimedOut),
	}
	if outcome == progress.OutcomeFailed {
		logger.Error("crawl failed", append(fields, zap.Error(err))...)
	} else {
		logger.Info("crawl finished", fields...)
	}
	o.notify(ctx, *res, logger)
}

func (o *Orchestrator) finishPage(res *crawler.Result, err error, logger *zap.Logger) {
	res.FinishedAt = o.clock.Now()
	o.emit(progress.Event{
		CrawlID: res.CrawlID,
		TS:      res.FinishedAt,
		Stage:   progress.StageCrawlDone,
		Variant: string(res.Variant),
		Records: len(res.Records),
		Outcome: crawlOutcome(*res, err),
		Dur:     nonNegative(res.FinishedAt.Sub(res.StartedAt)),
		Note:    errNote(err),
	})
	logger.Debug("single page crawl finished",
		zap.Int("page", res.FirstPage),
		zap.Int("records", len(res.Records)),
		zap.Error(err),
	)
}

func crawlOutcome(res crawler.Result, err error) progress.Outcome {
	switch {
	case err != nil && !errors.Is(err, crawler.ErrCrawlTimeout):
		return progress.OutcomeFailed
	case res.Partial():
		return progress.OutcomePartial
	default:
		return progress.OutcomeOK
	}
}

func (o *Orchestrator) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.progress != nil {
		o.progress.Emit(evt)
	}
}

func errNote(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
