package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/cert-registry-crawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the crawl,
// page, and record collectors.
type PrometheusSink struct {
	crawls        *prometheus.CounterVec
	crawlsRunning prometheus.Gauge
	crawlDuration *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	records      *prometheus.CounterVec
	malformed    *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec

	tracker *crawlTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_crawls_total",
			Help: "Completed crawls partitioned by variant and result.",
		}, []string{"variant", "result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "registry_crawls_running",
			Help: "Current number of running crawls.",
		}),
		crawlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_crawl_duration_seconds",
			Help:    "Wall time per completed crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"variant"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_pages_total",
			Help: "Page pipelines partitioned by variant and outcome.",
		}, []string{"variant", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_records_total",
			Help: "Normalized records produced per variant.",
		}, []string{"variant"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_malformed_rows_total",
			Help: "Table rows dropped by the normalizer per variant.",
		}, []string{"variant"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_page_duration_seconds",
			Help:    "Fetch, extract, and normalize latency per page.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
		}, []string{"variant"}),
		tracker: newCrawlTracker(),
	}
	var err error
	if s.crawls, err = register(reg, s.crawls); err != nil {
		return nil, err
	}
	if s.crawlsRunning, err = register(reg, s.crawlsRunning); err != nil {
		return nil, err
	}
	if s.crawlDuration, err = register(reg, s.crawlDuration); err != nil {
		return nil, err
	}
	if s.pages, err = register(reg, s.pages); err != nil {
		return nil, err
	}
	if s.records, err = register(reg, s.records); err != nil {
		return nil, err
	}
	if s.malformed, err = register(reg, s.malformed); err != nil {
		return nil, err
	}
	if s.pageDuration, err = register(reg, s.pageDuration); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, returning the collector already registered under
// the same descriptor when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume updates the collectors from batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCrawlStart:
		if s.tracker.start(evt.CrawlID) {
			s.crawlsRunning.Inc()
		}
	case progress.StageCrawlDone:
		s.crawls.WithLabelValues(evt.Variant, string(evt.Outcome)).Inc()
		if evt.Dur > 0 {
			s.crawlDuration.WithLabelValues(evt.Variant).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.CrawlID) {
			s.crawlsRunning.Dec()
		}
	case progress.StagePageDone, progress.StagePageFailed:
		s.handlePageEvent(evt)
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	outcome := evt.Outcome
	if outcome == "" {
		outcome = progress.OutcomeOK
		if evt.Stage == progress.StagePageFailed {
			outcome = progress.OutcomeFailed
		}
	}
	s.pages.WithLabelValues(evt.Variant, string(outcome)).Inc()
	if evt.Records > 0 {
		s.records.WithLabelValues(evt.Variant).Add(float64(evt.Records))
	}
	if evt.Malformed > 0 {
		s.malformed.WithLabelValues(evt.Variant).Add(float64(evt.Malformed))
	}
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(evt.Variant).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[string]struct{})}
}

func (t *crawlTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
