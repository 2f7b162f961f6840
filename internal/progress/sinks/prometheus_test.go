package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cert-registry-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms move with crawl events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	crawlID := uuid.NewString()
	now := time.Now()
	batch := []progress.Event{
		{CrawlID: crawlID, TS: now, Stage: progress.StageCrawlStart, Variant: "regular"},
		{
			CrawlID: crawlID, TS: now, Stage: progress.StagePageDone, Variant: "regular",
			Page: 0, Records: 50, Malformed: 2, Bytes: 4096, Outcome: progress.OutcomeOK, Dur: 300 * time.Millisecond,
		},
		{
			CrawlID: crawlID, TS: now, Stage: progress.StagePageDone, Variant: "regular",
			Page: 1, Outcome: progress.OutcomeEmpty, Dur: 100 * time.Millisecond,
		},
		{
			CrawlID: crawlID, TS: now, Stage: progress.StagePageFailed, Variant: "regular",
			Page: 2, Note: "status 503",
		},
		{
			CrawlID: crawlID, TS: now, Stage: progress.StageCrawlDone, Variant: "regular",
			Records: 50, Outcome: progress.OutcomePartial, Dur: 15 * time.Second,
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawls.WithLabelValues("regular", "partial")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawlsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("regular", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("regular", "empty")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("regular", "failed")))
	require.InDelta(t, 50.0, testutil.ToFloat64(sink.records.WithLabelValues("regular")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.malformed.WithLabelValues("regular")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.crawlDuration, "registry_crawl_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.pageDuration, "registry_page_duration_seconds"))
}

func TestPrometheusSinkTracksRunningCrawls(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	a, b := uuid.NewString(), uuid.NewString()
	ctx := context.Background()
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{CrawlID: a, TS: time.Now(), Stage: progress.StageCrawlStart, Variant: "regular"},
		{CrawlID: a, TS: time.Now(), Stage: progress.StageCrawlStart, Variant: "regular"},
		{CrawlID: b, TS: time.Now(), Stage: progress.StageCrawlStart, Variant: "grand_master"},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.crawlsRunning))

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{CrawlID: a, TS: time.Now(), Stage: progress.StageCrawlDone, Variant: "regular", Outcome: progress.OutcomeOK},
		{CrawlID: a, TS: time.Now(), Stage: progress.StageCrawlDone, Variant: "regular", Outcome: progress.OutcomeOK},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsRunning))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestPrometheusSinkReusesRegisteredCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	second, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{{CrawlID: "c1", Stage: progress.StageCrawlDone, Variant: "grand_master", Outcome: progress.OutcomeOK}}
	require.NoError(t, second.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(first.crawls.WithLabelValues("grand_master", "ok")))
}
