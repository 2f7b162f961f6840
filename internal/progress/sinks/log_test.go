package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/cert-registry-crawler/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: "c1", TS: time.Now(), Stage: progress.StagePageDone, Variant: "regular", Page: 3, Records: 50},
		{CrawlID: "c1", TS: time.Now(), Stage: progress.StagePageFailed, Variant: "regular", Page: 4, Note: "status 503"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, int64(3), entries[0].ContextMap()["page"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "status 503", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
