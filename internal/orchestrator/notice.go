package orchestrator

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
)

// Notice is published after every CrawlAll.
type Notice struct {
	CrawlID      string          `json:"crawl_id"`
	Variant      crawler.Variant `json:"variant"`
	Records      int             `json:"records"`
	Pages        int             `json:"pages"`
	SkippedPages int             `json:"skipped_pages"`
	TimedOut     bool            `json:"timed_out"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// NewNotice summarizes res.
func NewNotice(res crawler.Result) Notice {
	return Notice{
		CrawlID:      res.CrawlID,
		Variant:      res.Variant,
		Records:      len(res.Records),
		Pages:        res.Pages(),
		SkippedPages: len(res.Skipped),
		TimedOut:     res.TimedOut,
		FinishedAt:   res.FinishedAt,
	}
}

// Attributes lets subscribers filter notices without decoding the body.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"crawl_id": n.CrawlID,
		"variant":  string(n.Variant),
		"partial":  strconv.FormatBool(n.TimedOut || n.SkippedPages > 0),
		"event":    "crawl.completed",
	}
}

// notify publishes the notice on a context detached from the crawl deadline.
func (o *Orchestrator) notify(ctx context.Context, res crawler.Result, logger *zap.Logger) {
	if o.publisher == nil || o.cfg.NotifyTopic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := o.publisher.Publish(pubCtx, o.cfg.NotifyTopic, NewNotice(res))
	if err != nil {
		logger.Warn("publish crawl notice failed", zap.String("topic", o.cfg.NotifyTopic), zap.Error(err))
		return
	}
	logger.Debug("published crawl notice", zap.String("message_id", id))
}
