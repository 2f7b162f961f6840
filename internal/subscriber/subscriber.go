package subscriber

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Config controls message delivery.
type Config struct {
	// MaxOutstandingMessages bounds concurrent triggers. Defaults to 1 so
	// crawls of the same registry never overlap.
	MaxOutstandingMessages int
}

// Subscriber consumes trigger messages from a Pub/Sub subscription.
type Subscriber struct {
	sub     *pubsub.Subscription
	trigger *Trigger
	logger  *zap.Logger
}

// New wraps sub. Receive settings are applied from cfg.
func New(sub *pubsub.Subscription, trigger *Trigger, cfg Config, logger *zap.Logger) (*Subscriber, error) {
	if sub == nil {
		return nil, errors.New("subscription is required")
	}
	if trigger == nil {
		return nil, errors.New("trigger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 1
	}
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = 1
	return &Subscriber{sub: sub, trigger: trigger, logger: logger}, nil
}

// Run blocks receiving messages until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("subscriber started", zap.String("subscription", s.sub.ID()))
	err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handle(ctx, msg.ID, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive %s: %w", s.sub.ID(), err)
	}
	s.logger.Info("subscriber stopped", zap.String("subscription", s.sub.ID()))
	return nil
}

// handle runs one trigger and reports whether the message should be acked.
// Crawl failures are logged and acked; only cancellation asks for redelivery.
func (s *Subscriber) handle(ctx context.Context, id string, data []byte) bool {
	logger := s.logger.With(zap.String("message_id", id))
	payload, ok := DecodePayload(data)
	if !ok {
		logger.Warn("invalid trigger payload, treating as empty", zap.ByteString("payload", data))
	}
	logger.Info("trigger received", zap.Bool("gm", payload.GrandMaster))

	report, err := s.trigger.Run(ctx)
	if err != nil {
		logger.Warn("trigger interrupted, message will be redelivered", zap.Error(err))
		return false
	}
	if report.Failed() {
		logger.Error("trigger finished with failures", zap.Any("report", report))
		return true
	}
	logger.Info("trigger finished", zap.Any("report", report))
	return true
}
