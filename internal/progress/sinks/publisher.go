package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/progress"
)

// Notification is the JSON payload published for notable events.
type Notification struct {
	Stage     string    `json:"stage"`
	ID        string    `json:"id,omitempty"`
	Component string    `json:"component,omitempty"`
	Code      int       `json:"code"`
	Msg       string    `json:"msg,omitempty"`
	Error     string    `json:"error,omitempty"`
	Format    string    `json:"format,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	DurMS     int64     `json:"durationMs"`
	TS        time.Time `json:"ts"`
}

// PublisherSink publishes export failures and batch summaries to a topic.
// Successful per-task events stay off the bus.
type PublisherSink struct {
	pub    export.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublisherSink constructs a sink publishing to topic.
func NewPublisherSink(pub export.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes one message per export-error, after-export-all and
// renderer-error event. The first failure aborts the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageExportError, progress.StageAfterExportAll, progress.StageRendererError:
		default:
			continue
		}
		n := Notification{
			Stage:     string(evt.Stage),
			ID:        evt.ID,
			Component: evt.Component,
			Code:      int(evt.Code),
			Msg:       evt.Msg,
			Error:     evt.Note,
			Format:    evt.Format,
			Bytes:     evt.Bytes,
			Digest:    evt.Digest,
			DurMS:     evt.Dur.Milliseconds(),
			TS:        evt.TS.UTC(),
		}
		id, err := s.pub.Publish(ctx, s.topic, n)
		if err != nil {
			return fmt.Errorf("publish %s notification: %w", evt.Stage, err)
		}
		s.logger.Debug("notification published", zap.String("stage", n.Stage), zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
