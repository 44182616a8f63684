package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/figure-exporter/internal/progress"
	"github.com/JakeFAU/figure-exporter/internal/publisher/memory"
)

func TestPublisherSinkPublishesFailuresAndSummaries(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublisherSink(pub, "exports", nil)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{ID: "a", Stage: progress.StageAfterExport, TS: now, Code: 200},
		{ID: "b", Stage: progress.StageExportError, TS: now, Code: 530, Msg: "image conversion error"},
		{Stage: progress.StageAfterExportAll, TS: now, Code: 1, Msg: "failed or incomplete task(s)", Dur: time.Second},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "exports", msgs[0].Topic)
	first := msgs[0].Payload.(Notification)
	require.Equal(t, "export-error", first.Stage)
	require.Equal(t, 530, first.Code)
	second := msgs[1].Payload.(Notification)
	require.Equal(t, "after-export-all", second.Stage)
	require.Equal(t, int64(1000), second.DurMS)
}

func TestPublisherSinkSurfacesErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailNext(errors.New("unavailable"))
	sink := NewPublisherSink(pub, "exports", nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{Stage: progress.StageAfterExportAll, TS: time.Now()},
	})
	require.ErrorContains(t, err, "unavailable")
}
