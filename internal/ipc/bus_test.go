package ipc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/figure-exporter/internal/export"
)

func TestBusDeliversExactlyOnce(t *testing.T) {
	t.Parallel()

	bus := New()
	ch, err := bus.Once("a")
	require.NoError(t, err)

	require.True(t, bus.Deliver("a", Reply{Result: export.RenderResult{ImgData: "first"}}))
	require.False(t, bus.Deliver("a", Reply{Result: export.RenderResult{ImgData: "second"}}))

	got := <-ch
	require.Equal(t, "first", got.Result.ImgData)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second reply %+v", extra)
	default:
	}
	require.Equal(t, int64(1), bus.Discarded())
	require.Zero(t, bus.Waiting())
}

func TestBusRejectsDuplicateListener(t *testing.T) {
	t.Parallel()

	bus := New()
	_, err := bus.Once("dup")
	require.NoError(t, err)
	_, err = bus.Once("dup")
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestBusAbandonDiscardsLateReply(t *testing.T) {
	t.Parallel()

	bus := New()
	ch, err := bus.Once("gone")
	require.NoError(t, err)
	bus.Abandon("gone")

	require.False(t, bus.Deliver("gone", Reply{Code: export.CodeRendererError}))
	select {
	case r := <-ch:
		t.Fatalf("abandoned listener received %+v", r)
	default:
	}
}

func TestBusRoutesByIDUnderConcurrency(t *testing.T) {
	t.Parallel()

	bus := New()
	const n = 100
	chans := make([]<-chan Reply, n)
	for i := 0; i < n; i++ {
		ch, err := bus.Once(fmt.Sprintf("id-%d", i))
		require.NoError(t, err)
		chans[i] = ch
	}

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bus.Deliver(fmt.Sprintf("id-%d", i), Reply{Result: export.RenderResult{ImgData: fmt.Sprint(i)}})
		}(i)
	}
	wg.Wait()

	for i, ch := range chans {
		r := <-ch
		require.Equal(t, fmt.Sprint(i), r.Result.ImgData)
	}
	require.Zero(t, bus.Waiting())
}
