package cli

import (
	"context"
	"testing"
	"time"

	metrics "github.com/docker/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/zoobzio/loopz"
)

func TestEveryReschedules(t *testing.T) {
	clock := clockz.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	loop := loopz.NewEventLoop(loopz.WithClock(clock))
	defer loop.Close()

	ticks := 0
	require.NoError(t, every(loop, 10*time.Millisecond, func() { ticks++ }))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Millisecond)
		require.NoError(t, loop.RunOnce(ctx))
	}
	assert.Equal(t, 3, ticks)
}

func TestEveryStopsWithLoop(t *testing.T) {
	loop := loopz.NewEventLoop()
	require.NoError(t, loop.Close())
	assert.ErrorIs(t, every(loop, time.Millisecond, func() {}), loopz.ErrLoopClosed)
}

func TestSpin(t *testing.T) {
	start := time.Now()
	spin(2 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)

	start = time.Now()
	spin(0)
	assert.Less(t, time.Since(start), time.Millisecond)
}

func TestLoopGaugesUpdate(t *testing.T) {
	g := newLoopGauges(metrics.NewNamespace("loopz_test", "loop", nil))
	assert.NotPanics(t, func() {
		g.update(loopz.Metrics{Iterations: 3, RegisteredHooks: 2})
	})
}
