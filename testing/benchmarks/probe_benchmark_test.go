package benchmarks

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/loopz"
)

type discardHost struct{}

func (discardHost) PushData(*loopz.MonitorData)     {}
func (discardHost) LogMessage(loopz.Level, string) {}

func newLoop(b *testing.B) (*loopz.EventLoop, *clockz.FakeClock) {
	b.Helper()
	clock := clockz.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return loopz.NewEventLoop(loopz.WithClock(clock)), clock
}

// BenchmarkIterationBaseline measures an empty loop iteration.
func BenchmarkIterationBaseline(b *testing.B) {
	loop, clock := newLoop(b)
	defer loop.Close()
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Advance(time.Millisecond)
		_ = loop.RunOnce(ctx)
	}
}

// BenchmarkIterationWithProbe measures the probe's per-iteration cost on
// top of the baseline.
func BenchmarkIterationWithProbe(b *testing.B) {
	loop, clock := newLoop(b)
	defer loop.Close()
	ctx := context.Background()

	p := loopz.NewPlugin(loop)
	p.RegisterSource(discardHost{}, 0)
	if err := p.Start(); err != nil {
		b.Fatal(err)
	}
	defer p.Stop()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Advance(time.Millisecond)
		_ = loop.RunOnce(ctx)
	}
}

// BenchmarkStartStop measures attaching and detaching both samplers.
func BenchmarkStartStop(b *testing.B) {
	loop, _ := newLoop(b)
	defer loop.Close()

	p := loopz.NewPlugin(loop)
	p.RegisterSource(discardHost{}, 0)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.Start(); err != nil {
			b.Fatal(err)
		}
		if err := p.Stop(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseRecord(b *testing.B) {
	line := "NodeEventLoop,Prepare,1016,516200000,16,16200000\n"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := loopz.ParseRecord(line); err != nil {
			b.Fatal(err)
		}
	}
}
