package loopz

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClock returns scripted readings.
type stubClock struct {
	ms uint64
	ns uint64
}

func (c *stubClock) Now() uint64    { return c.ms }
func (c *stubClock) HRTime() uint64 { return c.ns }

func (c *stubClock) set(ms, ns uint64) {
	c.ms, c.ns = ms, ns
}

// lineRecorder collects pushed lines, copying them as a host must.
type lineRecorder struct {
	lines []string
}

func (r *lineRecorder) push(line []byte) {
	r.lines = append(r.lines, string(line))
}

func TestSamplerRecordFormat(t *testing.T) {
	clock := &stubClock{}
	rec := &lineRecorder{}
	s := NewSampler(PhasePrepare, clock, rec.push)
	s.Arm()

	clock.set(1000, 500000)
	first := s.Invoke()
	assert.True(t, first.First)

	clock.set(1016, 516200000)
	second := s.Invoke()
	assert.False(t, second.First)
	assert.Equal(t, uint64(16), second.DeltaLoopMs)
	assert.Equal(t, uint64(16200000), second.DeltaHRNs)

	require.Len(t, rec.lines, 2)
	assert.Equal(t, "NodeEventLoop,Prepare,1000,500000,0,0\n", rec.lines[0])
	assert.Equal(t, "NodeEventLoop,Prepare,1016,516200000,16,16200000\n", rec.lines[1])
}

func TestSamplerCheckTag(t *testing.T) {
	clock := &stubClock{}
	rec := &lineRecorder{}
	s := NewSampler(PhaseCheck, clock, rec.push)
	s.Arm()

	clock.set(5, 7)
	s.Invoke()

	require.Len(t, rec.lines, 1)
	assert.Equal(t, "NodeEventLoop,Check__,5,7,0,0\n", rec.lines[0])
}

func TestSamplerDeltasUsePreviousInvocation(t *testing.T) {
	clock := &stubClock{}
	s := NewSampler(PhaseCheck, clock, nil)
	s.Arm()

	readings := []Sample{
		{LoopTimeMs: 10, HRTimeNs: 100},
		{LoopTimeMs: 13, HRTimeNs: 3100},
		{LoopTimeMs: 13, HRTimeNs: 3150},
		{LoopTimeMs: 40, HRTimeNs: 90000},
	}

	var prev Sample
	for i, r := range readings {
		clock.set(r.LoopTimeMs, r.HRTimeNs)
		got := s.Invoke()
		if i == 0 {
			assert.Zero(t, got.DeltaLoopMs, "first delta must be the sentinel")
			assert.Zero(t, got.DeltaHRNs, "first delta must be the sentinel")
		} else {
			assert.Equal(t, r.LoopTimeMs-prev.LoopTimeMs, got.DeltaLoopMs, "invocation %d", i)
			assert.Equal(t, r.HRTimeNs-prev.HRTimeNs, got.DeltaHRNs, "invocation %d", i)
		}
		prev = r
	}

	assert.Equal(t, SamplerState{First: false, PrevLoopTimeMs: 40, PrevHRTimeNs: 90000}, s.State())
}

func TestSamplerUnsignedWraparound(t *testing.T) {
	clock := &stubClock{}
	s := NewSampler(PhasePrepare, clock, nil)
	s.Arm()

	clock.set(100, 1000)
	s.Invoke()

	// Loop clock moved backwards by 3ms
	clock.set(97, 2000)
	got := s.Invoke()

	assert.Equal(t, uint64(math.MaxUint64-2), got.DeltaLoopMs)
	assert.Equal(t, uint64(1000), got.DeltaHRNs)
}

func TestSamplerStatusTransitions(t *testing.T) {
	loop := newStubLoop()
	s := NewSampler(PhaseCheck, loop, nil)
	assert.Equal(t, SamplerUnstarted, s.Status())

	require.NoError(t, s.Start(loop))
	assert.Equal(t, SamplerArmed, s.Status())
	assert.True(t, s.State().First)

	loop.fire(PhaseCheck)
	assert.Equal(t, SamplerSampling, s.Status())
	assert.False(t, s.State().First)

	loop.fire(PhaseCheck)
	assert.Equal(t, SamplerSampling, s.Status())

	require.NoError(t, s.Stop())
	assert.Equal(t, SamplerUnstarted, s.Status())
	assert.Equal(t, 0, loop.attached(PhaseCheck))

	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
}

func TestSamplerRestartRearms(t *testing.T) {
	loop := newStubLoop()
	rec := &lineRecorder{}
	s := NewSampler(PhasePrepare, loop, rec.push)

	require.NoError(t, s.Start(loop))
	loop.clock.set(1, 10)
	loop.fire(PhasePrepare)
	loop.clock.set(2, 20)
	loop.fire(PhasePrepare)
	require.NoError(t, s.Stop())

	require.NoError(t, s.Start(loop))
	loop.clock.set(50, 500)
	loop.fire(PhasePrepare)

	require.Len(t, rec.lines, 3)
	assert.Equal(t, "NodeEventLoop,Prepare,2,20,1,10\n", rec.lines[1])
	assert.Equal(t, "NodeEventLoop,Prepare,50,500,0,0\n", rec.lines[2])
}

func TestSamplerStartAttachFailure(t *testing.T) {
	loop := newStubLoop()
	loop.failOn[PhaseCheck] = ErrTooManyHooks
	s := NewSampler(PhaseCheck, loop, nil)

	err := s.Start(loop)
	require.ErrorIs(t, err, ErrTooManyHooks)
	assert.Equal(t, SamplerUnstarted, s.Status())
}

func TestSamplerUnstartedRecordsNothing(t *testing.T) {
	clock := &stubClock{}
	rec := &lineRecorder{}
	s := NewSampler(PhasePrepare, clock, rec.push)

	clock.set(10, 10)
	got := s.Invoke()
	assert.Equal(t, Record{Phase: PhasePrepare}, got)
	assert.Empty(t, rec.lines)

	s.Arm()
	s.Invoke()
	assert.ErrorIs(t, s.Stop(), ErrNotStarted, "armed without a loop holds no hook")

	// A callback already dispatched when Stop ran must not push
	s.Invoke()
	assert.Len(t, rec.lines, 1)
}

func TestSamplerDoubleStart(t *testing.T) {
	loop, clock := newFakeLoop()
	defer loop.Close()

	rec := &lineRecorder{}
	s := NewSampler(PhasePrepare, loop, rec.push)

	require.NoError(t, s.Start(loop))
	assert.ErrorIs(t, s.Start(loop), ErrAlreadyStarted)
	assert.Equal(t, int64(1), loop.Metrics().RegisteredHooks)

	ctx := context.Background()
	require.NoError(t, loop.RunOnce(ctx))
	assert.Len(t, rec.lines, 1, "one record per iteration")

	clock.Advance(time.Millisecond)
	require.NoError(t, loop.RunOnce(ctx))
	assert.Len(t, rec.lines, 2)

	require.NoError(t, s.Stop())
	assert.Equal(t, int64(0), loop.Metrics().RegisteredHooks)

	// Stopped samplers can be started again
	require.NoError(t, s.Start(loop))
	require.NoError(t, s.Stop())
	assert.Equal(t, int64(0), loop.Metrics().RegisteredHooks)
}

func TestSamplerReusesBuffer(t *testing.T) {
	clock := &stubClock{}
	var seen [][]byte
	s := NewSampler(PhaseCheck, clock, func(line []byte) { seen = append(seen, line) })
	s.Arm()

	clock.set(1, 1)
	s.Invoke()
	clock.set(2, 2)
	s.Invoke()

	require.Len(t, seen, 2)
	// Both calls received the same backing array, so the first slice now
	// shows the second record. Hosts must copy.
	assert.Same(t, &seen[0][0], &seen[1][0])
}

func BenchmarkSamplerInvoke(b *testing.B) {
	clock := &stubClock{}
	s := NewSampler(PhasePrepare, clock, func([]byte) {})
	s.Arm()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.ms += 1
		clock.ns += 1000000
		s.Invoke()
	}
}
