package agent

import (
	"bytes"
	"errors"
	"testing"

	events "github.com/docker/go-events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingBuffer struct {
	bytes.Buffer
	closed int
}

func (b *closingBuffer) Close() error {
	b.closed++
	return nil
}

func TestWriterSink(t *testing.T) {
	out := &closingBuffer{}
	sink := NewWriterSink(out)

	require.NoError(t, sink.Write(Event{Data: []byte("NodeEventLoop,Prepare,1,1,0,0\n")}))
	require.NoError(t, sink.Write(Event{Data: []byte("NodeEventLoop,Check__,1,1,0,0\n")}))
	assert.Equal(t, "NodeEventLoop,Prepare,1,1,0,0\nNodeEventLoop,Check__,1,1,0,0\n", out.String())

	err := sink.Write("not an event")
	assert.Error(t, err)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, out.closed, "underlying writer is closed once")
	assert.ErrorIs(t, sink.Write(Event{Data: []byte("late\n")}), events.ErrSinkClosed)
}

func TestProviderFilter(t *testing.T) {
	dst := &captureSink{}
	sink := ProviderFilter(dst, 1, 3)

	for id := uint32(0); id < 4; id++ {
		require.NoError(t, sink.Write(Event{ProviderID: id}))
	}
	require.NoError(t, sink.Write("foreign"))

	got := dst.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].ProviderID)
	assert.Equal(t, uint32(3), got[1].ProviderID)
}

func TestAsyncSinkFlushesOnClose(t *testing.T) {
	dst := &captureSink{}
	sink := NewAsyncSink(dst)

	for i := 0; i < 100; i++ {
		require.NoError(t, sink.Write(Event{SourceID: uint32(i)}))
	}
	require.NoError(t, sink.Close())

	got := dst.snapshot()
	require.Len(t, got, 100)
	for i, ev := range got {
		assert.Equal(t, uint32(i), ev.SourceID)
	}
	assert.True(t, dst.closed)
}

func TestCountingSinkPassesErrorsThrough(t *testing.T) {
	a := New(WithLogger(quietLogger()))
	defer a.Close()

	boom := errors.New("boom")
	cs := &countingSink{dst: &captureSink{err: boom}, agent: a}
	assert.ErrorIs(t, cs.Write(Event{}), boom)

	cs = &countingSink{dst: &captureSink{err: events.ErrSinkClosed}, agent: a}
	assert.ErrorIs(t, cs.Write(Event{}), events.ErrSinkClosed)
}
