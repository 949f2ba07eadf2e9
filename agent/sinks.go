package agent

import (
	"fmt"
	"io"
	"sync"

	events "github.com/docker/go-events"
)

// WriterSink writes the payload of every Event to an io.Writer, one record
// per write. Records already carry their line terminator.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewWriterSink creates a sink writing to w. Closing the sink closes w when
// it is an io.Closer.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Write implements events.Sink.
func (s *WriterSink) Write(event events.Event) error {
	ev, ok := event.(Event)
	if !ok {
		return fmt.Errorf("writer sink: unexpected event type %T", event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return events.ErrSinkClosed
	}
	_, err := s.w.Write(ev.Data)
	return err
}

// Close implements events.Sink.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewAsyncSink buffers events in an unbounded queue in front of dst, so a
// slow destination never holds up the broadcaster.
func NewAsyncSink(dst events.Sink) events.Sink {
	return events.NewQueue(dst)
}

// ProviderFilter passes only events pushed by the given providers to dst.
func ProviderFilter(dst events.Sink, providers ...uint32) events.Sink {
	allowed := make(map[uint32]struct{}, len(providers))
	for _, p := range providers {
		allowed[p] = struct{}{}
	}
	return events.NewFilter(dst, events.MatcherFunc(func(event events.Event) bool {
		ev, ok := event.(Event)
		if !ok {
			return false
		}
		_, match := allowed[ev.ProviderID]
		return match
	}))
}

// countingSink records delivery failures of the sink it wraps.
type countingSink struct {
	dst   events.Sink
	agent *Agent
}

func (s *countingSink) Write(event events.Event) error {
	err := s.dst.Write(event)
	if err != nil && err != events.ErrSinkClosed {
		s.agent.metrics.sinkErrors.Inc()
		s.agent.logger.WithError(err).Warn("sink write failed")
	}
	return err
}

func (s *countingSink) Close() error {
	return s.dst.Close()
}
