package loopz

import (
	"fmt"
	"sync"
)

// SamplerStatus is a sampler's position in its lifecycle:
//
//	Unstarted -> Armed -> Sampling -> Unstarted (on Stop)
type SamplerStatus int

const (
	SamplerUnstarted SamplerStatus = iota
	SamplerArmed                   // attached, no invocation yet
	SamplerSampling                // attached, at least one invocation
)

func (s SamplerStatus) String() string {
	switch s {
	case SamplerUnstarted:
		return "unstarted"
	case SamplerArmed:
		return "armed"
	case SamplerSampling:
		return "sampling"
	default:
		return "unknown"
	}
}

// SamplerState is the per-phase memory carried between invocations.
type SamplerState struct {
	First          bool
	PrevLoopTimeMs uint64
	PrevHRTimeNs   uint64
}

// observe folds sample into the state and returns the deltas against the
// previous sample. Subtraction is unsigned: a loop clock that moved
// backwards yields the wrapped value.
func (st *SamplerState) observe(sample Sample) (dLoop, dHR uint64, first bool) {
	if st.First {
		st.First = false
		first = true
	} else {
		dLoop = sample.LoopTimeMs - st.PrevLoopTimeMs
		dHR = sample.HRTimeNs - st.PrevHRTimeNs
	}
	st.PrevLoopTimeMs = sample.LoopTimeMs
	st.PrevHRTimeNs = sample.HRTimeNs
	return dLoop, dHR, first
}

// PushFunc receives a formatted record line. The buffer is reused after the
// call returns.
type PushFunc func(line []byte)

// Sampler measures one loop phase.
//
// Invoke runs on the loop goroutine. Stop may run on any goroutine; once it
// returns the sampler pushes nothing more.
type Sampler struct {
	phase Phase
	clock Clock
	push  PushFunc

	mu       sync.Mutex
	starting bool
	state    SamplerState
	status   SamplerStatus
	hook     *Hook
	buf      []byte
}

// NewSampler creates an unstarted sampler for phase, reading clock and
// handing every record line to push.
func NewSampler(phase Phase, clock Clock, push PushFunc) *Sampler {
	return &Sampler{
		phase: phase,
		clock: clock,
		push:  push,
		buf:   make([]byte, 0, 80),
	}
}

// Phase returns the sampled phase.
func (s *Sampler) Phase() Phase {
	return s.phase
}

// Status returns the lifecycle position.
func (s *Sampler) Status() SamplerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns a copy of the current sampler state.
func (s *Sampler) State() SamplerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm resets the state so the next invocation emits the zero-delta
// sentinel.
func (s *Sampler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SamplerState{First: true}
	s.status = SamplerArmed
}

// Start arms the sampler and attaches it to its phase on loop. A sampler
// that is already attached returns ErrAlreadyStarted.
func (s *Sampler) Start(loop Loop) error {
	s.mu.Lock()
	if s.hook != nil || s.starting {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.starting = true
	s.state = SamplerState{First: true}
	s.status = SamplerArmed
	s.mu.Unlock()

	hook, err := loop.Attach(s.phase, func() { s.Invoke() })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		s.status = SamplerUnstarted
		return fmt.Errorf("attach %s sampler: %w", s.phase, err)
	}
	s.hook = hook
	return nil
}

// Stop detaches the sampler and releases its hook. The sampler returns to
// Unstarted and must be re-armed before it samples again.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.status = SamplerUnstarted
	s.mu.Unlock()

	if hook == nil {
		return ErrNotStarted
	}
	return hook.Unhook()
}

// Invoke takes one measurement, pushes the record line and returns the
// record. An unstarted sampler records nothing and returns the zero Record
// for its phase.
func (s *Sampler) Invoke() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == SamplerUnstarted {
		return Record{Phase: s.phase}
	}

	var sample Sample
	sample.LoopTimeMs = s.clock.Now()
	sample.HRTimeNs = s.clock.HRTime()

	dLoop, dHR, first := s.state.observe(sample)
	if s.status == SamplerArmed {
		s.status = SamplerSampling
	}

	rec := Record{
		Phase:       s.phase,
		LoopTimeMs:  sample.LoopTimeMs,
		HRTimeNs:    sample.HRTimeNs,
		DeltaLoopMs: dLoop,
		DeltaHRNs:   dHR,
		First:       first,
	}

	s.buf = rec.AppendText(s.buf[:0])
	if s.push != nil {
		s.push(s.buf)
	}
	return rec
}
