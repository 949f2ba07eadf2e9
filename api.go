// Package loopz measures the scheduling latency of a cooperative event loop.
//
// Two samplers attach to fixed phases of every loop iteration (Prepare and
// Check). On each invocation a sampler reads the loop's cached
// "time since loop start" clock and a monotonic nanosecond clock, computes
// the delta against the previous invocation of the same phase, formats a
// one-line record and pushes it to the host synchronously.
//
// Basic Usage:
//
//	loop := loopz.NewEventLoop()
//	probe := loopz.NewPlugin(loop)
//
//	// The host assigns the provider identity and receives every record.
//	probe.RegisterSource(host, 0)
//	if err := probe.Start(); err != nil {
//		return err
//	}
//	defer probe.Stop()
//
//	go loop.Run(ctx)
//
// Every record has the form:
//
//	NodeEventLoop,<Phase>,<loopMs>,<hrtimeNs>,<deltaLoopMs>,<deltaHrtimeNs>
//
// where <Phase> is "Prepare" or "Check__". Delta fields are 0 on the first
// invocation of a phase after Start.
//
// Threading:
//
// Samplers run on the loop goroutine and own their state exclusively. Start
// and Stop may be called from any goroutine; each Start arms fresh sampler
// state.
package loopz

// Phase identifies a point in a loop iteration.
//
// Iteration order is fixed:
//
//	Timers -> Idle -> Prepare -> Poll -> Check
//
// Only Idle, Prepare and Check accept attached callbacks.
type Phase int

const (
	PhaseTimers Phase = iota
	PhaseIdle
	PhasePrepare
	PhasePoll
	PhaseCheck
)

// String returns the lower-case phase name used in logs and metric labels.
func (p Phase) String() string {
	switch p {
	case PhaseTimers:
		return "timers"
	case PhaseIdle:
		return "idle"
	case PhasePrepare:
		return "prepare"
	case PhasePoll:
		return "poll"
	case PhaseCheck:
		return "check"
	default:
		return "unknown"
	}
}

// Tag returns the fixed-width phase tag written into records.
// The check tag carries historical padding so both tags are seven bytes.
func (p Phase) Tag() string {
	switch p {
	case PhasePrepare:
		return "Prepare"
	case PhaseCheck:
		return "Check__"
	default:
		return ""
	}
}

// attachable reports whether callbacks may be attached to the phase.
func (p Phase) attachable() bool {
	return p == PhaseIdle || p == PhasePrepare || p == PhaseCheck
}

// Clock supplies the two readings a sampler captures on every invocation.
type Clock interface {
	// Now returns the loop's cached time in milliseconds since the loop
	// started. It is refreshed by the loop, not on every call.
	Now() uint64

	// HRTime returns a high-resolution monotonic reading in nanoseconds.
	HRTime() uint64
}

// Loop is the event-loop runtime the probe attaches to.
type Loop interface {
	Clock

	// Attach registers fn to run once per iteration at phase. The returned
	// hook detaches it.
	Attach(phase Phase, fn func()) (*Hook, error)
}
