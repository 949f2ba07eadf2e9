package cli

import (
	"errors"
	"time"

	"github.com/containerd/log"
	metrics "github.com/docker/go-metrics"

	"github.com/zoobzio/loopz"
)

// every runs fn on the loop every d until the loop is closed.
func every(loop *loopz.EventLoop, d time.Duration, fn func()) error {
	var tick func()
	tick = func() {
		fn()
		if err := loop.ScheduleTimer(d, tick); err != nil && !errors.Is(err, loopz.ErrLoopClosed) {
			log.L.WithError(err).Warn("failed to reschedule timer")
		}
	}
	return loop.ScheduleTimer(d, tick)
}

// spin keeps the calling goroutine busy for d.
func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// loopGauges publishes EventLoop counters as Prometheus gauges.
type loopGauges struct {
	iterations      metrics.Gauge
	timersFired     metrics.Gauge
	queueDepth      metrics.Gauge
	tasksRejected   metrics.Gauge
	callbacksRun    metrics.Gauge
	callbacksPanics metrics.Gauge
	registeredHooks metrics.Gauge
}

func newLoopGauges(ns *metrics.Namespace) *loopGauges {
	return &loopGauges{
		iterations:      ns.NewGauge("iterations", "Loop iterations started", metrics.Total),
		timersFired:     ns.NewGauge("timers_fired", "Timer callbacks executed", metrics.Total),
		queueDepth:      ns.NewGauge("queue_depth", "Submitted tasks not yet run", ""),
		tasksRejected:   ns.NewGauge("tasks_rejected", "Submits rejected because the queue was full", metrics.Total),
		callbacksRun:    ns.NewGauge("callbacks_run", "Phase callback invocations", metrics.Total),
		callbacksPanics: ns.NewGauge("callbacks_panicked", "Callbacks that panicked", metrics.Total),
		registeredHooks: ns.NewGauge("registered_hooks", "Phase callbacks currently attached", ""),
	}
}

func (g *loopGauges) update(m loopz.Metrics) {
	g.iterations.Set(float64(m.Iterations))
	g.timersFired.Set(float64(m.TimersFired))
	g.queueDepth.Set(float64(m.QueueDepth))
	g.tasksRejected.Set(float64(m.TasksRejected))
	g.callbacksRun.Set(float64(m.CallbacksRun))
	g.callbacksPanics.Set(float64(m.CallbacksPanicked))
	g.registeredHooks.Set(float64(m.RegisteredHooks))
}
