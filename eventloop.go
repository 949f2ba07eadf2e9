package loopz

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
	"github.com/zoobzio/clockz"
)

// Option configures an EventLoop during creation.
type Option func(*config)

type config struct {
	clock     clockz.Clock
	maxHooks  int
	queueSize int
}

// WithClock sets the clock the loop derives both time readings from.
// Default is clockz.RealClock. Use clockz.FakeClock for deterministic tests.
func WithClock(clock clockz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithMaxHooks caps the number of callbacks attached to a single phase.
// Default is 100.
func WithMaxHooks(n int) Option {
	return func(c *config) {
		c.maxHooks = n
	}
}

// WithTaskQueueSize sets the capacity of the Submit queue. Default is 1024.
func WithTaskQueueSize(n int) Option {
	return func(c *config) {
		c.queueSize = n
	}
}

// maxTasksPerPoll bounds the tasks run in one poll phase so a flood of
// submissions cannot starve the Check phase.
const maxTasksPerPoll = 1024

// EventLoop is a single-goroutine cooperative event loop.
//
// Each iteration runs, in order:
//
//	update time -> timers -> idle -> prepare -> poll -> update time -> check
//
// Poll runs submitted tasks and blocks until a task arrives, the next timer
// is due, or the loop is stopped. Attached idle callbacks keep poll from
// blocking.
//
// Thread Safety:
// Submit, ScheduleTimer, Attach, Unhook, Metrics and Close are safe for
// concurrent use. Callbacks always run on the goroutine executing Run.
type EventLoop struct {
	clock  clockz.Clock
	anchor time.Time

	// nowMs is the cached loop time, refreshed twice per iteration.
	nowMs atomic.Uint64

	mu         sync.RWMutex
	hooks      map[Phase][]hookEntry
	maxHooks   int
	totalHooks int
	closed     bool

	tasks chan func()

	timersMu sync.Mutex
	timers   timerHeap
	timerSeq uint64

	wake      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool

	metrics Metrics
}

// hookEntry is a callback attached to a phase.
type hookEntry struct {
	id     string
	fn     func()
	active *atomic.Bool
}

// NewEventLoop creates a loop. Its time origin is the moment of creation.
func NewEventLoop(opts ...Option) *EventLoop {
	cfg := config{
		clock:     clockz.RealClock,
		maxHooks:  100,
		queueSize: 1024,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &EventLoop{
		clock:    cfg.clock,
		anchor:   cfg.clock.Now(),
		hooks:    make(map[Phase][]hookEntry),
		maxHooks: cfg.maxHooks,
		tasks:    make(chan func(), cfg.queueSize),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	l.metrics.QueueCapacity = int64(cfg.queueSize)
	return l
}

// Now returns the cached loop time in milliseconds since creation.
func (l *EventLoop) Now() uint64 {
	return l.nowMs.Load()
}

// HRTime returns nanoseconds since creation, read from the clock on every
// call.
func (l *EventLoop) HRTime() uint64 {
	return uint64(l.elapsed())
}

// UpdateTime refreshes the cached loop time.
func (l *EventLoop) UpdateTime() {
	l.nowMs.Store(uint64(l.elapsed() / time.Millisecond))
}

func (l *EventLoop) elapsed() time.Duration {
	d := l.clock.Now().Sub(l.anchor)
	if d < 0 {
		return 0
	}
	return d
}

// Attach registers fn to run once per iteration at phase.
func (l *EventLoop) Attach(phase Phase, fn func()) (*Hook, error) {
	if !phase.attachable() {
		return nil, fmt.Errorf("%w: %s", ErrPhaseNotAttachable, phase)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLoopClosed
	}
	if len(l.hooks[phase]) >= l.maxHooks {
		return nil, ErrTooManyHooks
	}

	entry := hookEntry{
		id:     l.generateID(),
		fn:     fn,
		active: new(atomic.Bool),
	}
	entry.active.Store(true)
	l.hooks[phase] = append(l.hooks[phase], entry)
	l.totalHooks++

	return &Hook{
		phase: phase,
		unhook: func() error {
			return l.removeHook(phase, entry.id)
		},
	}, nil
}

// removeHook detaches a callback by ID.
func (l *EventLoop) removeHook(phase Phase, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hooks := l.hooks[phase]
	for i, h := range hooks {
		if h.id != id {
			continue
		}
		h.active.Store(false)
		// Copy so a slice snapshot held by a running phase is not shifted.
		remaining := make([]hookEntry, 0, len(hooks)-1)
		remaining = append(remaining, hooks[:i]...)
		remaining = append(remaining, hooks[i+1:]...)
		if len(remaining) == 0 {
			delete(l.hooks, phase)
		} else {
			l.hooks[phase] = remaining
		}
		l.totalHooks--
		return nil
	}
	return ErrHookNotFound
}

// Submit queues fn to run in the poll phase of the current or next
// iteration.
func (l *EventLoop) Submit(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrLoopClosed
	}

	select {
	case l.tasks <- fn:
		atomic.AddInt64(&l.metrics.QueueDepth, 1)
		return nil
	default:
		atomic.AddInt64(&l.metrics.TasksRejected, 1)
		return ErrQueueFull
	}
}

// ScheduleTimer runs fn in the timers phase of the first iteration that
// starts at least delay from now.
func (l *EventLoop) ScheduleTimer(delay time.Duration, fn func()) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrLoopClosed
	}

	l.timersMu.Lock()
	l.timerSeq++
	heap.Push(&l.timers, timer{when: l.clock.Now().Add(delay), seq: l.timerSeq, fn: fn})
	l.timersMu.Unlock()

	l.signal()
	return nil
}

// Run drives iterations until Close is called or ctx is done.
// It returns nil after Close and ctx.Err() on cancellation.
func (l *EventLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	for {
		select {
		case <-l.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		l.iterate(ctx, true)
	}
}

// RunOnce runs a single iteration whose poll phase does not block.
func (l *EventLoop) RunOnce(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	select {
	case <-l.stop:
		return ErrLoopClosed
	default:
	}
	l.iterate(ctx, false)
	return nil
}

// Close stops the loop. Run returns after the iteration in progress.
// Attached callbacks are dropped; their hooks report ErrHookNotFound.
func (l *EventLoop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.closed = true
	for _, hooks := range l.hooks {
		for _, h := range hooks {
			h.active.Store(false)
		}
	}
	l.hooks = make(map[Phase][]hookEntry)
	l.totalHooks = 0
	l.mu.Unlock()

	l.closeOnce.Do(func() { close(l.stop) })
	return nil
}

// Metrics returns a snapshot of the loop counters.
func (l *EventLoop) Metrics() Metrics {
	l.mu.RLock()
	registered := int64(l.totalHooks)
	l.mu.RUnlock()

	return Metrics{
		Iterations:        atomic.LoadInt64(&l.metrics.Iterations),
		TimersFired:       atomic.LoadInt64(&l.metrics.TimersFired),
		TasksProcessed:    atomic.LoadInt64(&l.metrics.TasksProcessed),
		TasksRejected:     atomic.LoadInt64(&l.metrics.TasksRejected),
		CallbacksRun:      atomic.LoadInt64(&l.metrics.CallbacksRun),
		CallbacksPanicked: atomic.LoadInt64(&l.metrics.CallbacksPanicked),
		QueueDepth:        atomic.LoadInt64(&l.metrics.QueueDepth),
		QueueCapacity:     l.metrics.QueueCapacity,
		RegisteredHooks:   registered,
	}
}

// iterate runs one loop iteration.
func (l *EventLoop) iterate(ctx context.Context, block bool) {
	atomic.AddInt64(&l.metrics.Iterations, 1)

	l.UpdateTime()
	l.runTimers(ctx)
	idle := l.runPhase(ctx, PhaseIdle)
	l.runPhase(ctx, PhasePrepare)
	l.poll(ctx, block && idle == 0)
	l.UpdateTime()
	l.runPhase(ctx, PhaseCheck)
}

// runPhase invokes the callbacks attached to phase and returns how many
// were attached when the phase began.
func (l *EventLoop) runPhase(ctx context.Context, phase Phase) int {
	l.mu.RLock()
	hooks := l.hooks[phase]
	l.mu.RUnlock()

	for _, h := range hooks {
		if !h.active.Load() {
			continue
		}
		atomic.AddInt64(&l.metrics.CallbacksRun, 1)
		l.safeExecute(ctx, phase, h.fn)
	}
	return len(hooks)
}

// runTimers fires every timer due at the start of the iteration.
func (l *EventLoop) runTimers(ctx context.Context) {
	now := l.clock.Now()

	var due []func()
	l.timersMu.Lock()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(timer)
		due = append(due, t.fn)
	}
	l.timersMu.Unlock()

	for _, fn := range due {
		atomic.AddInt64(&l.metrics.TimersFired, 1)
		l.safeExecute(ctx, PhaseTimers, fn)
	}
}

// poll runs queued tasks. With block set and nothing queued it waits for a
// task, the next timer, a wake-up, Close or ctx.
func (l *EventLoop) poll(ctx context.Context, block bool) {
	if l.drainTasks(ctx) > 0 || !block {
		return
	}

	var timeout <-chan time.Time
	if when, ok := l.nextTimer(); ok {
		d := when.Sub(l.clock.Now())
		if d <= 0 {
			return
		}
		timeout = l.clock.After(d)
	}

	select {
	case fn := <-l.tasks:
		l.runTask(ctx, fn)
		l.drainTasks(ctx)
	case <-timeout:
	case <-l.wake:
	case <-l.stop:
	case <-ctx.Done():
	}
}

func (l *EventLoop) drainTasks(ctx context.Context) int {
	n := 0
	for n < maxTasksPerPoll {
		select {
		case fn := <-l.tasks:
			l.runTask(ctx, fn)
			n++
		default:
			return n
		}
	}
	return n
}

func (l *EventLoop) runTask(ctx context.Context, fn func()) {
	atomic.AddInt64(&l.metrics.QueueDepth, -1)
	atomic.AddInt64(&l.metrics.TasksProcessed, 1)
	l.safeExecute(ctx, PhasePoll, fn)
}

func (l *EventLoop) nextTimer() (time.Time, bool) {
	l.timersMu.Lock()
	defer l.timersMu.Unlock()
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].when, true
}

// signal wakes a blocked poll without queuing work.
func (l *EventLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// safeExecute runs fn, recovering and logging a panic so one bad callback
// does not take the loop down.
func (l *EventLoop) safeExecute(ctx context.Context, phase Phase, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&l.metrics.CallbacksPanicked, 1)
			log.G(ctx).WithField("phase", phase.String()).Errorf("loop callback panicked: %v", r)
		}
	}()
	fn()
}

// generateID creates a random identifier for an attached callback.
func (l *EventLoop) generateID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", l.clock.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// timer is a scheduled callback. seq keeps timers with equal deadlines in
// scheduling order.
type timer struct {
	when time.Time
	seq  uint64
	fn   func()
}

// timerHeap is a min-heap of timers ordered by deadline.
type timerHeap []timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
