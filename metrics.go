package loopz

// Metrics provides observability data for an EventLoop.
// Counter fields are updated atomically; capacity fields are static.
type Metrics struct {
	// Loop Counters
	Iterations  int64 // Completed or in-progress iterations
	TimersFired int64 // Timer callbacks executed

	// Task Queue
	QueueDepth     int64 // Submitted tasks not yet run
	QueueCapacity  int64 // Submit queue capacity (static)
	TasksProcessed int64 // Submitted tasks run in the poll phase
	TasksRejected  int64 // Submits rejected with ErrQueueFull

	// Phase Callbacks
	CallbacksRun      int64 // Idle/prepare/check callback invocations
	CallbacksPanicked int64 // Callbacks (of any kind) that panicked

	// Registration
	RegisteredHooks int64 // Callbacks currently attached (requires mutex read)
}
