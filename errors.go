package loopz

import "errors"

// Hook Management Errors
//
// These errors are returned when attaching or detaching phase callbacks.

// ErrAlreadyUnhooked is returned when unhooking a handle that was already
// released or never attached.
var ErrAlreadyUnhooked = errors.New("hook already unhooked")

// ErrHookNotFound is returned when the loop no longer holds the callback
// a handle refers to, for example after the loop was closed.
var ErrHookNotFound = errors.New("hook not found")

// ErrPhaseNotAttachable is returned when attaching to a phase that does not
// run user callbacks (Timers, Poll).
var ErrPhaseNotAttachable = errors.New("phase does not accept callbacks")

// ErrTooManyHooks is returned when a phase already holds the maximum number
// of callbacks configured with WithMaxHooks.
var ErrTooManyHooks = errors.New("hook limit exceeded")

// Loop Lifecycle Errors

// ErrLoopClosed is returned by operations on a loop that was stopped.
var ErrLoopClosed = errors.New("loop is closed")

// ErrQueueFull is returned by Submit when the task queue is at capacity.
var ErrQueueFull = errors.New("task queue is full")

// ErrLoopRunning is returned when Run is called while the loop is already
// running.
var ErrLoopRunning = errors.New("loop is already running")

// Plugin Lifecycle Errors

// ErrNotRegistered is returned by Start when RegisterSource was never called,
// so there is no host to push records to.
var ErrNotRegistered = errors.New("plugin source not registered")

// ErrAlreadyStarted is returned by Start when the samplers are already
// attached.
var ErrAlreadyStarted = errors.New("plugin already started")

// ErrNotStarted is returned by Stop when no sampler is attached.
var ErrNotStarted = errors.New("plugin not started")

// Record Errors

// ErrMalformedRecord is returned by ParseRecord for lines that are not in
// the record wire format.
var ErrMalformedRecord = errors.New("malformed record")
