package loopz

// Hook is the handle for a callback attached to a loop phase.
//
// A hook is owned by whoever attached it and released exactly once. After
// the first Unhook the handle is spent and further calls return
// ErrAlreadyUnhooked.
//
// Example:
//
//	hook, err := loop.Attach(loopz.PhaseCheck, onCheck)
//	if err != nil {
//	    return err
//	}
//	defer hook.Unhook()
type Hook struct {
	phase  Phase
	unhook func() error
}

// Phase returns the phase the hook was attached to.
func (h *Hook) Phase() Phase {
	return h.phase
}

// Active reports whether the hook has not been unhooked yet.
func (h *Hook) Active() bool {
	return h != nil && h.unhook != nil
}

// Unhook detaches the callback from its phase.
//
// Once Unhook returns, the loop will not start another invocation of the
// callback.
//
// Returns:
//   - nil: callback detached
//   - ErrAlreadyUnhooked: handle already released
//   - ErrHookNotFound: the loop no longer knows the callback (it was closed)
func (h *Hook) Unhook() error {
	if h == nil || h.unhook == nil {
		return ErrAlreadyUnhooked
	}
	err := h.unhook()
	h.unhook = nil
	return err
}
