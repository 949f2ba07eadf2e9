package loopz

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// SourceName is the name of the plugin's single push source.
	SourceName = "eventloop_node"

	// Version is reported by Plugin.Version.
	Version = "1.0"

	// DefaultCapacity is the buffering hint advertised for the source.
	DefaultCapacity = 10240

	logPrefix = "[" + SourceName + "] "
)

// Plugin is the event-loop probe as seen by a host agent.
//
// The host drives it through five entry points, in order:
//
//	RegisterSource -> Init -> Start -> ... -> Stop
//
// Version may be called at any time.
//
// Thread Safety:
// Entry points are serialized by a mutex and may be called from any
// goroutine. Record production happens on the loop goroutine.
type Plugin struct {
	loop Loop

	mu         sync.Mutex
	host       Host
	providerID uint32
	registered bool
	prepare    *Sampler
	check      *Sampler
}

// NewPlugin creates a probe for loop. Nothing is attached until Start.
func NewPlugin(loop Loop) *Plugin {
	return &Plugin{loop: loop}
}

// RegisterSource records the host and the provider identity it assigned and
// describes the plugin's push source. It is called once, before Start.
func (p *Plugin) RegisterSource(host Host, providerID uint32) *SourceDescriptor {
	p.mu.Lock()
	p.host = host
	p.providerID = providerID
	p.registered = true
	p.mu.Unlock()

	host.LogMessage(LevelDebug, logPrefix+"Registering push sources")
	return &SourceDescriptor{
		Name:        SourceName,
		Description: "Description for " + SourceName,
		SourceID:    0,
		Capacity:    DefaultCapacity,
	}
}

// Init receives the host's properties. The host API is not guaranteed to be
// usable yet, so Init does nothing.
func (p *Plugin) Init(properties string) error {
	return nil
}

// Start arms fresh Prepare and Check samplers and attaches them to the loop,
// Prepare first.
func (p *Plugin) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.registered {
		return ErrNotRegistered
	}
	if p.prepare != nil || p.check != nil {
		return ErrAlreadyStarted
	}

	p.host.LogMessage(LevelDebug, logPrefix+"Starting")

	push := p.pushFunc()
	prepare := NewSampler(PhasePrepare, p.loop, push)
	if err := prepare.Start(p.loop); err != nil {
		return err
	}
	check := NewSampler(PhaseCheck, p.loop, push)
	if err := check.Start(p.loop); err != nil {
		_ = prepare.Stop()
		return err
	}

	p.prepare = prepare
	p.check = check
	return nil
}

// Stop detaches and releases both samplers. A later Start re-arms them, so
// its first records carry zero deltas.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.host != nil {
		p.host.LogMessage(LevelFine, logPrefix+"Stopping")
	}
	if p.prepare == nil && p.check == nil {
		return ErrNotStarted
	}

	var errs []error
	for _, s := range []*Sampler{p.prepare, p.check} {
		if s == nil {
			continue
		}
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("detach %s sampler: %w", s.Phase(), err))
		}
	}
	p.prepare = nil
	p.check = nil
	return errors.Join(errs...)
}

// Version returns the plugin version string.
func (p *Plugin) Version() string {
	return Version
}

// Samplers returns the active Prepare and Check samplers, or nils when the
// plugin is stopped.
func (p *Plugin) Samplers() (prepare, check *Sampler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepare, p.check
}

// pushFunc binds the host and provider identity captured at registration.
func (p *Plugin) pushFunc() PushFunc {
	host, provider := p.host, p.providerID
	return func(line []byte) {
		host.PushData(&MonitorData{
			Persistent: false,
			ProviderID: provider,
			SourceID:   0,
			Size:       uint32(len(line)),
			Data:       line,
		})
	}
}
