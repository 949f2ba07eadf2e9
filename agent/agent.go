// Package agent is a host for loopz plugins.
//
// The Agent hands out provider identities, drives the plugin lifecycle,
// copies every pushed record into an Event and fans it out to go-events
// sinks. Plugin log messages go to containerd/log.
//
// Basic Usage:
//
//	out := agent.NewWriterSink(os.Stdout)
//	a := agent.New(agent.WithSink(out))
//	defer a.Close()
//
//	a.Register(loopz.NewPlugin(loop))
//	if err := a.Start(ctx); err != nil {
//		return err
//	}
//	defer a.Stop(ctx)
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/containerd/log"
	events "github.com/docker/go-events"
	metrics "github.com/docker/go-metrics"

	"github.com/zoobzio/loopz"
)

// Plugin is the set of entry points a host calls on a plugin.
type Plugin interface {
	RegisterSource(host loopz.Host, providerID uint32) *loopz.SourceDescriptor
	Init(properties string) error
	Start() error
	Stop() error
	Version() string
}

// Event is a pushed record as delivered to sinks. Data is owned by the
// event and safe to retain.
type Event struct {
	ProviderID uint32
	SourceID   uint32
	Source     string
	Persistent bool
	Data       []byte
}

// Option configures an Agent during creation.
type Option func(*config)

type config struct {
	sinks      []events.Sink
	properties string
	logger     *log.Entry
	namespace  *metrics.Namespace
}

// WithSink adds a destination for pushed records. May be repeated.
func WithSink(sink events.Sink) Option {
	return func(c *config) {
		c.sinks = append(c.sinks, sink)
	}
}

// WithProperties sets the properties string passed to every plugin's Init.
func WithProperties(properties string) Option {
	return func(c *config) {
		c.properties = properties
	}
}

// WithLogger sets the entry plugin and agent messages are logged through.
// Default is log.L.
func WithLogger(logger *log.Entry) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithNamespace sets the metrics namespace the agent's counters are created
// in. The caller registers it. Default is an unregistered "loopz_agent"
// namespace.
func WithNamespace(ns *metrics.Namespace) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// registration is a plugin the agent knows about.
type registration struct {
	plugin     Plugin
	providerID uint32
	source     *loopz.SourceDescriptor
	started    bool
}

// Agent hosts plugins and implements loopz.Host for them.
//
// Thread Safety:
// PushData and LogMessage may be called from any goroutine, including loop
// goroutines of several plugins at once. Lifecycle methods are serialized.
type Agent struct {
	logger      *log.Entry
	properties  string
	broadcaster *events.Broadcaster
	metrics     *agentMetrics

	// lifecycle serializes Start and Stop and guards registration.started.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	plugins []*registration
	sources map[uint32]string
	closed  bool
}

// New creates an agent delivering records to the configured sinks.
func New(opts ...Option) *Agent {
	cfg := config{
		logger: log.L,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.namespace == nil {
		cfg.namespace = metrics.NewNamespace("loopz", "agent", nil)
	}

	a := &Agent{
		logger:     cfg.logger,
		properties: cfg.properties,
		metrics:    newAgentMetrics(cfg.namespace),
		sources:    make(map[uint32]string),
	}

	sinks := make([]events.Sink, 0, len(cfg.sinks))
	for _, s := range cfg.sinks {
		sinks = append(sinks, &countingSink{dst: s, agent: a})
	}
	a.broadcaster = events.NewBroadcaster(sinks...)
	return a
}

// Register assigns the next provider identity to p and registers its
// push source. Identities start at 0.
func (a *Agent) Register(p Plugin) uint32 {
	a.mu.Lock()
	id := uint32(len(a.plugins))
	reg := &registration{plugin: p, providerID: id}
	a.plugins = append(a.plugins, reg)
	a.mu.Unlock()

	// RegisterSource logs through the agent, so it runs unlocked.
	src := p.RegisterSource(a, id)

	a.mu.Lock()
	reg.source = src
	if src != nil {
		a.sources[id] = src.Name
	}
	a.mu.Unlock()

	a.logger.WithFields(log.Fields{
		"provider": id,
		"source":   sourceName(src),
		"version":  p.Version(),
	}).Debug("plugin registered")
	return id
}

// Sources returns the descriptors of every registered push source.
func (a *Agent) Sources() []loopz.SourceDescriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]loopz.SourceDescriptor, 0, len(a.plugins))
	for _, reg := range a.plugins {
		if reg.source != nil {
			out = append(out, *reg.source)
		}
	}
	return out
}

// Start runs Init and then Start on every registered plugin that is not
// running. Failures are logged with the plugin's status code and joined into
// the returned error; the remaining plugins are still started.
func (a *Agent) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	var errs []error
	for _, reg := range a.snapshot() {
		if reg.started {
			continue
		}
		entry := a.pluginLogger(ctx, reg)

		if err := reg.plugin.Init(a.properties); err != nil {
			entry.WithError(err).WithField("status", Status(err)).Warn("plugin init failed")
			errs = append(errs, fmt.Errorf("init provider %d: %w", reg.providerID, err))
			continue
		}
		if err := reg.plugin.Start(); err != nil {
			entry.WithError(err).WithField("status", Status(err)).Warn("plugin start failed")
			errs = append(errs, fmt.Errorf("start provider %d: %w", reg.providerID, err))
			continue
		}

		reg.started = true
		entry.Info("plugin started")
	}
	return errors.Join(errs...)
}

// Stop stops every running plugin, in reverse registration order.
func (a *Agent) Stop(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	regs := a.snapshot()

	var errs []error
	for i := len(regs) - 1; i >= 0; i-- {
		reg := regs[i]
		if !reg.started {
			continue
		}
		entry := a.pluginLogger(ctx, reg)

		err := reg.plugin.Stop()
		reg.started = false

		if err != nil {
			entry.WithError(err).WithField("status", Status(err)).Warn("plugin stop failed")
			errs = append(errs, fmt.Errorf("stop provider %d: %w", reg.providerID, err))
			continue
		}
		entry.Info("plugin stopped")
	}
	return errors.Join(errs...)
}

// Close shuts down delivery. Records already accepted are written before the
// sinks are closed. Pushes after Close are dropped.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return events.ErrSinkClosed
	}
	a.closed = true
	a.mu.Unlock()

	return a.broadcaster.Close()
}

// PushData implements loopz.Host. The payload is copied before PushData
// returns. Delivery errors are logged and counted, never reported back.
func (a *Agent) PushData(data *loopz.MonitorData) {
	if data == nil {
		return
	}

	a.mu.RLock()
	closed := a.closed
	source := a.sources[data.ProviderID]
	a.mu.RUnlock()
	if closed {
		return
	}

	size := int(data.Size)
	if size > len(data.Data) {
		size = len(data.Data)
	}
	payload := make([]byte, size)
	copy(payload, data.Data[:size])

	ev := Event{
		ProviderID: data.ProviderID,
		SourceID:   data.SourceID,
		Source:     source,
		Persistent: data.Persistent,
		Data:       payload,
	}
	if err := a.broadcaster.Write(ev); err != nil {
		// Close won the race with this push
		if errors.Is(err, events.ErrSinkClosed) {
			return
		}
		a.metrics.sinkErrors.Inc()
		a.logger.WithError(err).WithField("provider", data.ProviderID).Debug("record dropped")
		return
	}
	a.metrics.recordsPushed.WithValues(source).Inc()
	a.metrics.bytesPushed.WithValues(source).Inc(float64(size))
}

// LogMessage implements loopz.Host.
func (a *Agent) LogMessage(level loopz.Level, msg string) {
	entry := a.logger.WithField("plugin_level", level.String())
	switch level {
	case loopz.LevelNone:
		return
	case loopz.LevelWarning:
		entry.Warn(msg)
	case loopz.LevelInfo:
		entry.Info(msg)
	case loopz.LevelFine, loopz.LevelFinest:
		entry.Debug(msg)
	default:
		entry.Trace(msg)
	}
}

func (a *Agent) snapshot() []*registration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	regs := make([]*registration, len(a.plugins))
	copy(regs, a.plugins)
	return regs
}

func (a *Agent) pluginLogger(ctx context.Context, reg *registration) *log.Entry {
	return a.logger.WithContext(ctx).WithFields(log.Fields{
		"provider": reg.providerID,
		"source":   sourceName(reg.source),
	})
}

// Status maps an entry point result onto the host's integer convention:
// 0 for success, 1 for failure.
func Status(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

func sourceName(src *loopz.SourceDescriptor) string {
	if src == nil {
		return ""
	}
	return src.Name
}

// Compile-time interface checks
var (
	_ loopz.Host = (*Agent)(nil)
	_ Plugin     = (*loopz.Plugin)(nil)
)
