package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/containerd/log"
	events "github.com/docker/go-events"
	metrics "github.com/docker/go-metrics"
	"github.com/spf13/cobra"

	"github.com/zoobzio/loopz"
	"github.com/zoobzio/loopz/agent"
	"github.com/zoobzio/loopz/internal/config"
)

const gaugeInterval = time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Probe a reference event loop under a synthetic workload",
		Long: `Run starts an event loop, attaches the probe to its prepare and check
phases and schedules a timer every --interval that keeps the loop busy for
--busy. Records are written to --output until --duration elapses or the
process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProbe(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringP("config", "c", "", "Configuration file (YAML)")
	cmd.Flags().Duration("duration", 0, "How long to run the loop")
	cmd.Flags().StringP("output", "o", "", "Record destination file, - for stdout")
	cmd.Flags().Bool("async", false, "Queue records in front of the output")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Duration("interval", 0, "Workload timer interval")
	cmd.Flags().Duration("busy", 0, "Time the workload keeps the loop busy per tick")
	return cmd
}

// loadRunConfig reads --config, or the defaults, and applies any flags the
// user set on top.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("duration") {
		cfg.Loop.Duration, _ = flags.GetDuration("duration")
	}
	if flags.Changed("output") {
		cfg.Output.Path, _ = flags.GetString("output")
	}
	if flags.Changed("async") {
		cfg.Output.Async, _ = flags.GetBool("async")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Address, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("interval") {
		cfg.Loop.Workload.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("busy") {
		cfg.Loop.Workload.Busy, _ = flags.GetDuration("busy")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) error {
	if err := log.SetLevel(cfg.Level); err != nil {
		return err
	}
	format := log.TextFormat
	if cfg.Format == "json" {
		format = log.JSONFormat
	}
	return log.SetFormat(format)
}

// runProbe runs the loop with the probe attached until cfg.Loop.Duration
// elapses or ctx is done. Reaching the deadline is a clean exit.
func runProbe(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Loop.Duration)
	defer cancel()
	logger := log.G(ctx)

	out, err := openOutput(cfg.Output.Path, stdout)
	if err != nil {
		return err
	}

	var sink events.Sink = agent.NewWriterSink(out)
	if cfg.Output.Async {
		sink = agent.NewAsyncSink(sink)
	}

	agentNS := metrics.NewNamespace("loopz", "agent", nil)
	loopNS := metrics.NewNamespace("loopz", "loop", nil)
	gauges := newLoopGauges(loopNS)

	host := agent.New(
		agent.WithSink(sink),
		agent.WithLogger(logger),
		agent.WithNamespace(agentNS),
	)
	defer host.Close()

	loop := loopz.NewEventLoop(
		loopz.WithMaxHooks(cfg.Loop.MaxHooks),
		loopz.WithTaskQueueSize(cfg.Loop.Queue),
	)
	defer loop.Close()

	if cfg.Metrics.Address != "" {
		shutdown, err := serveMetrics(ctx, cfg.Metrics.Address, agentNS, loopNS)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	host.Register(loopz.NewPlugin(loop))
	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("start probe: %w", err)
	}

	workload := cfg.Loop.Workload
	if err := every(loop, workload.Interval, func() { spin(workload.Busy) }); err != nil {
		return err
	}
	if err := every(loop, gaugeInterval, func() { gauges.update(loop.Metrics()) }); err != nil {
		return err
	}

	logger.WithFields(log.Fields{
		"duration": cfg.Loop.Duration,
		"interval": workload.Interval,
		"busy":     workload.Busy,
		"output":   cfg.Output.Path,
	}).Info("loop running")

	runErr := loop.Run(ctx)
	if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	stopErr := host.Stop(context.WithoutCancel(ctx))
	gauges.update(loop.Metrics())

	m := loop.Metrics()
	logger.WithFields(log.Fields{
		"iterations":         m.Iterations,
		"timers_fired":       m.TimersFired,
		"callbacks_run":      m.CallbacksRun,
		"callbacks_panicked": m.CallbacksPanicked,
	}).Info("loop stopped")

	return errors.Join(runErr, stopErr)
}

// openOutput returns the record destination. Standard output is never
// closed by the sink.
func openOutput(path string, stdout io.Writer) (io.Writer, error) {
	if path == config.StdoutPath {
		return struct{ io.Writer }{stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return f, nil
}

// serveMetrics registers the namespaces and serves them on addr until the
// returned shutdown func is called.
func serveMetrics(ctx context.Context, addr string, namespaces ...*metrics.Namespace) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	for _, ns := range namespaces {
		metrics.Register(ns)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.G(ctx).WithError(err).Warn("metrics server stopped")
		}
	}()
	log.G(ctx).WithField("address", ln.Addr().String()).Info("serving metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		for _, ns := range namespaces {
			metrics.Deregister(ns)
		}
	}, nil
}
