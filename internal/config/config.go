// Package config loads the loopz runner configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// StdoutPath selects standard output as the record destination.
const StdoutPath = "-"

// Config is the top-level runner configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Output  OutputConfig  `yaml:"output"`
	Metrics MetricsConfig `yaml:"metrics"`
	Loop    LoopConfig    `yaml:"loop"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OutputConfig selects where records are written.
type OutputConfig struct {
	Path  string `yaml:"path"`
	Async bool   `yaml:"async"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoopConfig describes the loop under observation.
type LoopConfig struct {
	Duration time.Duration  `yaml:"duration"`
	MaxHooks int            `yaml:"max_hooks"`
	Queue    int            `yaml:"queue_size"`
	Workload WorkloadConfig `yaml:"workload"`
}

// WorkloadConfig is the synthetic work scheduled on the loop: a timer every
// Interval that keeps the loop busy for Busy.
type WorkloadConfig struct {
	Interval time.Duration `yaml:"interval"`
	Busy     time.Duration `yaml:"busy"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Output: OutputConfig{
			Path: StdoutPath,
		},
		Loop: LoopConfig{
			Duration: 10 * time.Second,
			MaxHooks: 100,
			Queue:    1024,
			Workload: WorkloadConfig{
				Interval: 10 * time.Millisecond,
			},
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Keys
// missing from data keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field, joined.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}

	if c.Output.Path == "" {
		errs = append(errs, errors.New("output.path: cannot be empty"))
	}

	if c.Loop.Duration <= 0 {
		errs = append(errs, errors.New("loop.duration: must be positive"))
	}
	if c.Loop.MaxHooks < 2 {
		errs = append(errs, errors.New("loop.max_hooks: must be at least 2"))
	}
	if c.Loop.Queue < 1 {
		errs = append(errs, errors.New("loop.queue_size: must be at least 1"))
	}
	if c.Loop.Workload.Interval <= 0 {
		errs = append(errs, errors.New("loop.workload.interval: must be positive"))
	}
	if c.Loop.Workload.Busy < 0 {
		errs = append(errs, errors.New("loop.workload.busy: cannot be negative"))
	}

	return errors.Join(errs...)
}
