// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/schedscope/schedscope/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schedscope/schedscope/probe"
	"github.com/schedscope/schedscope/tracer"
)

// Config is the configuration of a schedscope session.
type Config struct {
	// Probe overrides the attach point, e.g. "kretprobe:pick_next_task_fair".
	Probe      string
	Resolution string
	Transport  string

	PerfBufferPages int
	RingBufSize     int

	PollInterval      time.Duration
	MonitorInterval   time.Duration
	ReportInterval    time.Duration
	ClockSyncInterval time.Duration

	MaxEvents int
	SkipIdle  bool

	// Output is the recording file. Empty prints events to stdout.
	Output   string
	Compress bool
	Comm     bool

	BalanceCounters      bool
	ContextSwitches      bool
	NoKernelVersionCheck bool

	Simulate        bool
	SimCPUs         int
	SimTasks        int
	SimRingCapacity int
	SimTick         time.Duration
	// SimSeed seeds the slice jitter of the simulation.
	SimSeed uint64

	// Duration ends the session after the given time. Zero runs until shutdown.
	Duration time.Duration

	VerboseMode bool
	Version     bool

	Fs *flag.FlagSet

	// Derived by Validate.
	resolution probe.Resolution
	probeSpec  *tracer.ProbeSpec
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	if cfg.Fs == nil {
		return
	}
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if err := cfg.validate(); err != nil {
		return ErrorWithExitCode{error: err, code: ExitParseError}
	}
	return nil
}

func (cfg *Config) validate() error {
	res, err := probe.ParseResolution(cfg.Resolution)
	if err != nil {
		return err
	}
	cfg.resolution = res

	cfg.probeSpec = nil
	if cfg.Probe != "" {
		spec, err := tracer.ParseProbe(cfg.Probe)
		if err != nil {
			return fmt.Errorf("invalid attach point: %w", err)
		}
		if err := spec.Validate(res); err != nil {
			return err
		}
		cfg.probeSpec = spec
	}

	switch cfg.Transport {
	case "", tracer.TransportAuto, tracer.TransportPerf, tracer.TransportRingbuf:
	default:
		return fmt.Errorf("unknown transport %s", cfg.Transport)
	}

	for name, d := range map[string]time.Duration{
		"poll-interval":       cfg.PollInterval,
		"monitor-interval":    cfg.MonitorInterval,
		"report-interval":     cfg.ReportInterval,
		"clock-sync-interval": cfg.ClockSyncInterval,
		"sim-tick":            cfg.SimTick,
		"duration":            cfg.Duration,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if cfg.MaxEvents < 0 {
		return errors.New("max-events must not be negative")
	}
	if cfg.Compress && cfg.Output == "" {
		return errors.New("compress requires an output file")
	}

	if cfg.Simulate {
		if cfg.SimCPUs < 0 {
			return errors.New("sim-cpus must not be negative")
		}
		if cfg.SimTasks < 0 {
			return errors.New("sim-tasks must not be negative")
		}
		if cfg.SimRingCapacity < 1 {
			return fmt.Errorf("sim-ring-capacity %d must be at least 1", cfg.SimRingCapacity)
		}
	}
	return nil
}
