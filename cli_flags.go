// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/schedscope/schedscope/internal/controller"
	"github.com/schedscope/schedscope/times"
	"github.com/schedscope/schedscope/tracer"
)

const (
	// Default values for CLI flags
	defaultArgResolution        = "current"
	defaultArgTransport         = tracer.TransportAuto
	defaultArgPollInterval      = times.DefaultPollInterval
	defaultArgMonitorInterval   = times.DefaultMonitorInterval
	defaultArgReportInterval    = times.DefaultReportInterval
	defaultClockSyncInterval    = times.DefaultRealtimeSyncInterval
	defaultArgSimRingCapacity   = 1024
	defaultArgSimTick           = time.Millisecond
	defaultArgMaxEvents         = 4096
	defaultArgPerfBufferPages   = tracer.DefaultPerfBufferPages
	defaultArgRingBufSize       = tracer.DefaultRingBufSize
	defaultArgBalanceCounters   = false
	defaultArgContextSwitches   = false
	defaultArgSkipIdle          = false
	defaultArgCommResolution    = false
	defaultArgCompressRecording = false

	envVarPrefix = "SCHEDSCOPE"
)

// Help strings for command line arguments
var (
	attachHelp = fmt.Sprintf("Attach point of the sched event program as "+
		"<kprobe|kretprobe>:<symbol>. Defaults to %s:%s for the current task and "+
		"%s:%s for the returned task.", tracer.Kprobe, tracer.DefaultAttachSymbol,
		tracer.Kretprobe, tracer.DefaultAttachSymbol)
	resolveHelp = "Task a sched event describes: 'current' is the task running " +
		"when the pick starts, 'returned' is the task that was picked."
	transportHelp = fmt.Sprintf("Event transport from the kernel: %s, %s or %s. "+
		"%s prefers the ring buffer if the kernel supports it.",
		tracer.TransportAuto, tracer.TransportPerf, tracer.TransportRingbuf,
		tracer.TransportAuto)
	perfBufferPagesHelp = "Size of the per-CPU perf buffers in pages. Must be a power of two."
	ringBufSizeHelp     = "Size of the ring buffer in bytes. Must be a power of two and " +
		"at least one page."
	pollIntervalHelp    = "Longest time to wait for sched events before checking for shutdown."
	monitorIntervalHelp = "Set the monitor interval for metrics and kernel counters."
	reportIntervalHelp  = "Set the interval of the per-CPU summary. " +
		"SIGUSR1 logs the summary immediately."
	clockSyncIntervalHelp = "Set the sync interval with the realtime clock. " +
		"If zero, monotonic-realtime clock sync will be performed once, " +
		"on startup, but not periodically."
	maxEventsHelp            = "Maximum number of events drained from the transport in one batch."
	skipIdleHelp             = "Drop events of the idle task (pid 0)."
	outputHelp               = "Record the session as JSON lines to this file instead of printing events."
	compressHelp             = "Compress the recording with zstd."
	commHelp                 = "Resolve task names from /proc/<pid>/comm."
	balanceHelp              = "Count the load balancer decisions with additional kprobes."
	ctxSwitchesHelp          = "Count context switches with perf counters on every CPU."
	simulateHelp             = "Run the probe on simulated run queues instead of the kernel."
	simCPUsHelp              = "Number of simulated CPUs. Zero uses the number of online CPUs."
	simTasksHelp             = "Number of simulated tasks. Zero uses two per CPU."
	simRingHelp              = "Capacity in records of the per-CPU buffers of the simulation."
	simTickHelp              = "Time between two picks on a simulated CPU."
	simSeedHelp              = "Seed of the simulated slice jitter."
	durationHelp             = "Stop after the given time. Zero runs until interrupted."
	verboseModeHelp          = "Enable verbose logging and debugging capabilities."
	versionHelp              = "Show version."
	configHelp               = "Read flags from this file, one 'name value' per line."
	copyrightHelp            = "Show copyright and short license text."
	noKernelVersionCheckHelp = "Disable checking kernel version for eBPF support. " +
		"Use at your own risk, to run on older kernels with backported eBPF features."
)

func parseArgs(args []string) (*controller.Config, bool, error) {
	var (
		cfg       controller.Config
		copyright bool
	)

	fs := flag.NewFlagSet("schedscope", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&cfg.Probe, "attach", "", attachHelp)

	fs.BoolVar(&cfg.BalanceCounters, "balance-counters", defaultArgBalanceCounters,
		balanceHelp)

	fs.DurationVar(&cfg.ClockSyncInterval, "clock-sync-interval", defaultClockSyncInterval,
		clockSyncIntervalHelp)

	fs.String("config", "", configHelp)
	fs.BoolVar(&cfg.Comm, "comm", defaultArgCommResolution, commHelp)
	fs.BoolVar(&cfg.Compress, "compress", defaultArgCompressRecording, compressHelp)
	fs.BoolVar(&cfg.ContextSwitches, "context-switches", defaultArgContextSwitches,
		ctxSwitchesHelp)
	fs.BoolVar(&copyright, "copyright", false, copyrightHelp)

	fs.DurationVar(&cfg.Duration, "duration", 0, durationHelp)

	fs.IntVar(&cfg.MaxEvents, "max-events", defaultArgMaxEvents, maxEventsHelp)
	fs.DurationVar(&cfg.MonitorInterval, "monitor-interval", defaultArgMonitorInterval,
		monitorIntervalHelp)

	fs.BoolVar(&cfg.NoKernelVersionCheck, "no-kernel-version-check", false,
		noKernelVersionCheckHelp)

	fs.StringVar(&cfg.Output, "output", "", outputHelp)

	fs.IntVar(&cfg.PerfBufferPages, "perf-buffer-pages", defaultArgPerfBufferPages,
		perfBufferPagesHelp)
	fs.DurationVar(&cfg.PollInterval, "poll-interval", defaultArgPollInterval,
		pollIntervalHelp)

	fs.DurationVar(&cfg.ReportInterval, "report-interval", defaultArgReportInterval,
		reportIntervalHelp)
	fs.StringVar(&cfg.Resolution, "resolve", defaultArgResolution, resolveHelp)
	fs.IntVar(&cfg.RingBufSize, "ringbuf-size", defaultArgRingBufSize, ringBufSizeHelp)

	fs.IntVar(&cfg.SimCPUs, "sim-cpus", 0, simCPUsHelp)
	fs.IntVar(&cfg.SimRingCapacity, "sim-ring-capacity", defaultArgSimRingCapacity,
		simRingHelp)
	fs.Uint64Var(&cfg.SimSeed, "sim-seed", 0, simSeedHelp)
	fs.IntVar(&cfg.SimTasks, "sim-tasks", 0, simTasksHelp)
	fs.DurationVar(&cfg.SimTick, "sim-tick", defaultArgSimTick, simTickHelp)
	fs.BoolVar(&cfg.Simulate, "simulate", false, simulateHelp)
	fs.BoolVar(&cfg.SkipIdle, "skip-idle", defaultArgSkipIdle, skipIdleHelp)

	fs.StringVar(&cfg.Transport, "transport", defaultArgTransport, transportHelp)

	fs.BoolVar(&cfg.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&cfg.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&cfg.Version, "version", false, versionHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	cfg.Fs = fs

	return &cfg, copyright, ff.Parse(fs, args,
		ff.WithEnvVarPrefix(envVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current
		// version does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
}
