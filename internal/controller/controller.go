// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/schedscope/schedscope/internal/controller"

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tklauser/numcpus"
	"golang.org/x/sync/errgroup"

	"github.com/schedscope/schedscope/consumer"
	"github.com/schedscope/schedscope/eventhandler"
	"github.com/schedscope/schedscope/metrics"
	"github.com/schedscope/schedscope/metrics/agentmetrics"
	"github.com/schedscope/schedscope/perfring"
	"github.com/schedscope/schedscope/periodiccaller"
	"github.com/schedscope/schedscope/probe"
	"github.com/schedscope/schedscope/proc"
	"github.com/schedscope/schedscope/reporter"
	"github.com/schedscope/schedscope/simsched"
	"github.com/schedscope/schedscope/support"
	"github.com/schedscope/schedscope/times"
	"github.com/schedscope/schedscope/tracer"
)

const (
	// simFirstPID is the pid of the first simulated task.
	simFirstPID = 1000
	// simTasksPerCPU is the number of simulated tasks per CPU if none is configured.
	simTasksPerCPU = 2
	// simJitter varies the simulated slices by up to 20%.
	simJitter = 0.2
)

// Controller is an instance that runs, manages and stops a session.
type Controller struct {
	config *Config
	stdout io.Writer

	// output replaces the text or recording reporter if set.
	output   reporter.Reporter
	reporter reporter.Reporter
	perCPU   *reporter.PerCPU

	// Kernel backend.
	tracer *tracer.Tracer

	// Simulation backend.
	ring  *perfring.Ring
	probe *probe.Probe
	sched *simsched.Scheduler

	consumer *consumer.Consumer

	// mu serializes the metric collection with the teardown of the backends.
	mu sync.Mutex

	cancel           context.CancelFunc
	done             chan struct{}
	err              error
	handlerExited    <-chan struct{}
	stopMetrics      func()
	stopAgentMetrics func()
	shutdownOnce     sync.Once
}

// New creates a new controller
// The controller can set global configurations (such as the metrics reporter and
// the realtime clock sync) on setup. So there should only ever be one running.
func New(cfg *Config, opts ...Option) *Controller {
	c := &Controller{
		config: cfg,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		c = opt.applyOption(c)
	}
	return c
}

// Start validates the configuration, loads the backend and starts draining
// sched events. The controller should only be started once.
func (c *Controller) Start(ctx context.Context) error {
	if c.config == nil {
		c.config = &Config{}
	}
	if err := c.config.Validate(); err != nil {
		return err
	}

	intervals := times.New(c.config.PollInterval, c.config.MonitorInterval,
		c.config.ReportInterval)

	// Start periodic synchronization with the realtime clock
	times.StartRealtimeSync(ctx, c.config.ClockSyncInterval)

	if c.config.VerboseMode {
		ml, err := newMetricsLogger()
		if err != nil {
			return err
		}
		metrics.SetReporter(ml)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if c.config.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.config.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	c.cancel = cancel

	stopAgentMetrics, err := agentmetrics.Start(runCtx, time.Second)
	if err != nil {
		log.Warnf("Failed to start agent metrics: %v", err)
	}
	c.stopAgentMetrics = stopAgentMetrics

	var (
		rd   consumer.Reader
		cpus int
	)
	if c.config.Simulate {
		rd, cpus, err = c.startSimulation()
	} else {
		rd, cpus, err = c.startTracer()
	}
	if err != nil {
		return err
	}

	if err = c.startReporter(runCtx, intervals, cpus); err != nil {
		return err
	}

	c.consumer = consumer.New(rd, consumer.Config{
		MaxEvents:    c.config.MaxEvents,
		SkipIdle:     c.config.SkipIdle,
		PollInterval: intervals.PollInterval(),
	})

	var resolver eventhandler.CommResolver
	if c.config.Comm {
		if c.config.Simulate {
			log.Warn("Task names are not available for simulated tasks")
		} else {
			resolver = proc.NewCommResolver(proc.DefaultMountPoint)
		}
	}
	cacheSize, err := CommCacheSize()
	if err != nil {
		return err
	}
	handler, handlerExited, err := eventhandler.Start(runCtx, c.reporter, resolver,
		intervals, cacheSize)
	if err != nil {
		return fmt.Errorf("failed to start event handling: %w", err)
	}
	c.handlerExited = handlerExited

	c.stopMetrics = periodiccaller.Start(runCtx, intervals.MonitorInterval(),
		c.collectMetrics)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return c.consumer.Run(gctx, handler)
	})
	if c.sched != nil {
		g.Go(func() error {
			return c.sched.Run(gctx, c.config.SimTick)
		})
	}

	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.err = g.Wait()
	}()

	// This log line is used in tests to verify that the session has started.
	log.Info("Consuming sched events")
	return nil
}

func (c *Controller) startSimulation() (consumer.Reader, int, error) {
	nCPU := c.config.SimCPUs
	if nCPU == 0 {
		online, err := numcpus.GetOnline()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to get online CPUs: %w", err)
		}
		nCPU = online
	}

	ring, err := perfring.New(nCPU, c.config.SimRingCapacity, support.SchedEventSize)
	if err != nil {
		return nil, 0, err
	}
	c.ring = ring
	c.probe = probe.New(ring, c.config.resolution)

	sched, err := simsched.New(simsched.Config{
		CPUs:   nCPU,
		Jitter: simJitter,
		Seed:   c.config.SimSeed,
	}, c.probe)
	if err != nil {
		return nil, 0, err
	}
	tasks := c.config.SimTasks
	if tasks == 0 {
		tasks = simTasksPerCPU * nCPU
	}
	if err := sched.Spread(tasks, simFirstPID); err != nil {
		return nil, 0, err
	}
	c.sched = sched

	log.Infof("Simulating %d tasks on %d CPUs (%s task)", tasks, nCPU,
		c.config.resolution)
	return perfring.NewReader(ring), nCPU, nil
}

func (c *Controller) startTracer() (consumer.Reader, int, error) {
	trc, err := tracer.New(tracer.Config{
		Probe:                c.config.probeSpec,
		Resolution:           c.config.resolution,
		Transport:            c.config.Transport,
		PerfBufferPages:      c.config.PerfBufferPages,
		RingBufSize:          c.config.RingBufSize,
		BalanceCounters:      c.config.BalanceCounters,
		ContextSwitches:      c.config.ContextSwitches,
		NoKernelVersionCheck: c.config.NoKernelVersionCheck,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load eBPF tracer: %w", err)
	}
	c.tracer = trc
	log.Infof("eBPF tracer loaded (%s transport)", trc.Transport())

	presentCores, err := numcpus.GetPresent()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CPU file: %w", err)
	}
	return trc.Reader(), presentCores, nil
}

func (c *Controller) collectMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.probe != nil {
		metrics.AddSlice(c.probe.CollectMetrics())
	}
	if c.tracer != nil {
		metrics.AddSlice(c.tracer.CollectMetrics())
	}
	if c.consumer != nil {
		metrics.AddSlice(c.consumer.CollectMetrics())
	}
}

// Done is closed once the session ended on its own: the configured duration
// elapsed or the transport failed. It is nil before Start succeeded.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Summary returns the per-CPU totals of the session so far.
func (c *Controller) Summary() []reporter.CPUSummary {
	if c.perCPU == nil {
		return nil
	}
	return c.perCPU.Summary()
}

// Shutdown stops the controller and returns the error that ended the session,
// if any. It is safe to call after a failed Start and more than once.
func (c *Controller) Shutdown() error {
	c.shutdownOnce.Do(func() {
		log.Info("Stop processing ...")
		if c.cancel != nil {
			c.cancel()
		}
		if c.done != nil {
			<-c.done
		}
		if c.handlerExited != nil {
			<-c.handlerExited
		}
		if c.stopMetrics != nil {
			c.stopMetrics()
		}

		// Report what happened since the last tick before the backends go away.
		c.collectMetrics()

		c.mu.Lock()
		if c.tracer != nil {
			c.tracer.Close()
			c.tracer = nil
		}
		if c.ring != nil {
			if err := c.ring.Close(); err != nil {
				log.Warnf("Failed to close event ring: %v", err)
			}
		}
		c.mu.Unlock()

		if c.reporter != nil {
			c.reporter.Stop()
		}
		metrics.Flush()
		if c.stopAgentMetrics != nil {
			c.stopAgentMetrics()
		}
	})
	return c.err
}
