//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracer loads the sched event probe into the kernel and exposes the
// transport it writes to.
package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"errors"
	"fmt"
	"os"

	cebpf "github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	log "github.com/sirupsen/logrus"

	"github.com/schedscope/schedscope/consumer"
	"github.com/schedscope/schedscope/internal/linux"
	"github.com/schedscope/schedscope/metrics"
	"github.com/schedscope/schedscope/proc"
	"github.com/schedscope/schedscope/support"
)

// Tracer is the loaded and attached sched event probe.
type Tracer struct {
	transport string

	// events is the perf event array or ring buffer of the sched events.
	events *cebpf.Map
	// drops counts ring buffer reservation failures per CPU.
	drops *cebpf.Map
	// balance holds the balance counters per CPU.
	balance *cebpf.Map

	progs  []*cebpf.Program
	links  []link.Link
	reader eventReader

	ctxSwitches *contextSwitchCounters

	// Counter values at the last CollectMetrics call.
	lastBalance     support.BalanceCounters
	lastCtxSwitches uint64
}

var _ consumer.Reader = (eventReader)(nil)

// probeReadFn returns the helper to read kernel memory with.
func probeReadFn(noKernelVersionCheck bool) (asm.BuiltinFunc, error) {
	version, err := linux.GetCurrentKernelVersion()
	if err != nil {
		if noKernelVersionCheck {
			log.Warnf("Failed to get kernel version, assuming a recent kernel: %v", err)
			return asm.FnProbeReadKernel, nil
		}
		return 0, err
	}

	// bpf_probe_read_kernel was added in 5.5.
	if version.AtLeast(5, 5) {
		return asm.FnProbeReadKernel, nil
	}
	if !noKernelVersionCheck {
		return 0, fmt.Errorf("host kernel %s is too old, need at least 5.5", version)
	}
	log.Warnf("Kernel %s lacks bpf_probe_read_kernel, falling back to bpf_probe_read",
		version)
	return asm.FnProbeRead, nil
}

// checkSymbol verifies that symbol is a kernel function.
func checkSymbol(kallsymsPath, symbol string) error {
	sym, err := proc.LookupKallsym(kallsymsPath, symbol)
	switch {
	case errors.Is(err, proc.ErrSymbolPermissions):
		// Only addresses are hidden, the attach itself will tell.
		log.Debugf("Skipping symbol check of %s: %v", symbol, err)
		return nil
	case err != nil:
		return err
	case !sym.IsText():
		return fmt.Errorf("%s is not a function", symbol)
	}
	log.Debugf("Found %s at 0x%x", symbol, sym.Address)
	return nil
}

// New loads and attaches the sched event probe.
func New(cfg Config) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := linux.ProbeBPFSyscall(); err != nil {
		return nil, err
	}
	readFn, err := probeReadFn(cfg.NoKernelVersionCheck)
	if err != nil {
		return nil, err
	}
	if err = checkSymbol(cfg.KallsymsPath, cfg.Probe.Symbol); err != nil {
		return nil, fmt.Errorf("can't attach to %s: %w", cfg.Probe, err)
	}
	offsets, err := LoadTaskOffsets(nil)
	if err != nil {
		return nil, err
	}
	log.Debugf("task_struct offsets: pid %d, sum_exec_runtime %d, vruntime %d",
		offsets.PID, offsets.SumExecRuntime, offsets.VRuntime)

	// Kernels before 5.11 charge BPF memory to RLIMIT_MEMLOCK.
	if err = rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("failed to remove memlock rlimit: %v", err)
	}

	t := &Tracer{transport: selectTransport(cfg.Transport)}
	if err = t.load(&cfg, offsets, readFn); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracer) load(cfg *Config, offsets TaskOffsets, readFn asm.BuiltinFunc) error {
	var err error
	prog := schedEventProgram{
		resolution: cfg.Resolution,
		offsets:    offsets,
		transport:  t.transport,
		readFn:     readFn,
		dropsFD:    -1,
	}

	switch t.transport {
	case TransportRingbuf:
		t.events, err = cebpf.NewMap(&cebpf.MapSpec{
			Name:       "events",
			Type:       cebpf.RingBuf,
			MaxEntries: uint32(cfg.RingBufSize),
		})
		if err != nil {
			return fmt.Errorf("failed to create ring buffer: %v", err)
		}
		t.drops, err = cebpf.NewMap(&cebpf.MapSpec{
			Name:       "drops",
			Type:       cebpf.PerCPUArray,
			KeySize:    4,
			ValueSize:  8,
			MaxEntries: 1,
		})
		if err != nil {
			return fmt.Errorf("failed to create drop counters: %v", err)
		}
		prog.dropsFD = t.drops.FD()
	default:
		// MaxEntries of zero sizes the array to the number of possible CPUs.
		t.events, err = cebpf.NewMap(&cebpf.MapSpec{
			Name: "events",
			Type: cebpf.PerfEventArray,
		})
		if err != nil {
			return fmt.Errorf("failed to create perf event array: %v", err)
		}
	}
	prog.eventsFD = t.events.FD()

	// perf.NewReader fills the perf event array. Output to an empty slot fails
	// without counting as lost, so the reader goes first.
	if t.transport == TransportRingbuf {
		rd, err := newRingbufReader(t.events, t.drops)
		if err != nil {
			return err
		}
		t.reader = rd
	} else {
		rd, err := perf.NewReader(t.events, cfg.PerfBufferPages*os.Getpagesize())
		if err != nil {
			return fmt.Errorf("failed to create perf reader: %v", err)
		}
		t.reader = rd
	}

	if err = t.attach("sched_event", prog.instructions(), cfg.Probe); err != nil {
		return err
	}
	log.Infof("Attached to %s, reporting over %s", cfg.Probe, t.transport)

	if cfg.BalanceCounters {
		if err = t.loadBalanceCounters(cfg.KallsymsPath); err != nil {
			return err
		}
	}
	if cfg.ContextSwitches {
		t.ctxSwitches, err = newContextSwitchCounters()
		if err != nil {
			// Counting context switches needs perf_event_paranoid <= 0 or
			// CAP_PERFMON, not worth failing for.
			log.Warnf("Not counting context switches: %v", err)
		}
	}
	return nil
}

// errNoReader is returned when attaching before the transport can be read.
var errNoReader = errors.New("transport reader not set up")

// attach loads insns as a kprobe program and attaches it. The transport reader
// must exist, records written before it does are not accounted.
func (t *Tracer) attach(name string, insns asm.Instructions, spec *ProbeSpec) error {
	if t.reader == nil {
		return fmt.Errorf("can't attach %s program: %w", name, errNoReader)
	}
	prog, err := cebpf.NewProgram(&cebpf.ProgramSpec{
		Name:         name,
		Type:         cebpf.Kprobe,
		License:      "GPL",
		Instructions: insns,
	})
	if err != nil {
		return fmt.Errorf("failed to load %s program: %w", name, err)
	}
	t.progs = append(t.progs, prog)

	l, err := AttachProbe(prog, spec)
	if err != nil {
		return fmt.Errorf("failed to attach %s program to %s: %w", name, spec, err)
	}
	t.links = append(t.links, l)
	return nil
}

func (t *Tracer) loadBalanceCounters(kallsymsPath string) error {
	var err error
	t.balance, err = cebpf.NewMap(&cebpf.MapSpec{
		Name:       "balance",
		Type:       cebpf.PerCPUArray,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: support.NumBalanceCounters,
	})
	if err != nil {
		return fmt.Errorf("failed to create balance counters: %v", err)
	}

	for _, c := range []struct {
		symbol string
		index  int32
	}{
		{shouldWeBalanceSymbol, support.BalanceCounterShouldWeBalance},
		{needActiveBalanceSymbol, support.BalanceCounterNeedActiveBalance},
	} {
		// Both are static functions the compiler may inline.
		if err := checkSymbol(kallsymsPath, c.symbol); err != nil {
			log.Warnf("Not counting %s: %v", c.symbol, err)
			continue
		}
		if err := t.attach(c.symbol, balanceCounterProgram(t.balance.FD(), c.index),
			&ProbeSpec{Type: Kretprobe, Symbol: c.symbol}); err != nil {
			return err
		}
	}
	return nil
}

// Transport returns the transport the probe writes to.
func (t *Tracer) Transport() string {
	return t.transport
}

// Reader returns the read side of the transport.
func (t *Tracer) Reader() consumer.Reader {
	return t.reader
}

// BalanceCounters returns the balance counters summed over all CPUs.
func (t *Tracer) BalanceCounters() (support.BalanceCounters, error) {
	var counters support.BalanceCounters
	if t.balance == nil {
		return counters, nil
	}
	for i, dst := range []*uint64{&counters.ShouldWeBalance, &counters.NeedActiveBalance} {
		var perCPU []uint64
		if err := t.balance.Lookup(uint32(i), &perCPU); err != nil {
			return counters, fmt.Errorf("failed to read balance counter %d: %v", i, err)
		}
		for _, n := range perCPU {
			*dst += n
		}
	}
	return counters, nil
}

// ContextSwitches returns the number of context switches on all online CPUs since
// the tracer was started, or zero if they are not counted.
func (t *Tracer) ContextSwitches() (uint64, error) {
	if t.ctxSwitches == nil {
		return 0, nil
	}
	return t.ctxSwitches.read()
}

// CollectMetrics returns the counter increments since the previous call.
func (t *Tracer) CollectMetrics() []metrics.Metric {
	var out []metrics.Metric
	if t.balance != nil {
		counters, err := t.BalanceCounters()
		if err != nil {
			log.Errorf("Failed to collect balance counters: %v", err)
		} else {
			out = append(out,
				metrics.Metric{ID: metrics.IDBalanceShouldWeBalance,
					Value: metrics.MetricValue(counters.ShouldWeBalance -
						t.lastBalance.ShouldWeBalance)},
				metrics.Metric{ID: metrics.IDBalanceNeedActiveBalance,
					Value: metrics.MetricValue(counters.NeedActiveBalance -
						t.lastBalance.NeedActiveBalance)})
			t.lastBalance = counters
		}
	}
	if t.ctxSwitches != nil {
		n, err := t.ctxSwitches.read()
		if err != nil {
			log.Errorf("Failed to collect context switches: %v", err)
		} else {
			out = append(out, metrics.Metric{ID: metrics.IDContextSwitches,
				Value: metrics.MetricValue(n - t.lastCtxSwitches)})
			t.lastCtxSwitches = n
		}
	}
	return out
}

// Close detaches the probes and releases the transport. Links go first, so no
// program writes to a map that is being torn down. Readers obtained from Reader
// fail with os.ErrClosed afterwards.
func (t *Tracer) Close() {
	for _, l := range t.links {
		if err := l.Close(); err != nil {
			log.Errorf("Failed to detach probe: %v", err)
		}
	}
	t.links = nil

	if t.reader != nil {
		if err := t.reader.Close(); err != nil {
			log.Errorf("Failed to close %s reader: %v", t.transport, err)
		}
		t.reader = nil
	}
	for _, p := range t.progs {
		_ = p.Close()
	}
	t.progs = nil
	for _, m := range []**cebpf.Map{&t.events, &t.drops, &t.balance} {
		if *m != nil {
			_ = (*m).Close()
			*m = nil
		}
	}
	if t.ctxSwitches != nil {
		t.ctxSwitches.close()
		t.ctxSwitches = nil
	}
}
