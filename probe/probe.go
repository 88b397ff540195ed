// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe contains the fair-class pick-next-task probe as plain Go. It runs the
// same steps as the BPF program the tracer loads into the kernel: resolve the
// selected task, read its identity and runtime counters together with the executing
// CPU, and submit one fixed-size record without ever blocking.
//
// The kernel's current-task pointer is passed in explicitly through ExecContext, so
// the probe can be driven by a simulated scheduler and by tests.
package probe // import "github.com/schedscope/schedscope/probe"

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/schedscope/schedscope/metrics"
	"github.com/schedscope/schedscope/perfring"
	"github.com/schedscope/schedscope/support"
)

// Task is the part of a scheduler task the probe reads.
type Task struct {
	PID            uint32
	SumExecRuntime uint64
	VRuntime       uint64
}

// ExecContext is the execution environment of one probe invocation.
type ExecContext interface {
	// CPU returns the id of the CPU running the scheduling decision.
	CPU() uint32
	// CurrentTask returns the task currently running on that CPU, or nil.
	CurrentTask() *Task
}

// Invocation carries the inputs of one call of pick_next_task_fair.
type Invocation struct {
	Ctx ExecContext
	// Returned is the task pick_next_task_fair returned. It is nil when no fair
	// task was runnable.
	Returned *Task
}

// Resolution selects which task handle the probe reads.
type Resolution uint8

const (
	// ResolveCurrent reads the task running when the probe fires.
	ResolveCurrent Resolution = iota
	// ResolveReturned reads the task returned by pick_next_task_fair.
	ResolveReturned
)

func (r Resolution) String() string {
	switch r {
	case ResolveCurrent:
		return "current"
	case ResolveReturned:
		return "returned"
	default:
		return fmt.Sprintf("Resolution(%d)", uint8(r))
	}
}

// ParseResolution parses the textual form of a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "current", "":
		return ResolveCurrent, nil
	case "returned":
		return ResolveReturned, nil
	}
	return 0, fmt.Errorf("unknown resolution mode %q (use current or returned)", s)
}

// Result is what happened to one invocation. The scheduler ignores it.
type Result uint8

const (
	// Submitted means the record was copied into the transport.
	Submitted Result = iota
	// DroppedFull means the transport was full and counted the record as lost.
	DroppedFull
	// SkippedUnresolved means no task handle was available and nothing was sent.
	SkippedUnresolved
	// Discarded means the transport rejected the record because it was closed or
	// another write on the same CPU was in progress.
	Discarded

	numResults
)

var resultNames = [numResults]string{
	Submitted:         "submitted",
	DroppedFull:       "dropped-full",
	SkippedUnresolved: "skipped-unresolved",
	Discarded:         "discarded",
}

func (r Result) String() string {
	if r < numResults {
		return resultNames[r]
	}
	return fmt.Sprintf("Result(%d)", uint8(r))
}

// Submitter is the producer side of the transport.
type Submitter interface {
	Submit(cpu int, record []byte) error
}

// Counts holds the number of invocations per Result.
type Counts [numResults]uint64

// Probe is one attached instance of the probe.
type Probe struct {
	out        Submitter
	resolution Resolution
	counters   [numResults]atomic.Uint64
	// reported holds the counter values already handed out as metrics.
	reported [numResults]atomic.Uint64
}

// New returns a probe that submits to out and resolves tasks with resolution.
func New(out Submitter, resolution Resolution) *Probe {
	return &Probe{
		out:        out,
		resolution: resolution,
	}
}

// Resolution returns the resolution mode of the probe.
func (p *Probe) Resolution() Resolution {
	return p.resolution
}

func (p *Probe) resolve(inv Invocation) *Task {
	if p.resolution == ResolveReturned {
		return inv.Returned
	}
	if inv.Ctx == nil {
		return nil
	}
	return inv.Ctx.CurrentTask()
}

// PickNextTaskFair runs the probe for one scheduling decision. The record is built
// in a stack buffer and handed to the transport, which copies it.
func (p *Probe) PickNextTaskFair(inv Invocation) Result {
	res := p.pickNextTaskFair(inv)
	p.counters[res].Add(1)
	return res
}

func (p *Probe) pickNextTaskFair(inv Invocation) Result {
	if inv.Ctx == nil {
		return SkippedUnresolved
	}
	task := p.resolve(inv)
	if task == nil {
		return SkippedUnresolved
	}

	ev := support.SchedEvent{
		CPU:      inv.Ctx.CPU(),
		PID:      task.PID,
		Runtime:  task.SumExecRuntime,
		VRuntime: task.VRuntime,
	}
	var buf [support.SchedEventSize]byte
	ev.MarshalTo(buf[:])

	err := p.out.Submit(int(ev.CPU), buf[:])
	switch {
	case err == nil:
		return Submitted
	case errors.Is(err, perfring.ErrFull):
		return DroppedFull
	default:
		return Discarded
	}
}

// Counts returns the number of invocations per Result since creation.
func (p *Probe) Counts() Counts {
	var c Counts
	for i := range p.counters {
		c[i] = p.counters[i].Load()
	}
	return c
}

// Get returns the count for r.
func (c Counts) Get(r Result) uint64 {
	if r >= numResults {
		return 0
	}
	return c[r]
}

// Total returns the number of invocations.
func (c Counts) Total() uint64 {
	var n uint64
	for _, v := range c {
		n += v
	}
	return n
}

// CollectMetrics returns the per-result counters accumulated since the previous call.
func (p *Probe) CollectMetrics() []metrics.Metric {
	return []metrics.Metric{
		{ID: metrics.IDProbeSubmitted,
			Value: metrics.MetricValue(p.swap(Submitted))},
		{ID: metrics.IDProbeDroppedFull,
			Value: metrics.MetricValue(p.swap(DroppedFull))},
		{ID: metrics.IDProbeSkippedUnresolved,
			Value: metrics.MetricValue(p.swap(SkippedUnresolved))},
		{ID: metrics.IDProbeDiscarded,
			Value: metrics.MetricValue(p.swap(Discarded))},
	}
}

// swap reads the counter for r and moves it to the reported baseline, so that
// Counts keeps returning totals while metrics report deltas.
func (p *Probe) swap(r Result) uint64 {
	total := p.counters[r].Load()
	prev := p.reported[r].Swap(total)
	return total - prev
}
