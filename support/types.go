// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// support maps the record layouts shared with the eBPF programs into a nice go way
package support // import "github.com/schedscope/schedscope/support"

// SchedEventSize is the size in bytes of one pick-next-task record. The layout carries
// no version or schema tag: adding, removing or reordering a field is a breaking change
// for every consumer of a capture session.
const SchedEventSize = 24

// Byte offsets of the SchedEvent fields within a record.
const (
	SchedEventOffCPU      = 0
	SchedEventOffPID      = 4
	SchedEventOffRuntime  = 8
	SchedEventOffVRuntime = 16
)

// SchedEvent is emitted for every fair-class pick-next-task decision.
//
//	struct sched_event {
//	    u32 cpu;
//	    u32 pid;
//	    u64 runtime;
//	    u64 vruntime;
//	};
type SchedEvent struct {
	// CPU executing the scheduling decision.
	CPU uint32
	// PID of the selected task.
	PID uint32
	// Runtime is the selected task's se.sum_exec_runtime in nanoseconds.
	Runtime uint64
	// VRuntime is the selected task's se.vruntime in nanoseconds.
	VRuntime uint64
}

// Indices into the per-CPU balance counter map.
const (
	BalanceCounterShouldWeBalance = iota
	BalanceCounterNeedActiveBalance
	NumBalanceCounters
)

// BalanceCounters holds how often the load balancer entry points returned 1, summed
// over all CPUs.
type BalanceCounters struct {
	ShouldWeBalance   uint64
	NeedActiveBalance uint64
}
