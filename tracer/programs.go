// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"github.com/cilium/ebpf/asm"

	"github.com/schedscope/schedscope/probe"
	"github.com/schedscope/schedscope/support"
)

// Transport kinds of the sched event channel.
const (
	TransportAuto    = "auto"
	TransportPerf    = "perf"
	TransportRingbuf = "ringbuf"
)

// bpfFCurrentCPU is BPF_F_CURRENT_CPU: write to the perf buffer of the CPU the
// program runs on.
const bpfFCurrentCPU = 0xffffffff

// Stack layout of the sched event program. The record sits at the bottom of the
// frame, the drop counter key below it.
const (
	recordOff  = -support.SchedEventSize
	dropKeyOff = recordOff - 8
	exitLabel  = "exit"
)

// schedEventProgram describes the sched event program before it is assembled.
type schedEventProgram struct {
	resolution probe.Resolution
	offsets    TaskOffsets
	transport  string
	// readFn copies kernel memory, bpf_probe_read_kernel where available.
	readFn asm.BuiltinFunc
	// eventsFD is the perf event array or ring buffer receiving the records.
	eventsFD int
	// dropsFD is the per-CPU drop counter of the ring buffer transport.
	dropsFD int
}

// readTaskField copies size bytes at offset off of the task in R7 to the record
// field at recordOff+field and exits the program if the read fails.
func (p *schedEventProgram) readTaskField(field int16, size int32,
	off uint32) asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, int32(recordOff+field)),
		asm.Mov.Imm(asm.R2, size),
		asm.Mov.Reg(asm.R3, asm.R7),
		asm.Add.Imm(asm.R3, int32(off)),
		p.readFn.Call(),
		asm.JNE.Imm(asm.R0, 0, exitLabel),
	}
}

// instructions assembles the program. On entry R1 holds the pt_regs of the
// probed function.
func (p *schedEventProgram) instructions() asm.Instructions {
	insns := asm.Instructions{
		// R6 = ctx
		asm.Mov.Reg(asm.R6, asm.R1),
	}

	// R0 = task_struct of the event
	if p.resolution == probe.ResolveReturned {
		insns = append(insns,
			asm.LoadMem(asm.R0, asm.R6, support.PtRegsRCOffset, asm.DWord))
	} else {
		insns = append(insns, asm.FnGetCurrentTask.Call())
	}
	insns = append(insns,
		// No task means nothing to report, the pick found the run queue empty.
		asm.JEq.Imm(asm.R0, 0, exitLabel),
		asm.Mov.Reg(asm.R7, asm.R0),

		// The verifier rejects reads of uninitialized stack. There is no
		// 64-bit store of an immediate, so zero the record through R1.
		asm.Mov.Imm(asm.R1, 0),
		asm.StoreMem(asm.RFP, recordOff, asm.R1, asm.DWord),
		asm.StoreMem(asm.RFP, recordOff+8, asm.R1, asm.DWord),
		asm.StoreMem(asm.RFP, recordOff+16, asm.R1, asm.DWord),

		asm.FnGetSmpProcessorId.Call(),
		asm.StoreMem(asm.RFP, recordOff+support.SchedEventOffCPU, asm.R0, asm.Word),
	)
	insns = append(insns, p.readTaskField(support.SchedEventOffPID, 4, p.offsets.PID)...)
	insns = append(insns, p.readTaskField(support.SchedEventOffRuntime, 8,
		p.offsets.SumExecRuntime)...)
	insns = append(insns, p.readTaskField(support.SchedEventOffVRuntime, 8,
		p.offsets.VRuntime)...)

	if p.transport == TransportRingbuf {
		insns = append(insns, p.ringbufOutput()...)
	} else {
		insns = append(insns, p.perfOutput()...)
	}

	return append(insns,
		asm.Mov.Imm(asm.R0, 0).WithSymbol(exitLabel),
		asm.Return(),
	)
}

func (p *schedEventProgram) perfOutput() asm.Instructions {
	// The kernel accounts records that don't fit as lost samples.
	return asm.Instructions{
		asm.Mov.Reg(asm.R1, asm.R6),
		asm.LoadMapPtr(asm.R2, p.eventsFD),
		asm.LoadImm(asm.R3, bpfFCurrentCPU, asm.DWord),
		asm.Mov.Reg(asm.R4, asm.RFP),
		asm.Add.Imm(asm.R4, recordOff),
		asm.Mov.Imm(asm.R5, support.SchedEventSize),
		asm.FnPerfEventOutput.Call(),
	}
}

func (p *schedEventProgram) ringbufOutput() asm.Instructions {
	insns := asm.Instructions{
		asm.LoadMapPtr(asm.R1, p.eventsFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, recordOff),
		asm.Mov.Imm(asm.R3, support.SchedEventSize),
		asm.Mov.Imm(asm.R4, 0),
		asm.FnRingbufOutput.Call(),
		asm.JEq.Imm(asm.R0, 0, exitLabel),
	}
	// The ring buffer does not count drops, so count them per CPU.
	return append(insns, incrementCounter(p.dropsFD, dropKeyOff, 0)...)
}

// incrementCounter adds one to the slot key of the per-CPU array mapFD. keyOff is
// a free 4 byte stack slot.
func incrementCounter(mapFD int, keyOff int16, key int32) asm.Instructions {
	return asm.Instructions{
		asm.StoreImm(asm.RFP, keyOff, int64(key), asm.Word),
		asm.LoadMapPtr(asm.R1, mapFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, int32(keyOff)),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, exitLabel),
		asm.Mov.Imm(asm.R1, 1),
		asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
	}
}

// balanceCounterProgram counts how often the probed function returns 1. It is
// attached as a kretprobe.
func balanceCounterProgram(countersFD int, counter int32) asm.Instructions {
	insns := asm.Instructions{
		asm.LoadMem(asm.R0, asm.R1, support.PtRegsRCOffset, asm.DWord),
		asm.JNE.Imm32(asm.R0, 1, exitLabel),
	}
	insns = append(insns, incrementCounter(countersFD, -4, counter)...)
	return append(insns,
		asm.Mov.Imm(asm.R0, 0).WithSymbol(exitLabel),
		asm.Return(),
	)
}
