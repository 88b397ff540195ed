// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf/btf"
)

// ErrMemberNotFound is returned if a struct lacks a member the probe reads.
var ErrMemberNotFound = errors.New("member not found")

// TaskOffsets are the byte offsets, relative to a task_struct, of the fields that
// make up a sched event.
type TaskOffsets struct {
	PID            uint32
	SumExecRuntime uint32
	VRuntime       uint32
}

// member is a struct member with its byte offset relative to the outermost struct.
type member struct {
	btf.Member
	offset uint32
}

// findMember looks up name in a struct or union, descending into anonymous
// members. The kernel wraps fields in anonymous structs and unions for
// randomization and alignment, e.g. task_struct with CONFIG_RANDSTRUCT.
func findMember(typ btf.Type, name string) (member, error) {
	var members []btf.Member
	switch t := btf.UnderlyingType(typ).(type) {
	case *btf.Struct:
		members = t.Members
	case *btf.Union:
		members = t.Members
	default:
		return member{}, fmt.Errorf("%s is not a composite type", typ)
	}

	for _, m := range members {
		if m.Name == name {
			if m.BitfieldSize != 0 {
				return member{}, fmt.Errorf("member %s is a bitfield", name)
			}
			return member{Member: m, offset: m.Offset.Bytes()}, nil
		}
		if m.Name != "" {
			continue
		}
		inner, err := findMember(m.Type, name)
		if err != nil {
			continue
		}
		inner.offset += m.Offset.Bytes()
		return inner, nil
	}
	return member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
}

// findSizedMember is findMember checking the size of the member type.
func findSizedMember(typ btf.Type, name string, size int) (member, error) {
	m, err := findMember(typ, name)
	if err != nil {
		return member{}, err
	}
	got, err := btf.Sizeof(m.Type)
	if err != nil {
		return member{}, fmt.Errorf("failed to get size of %s: %v", name, err)
	}
	if got != size {
		return member{}, fmt.Errorf("member %s has size %d, expected %d", name, got, size)
	}
	return m, nil
}

// taskOffsets computes the offsets from the task_struct type.
func taskOffsets(task btf.Type) (TaskOffsets, error) {
	pid, err := findSizedMember(task, "pid", 4)
	if err != nil {
		return TaskOffsets{}, fmt.Errorf("task_struct: %w", err)
	}
	se, err := findMember(task, "se")
	if err != nil {
		return TaskOffsets{}, fmt.Errorf("task_struct: %w", err)
	}
	runtime, err := findSizedMember(se.Type, "sum_exec_runtime", 8)
	if err != nil {
		return TaskOffsets{}, fmt.Errorf("sched_entity: %w", err)
	}
	vruntime, err := findSizedMember(se.Type, "vruntime", 8)
	if err != nil {
		return TaskOffsets{}, fmt.Errorf("sched_entity: %w", err)
	}
	return TaskOffsets{
		PID:            pid.offset,
		SumExecRuntime: se.offset + runtime.offset,
		VRuntime:       se.offset + vruntime.offset,
	}, nil
}

// LoadTaskOffsets resolves the task offsets from spec. A nil spec loads the BTF of
// the running kernel.
func LoadTaskOffsets(spec *btf.Spec) (TaskOffsets, error) {
	if spec == nil {
		var err error
		if spec, err = btf.LoadKernelSpec(); err != nil {
			return TaskOffsets{}, fmt.Errorf("failed to load kernel BTF: %w", err)
		}
	}
	var task *btf.Struct
	if err := spec.TypeByName("task_struct", &task); err != nil {
		return TaskOffsets{}, fmt.Errorf("failed to find task_struct: %w", err)
	}
	return taskOffsets(task)
}
