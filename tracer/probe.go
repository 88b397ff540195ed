// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"fmt"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/schedscope/schedscope/probe"
)

// Probe types.
const (
	Kprobe    = "kprobe"
	Kretprobe = "kretprobe"
)

// DefaultAttachSymbol is the kernel function the sched event probe attaches to.
const DefaultAttachSymbol = "pick_next_task_fair"

// ProbeSpec describes where a program is attached.
type ProbeSpec struct {
	Type   string
	Symbol string
}

// ParseProbe parses attach specifications of the form "kprobe:symbol" and
// "kretprobe:symbol".
func ParseProbe(spec string) (*ProbeSpec, error) {
	parts := strings.SplitN(spec, ":", 3)

	switch parts[0] {
	case Kprobe, Kretprobe:
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("invalid format: %s", spec)
		}
		return &ProbeSpec{
			Type:   parts[0],
			Symbol: parts[1],
		}, nil
	default:
		return nil, fmt.Errorf("unknown probe type: %s", parts[0])
	}
}

// DefaultProbe returns the attach specification matching a resolution mode:
// the current task is read at function entry, the returned task at function exit.
func DefaultProbe(res probe.Resolution) *ProbeSpec {
	if res == probe.ResolveReturned {
		return &ProbeSpec{Type: Kretprobe, Symbol: DefaultAttachSymbol}
	}
	return &ProbeSpec{Type: Kprobe, Symbol: DefaultAttachSymbol}
}

// Validate checks that the probe type can provide the task of the resolution
// mode. A return value is only available at function exit.
func (s *ProbeSpec) Validate(res probe.Resolution) error {
	if res == probe.ResolveReturned && s.Type != Kretprobe {
		return fmt.Errorf("resolution %s needs a %s, got %s", res, Kretprobe, s)
	}
	return nil
}

func (s *ProbeSpec) String() string {
	return s.Type + ":" + s.Symbol
}

// AttachProbe attaches prog as described by spec.
func AttachProbe(prog *ebpf.Program, spec *ProbeSpec) (link.Link, error) {
	switch spec.Type {
	case Kprobe:
		return link.Kprobe(spec.Symbol, prog, nil)
	case Kretprobe:
		return link.Kretprobe(spec.Symbol, prog, nil)
	}
	return nil, fmt.Errorf("unsupported probe type")
}
