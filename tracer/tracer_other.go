//go:build !linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracer loads the sched event probe into the kernel and exposes the
// transport it writes to.
package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"fmt"
	"runtime"

	"github.com/schedscope/schedscope/consumer"
	"github.com/schedscope/schedscope/metrics"
	"github.com/schedscope/schedscope/support"
)

// Tracer is the stub implementation, allowing to compile the tracer package on
// non-linux systems.
type Tracer struct{}

// New always fails on non-linux systems.
func New(cfg Config) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("eBPF is not available on your system %s", runtime.GOOS)
}

func (t *Tracer) Transport() string { return "" }

func (t *Tracer) Reader() consumer.Reader { return nil }

func (t *Tracer) BalanceCounters() (support.BalanceCounters, error) {
	return support.BalanceCounters{}, nil
}

func (t *Tracer) ContextSwitches() (uint64, error) { return 0, nil }

func (t *Tracer) CollectMetrics() []metrics.Metric { return nil }

func (t *Tracer) Close() {}
