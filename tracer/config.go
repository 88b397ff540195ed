// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"errors"
	"fmt"
	"os"

	"github.com/schedscope/schedscope/probe"
	"github.com/schedscope/schedscope/proc"
)

const (
	// DefaultPerfBufferPages is the per-CPU perf buffer size in pages.
	DefaultPerfBufferPages = 64
	// DefaultRingBufSize is the size in bytes of the shared BPF ring buffer.
	DefaultRingBufSize = 1 << 20

	// Symbols of the load balancer entry points counted by the balance counters.
	shouldWeBalanceSymbol   = "should_we_balance"
	needActiveBalanceSymbol = "need_active_balance"
)

// Config configures the kernel backend.
type Config struct {
	// Probe is where the sched event program is attached. Nil derives it from
	// Resolution.
	Probe *ProbeSpec
	// Resolution selects the task a sched event describes.
	Resolution probe.Resolution
	// Transport is one of TransportAuto, TransportPerf or TransportRingbuf.
	Transport string
	// PerfBufferPages is the per-CPU buffer size of the perf transport in pages.
	PerfBufferPages int
	// RingBufSize is the size in bytes of the ring buffer transport.
	RingBufSize int
	// BalanceCounters counts how often the load balancer decides to balance.
	BalanceCounters bool
	// ContextSwitches counts context switches per CPU with perf counters.
	ContextSwitches bool
	// NoKernelVersionCheck skips the minimum kernel version check.
	NoKernelVersionCheck bool
	// KallsymsPath is the kernel symbol table. Empty uses /proc/kallsyms.
	KallsymsPath string
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate fills in defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Probe == nil {
		c.Probe = DefaultProbe(c.Resolution)
	}
	if err := c.Probe.Validate(c.Resolution); err != nil {
		return err
	}

	switch c.Transport {
	case "":
		c.Transport = TransportAuto
	case TransportAuto, TransportPerf, TransportRingbuf:
	default:
		return fmt.Errorf("unknown transport %s", c.Transport)
	}

	if c.PerfBufferPages == 0 {
		c.PerfBufferPages = DefaultPerfBufferPages
	}
	if !isPowerOfTwo(c.PerfBufferPages) {
		return fmt.Errorf("perf buffer pages %d is not a power of two", c.PerfBufferPages)
	}

	if c.RingBufSize == 0 {
		c.RingBufSize = DefaultRingBufSize
	}
	if !isPowerOfTwo(c.RingBufSize) || c.RingBufSize < os.Getpagesize() {
		return errors.New("ring buffer size must be a power of two and at least a page")
	}

	if c.KallsymsPath == "" {
		c.KallsymsPath = proc.DefaultKallsymsPath
	}
	return nil
}
