//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/features"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/ringbuf"
	log "github.com/sirupsen/logrus"

	"github.com/schedscope/schedscope/support"
)

// eventReader is the read side of a transport.
type eventReader interface {
	ReadInto(rec *perf.Record) error
	SetDeadline(t time.Time)
	Close() error
}

// selectTransport resolves TransportAuto to the ring buffer if the kernel has
// it (5.8+), to the perf event array otherwise.
func selectTransport(transport string) string {
	if transport != TransportAuto {
		return transport
	}
	if err := features.HaveMapType(ebpf.RingBuf); err != nil {
		log.Debugf("BPF ring buffer not available, using perf buffers: %v", err)
		return TransportPerf
	}
	return TransportRingbuf
}

// dropsCheckInterval bounds the records read between two checks of the drops
// map, so drops surface while the ring buffer never runs empty.
const dropsCheckInterval = 256

// ringReader is the read side of a BPF ring buffer.
type ringReader interface {
	ReadInto(rec *ringbuf.Record) error
	SetDeadline(t time.Time)
	Close() error
}

// dropCounter holds the per-CPU counts of records the program could not reserve.
type dropCounter interface {
	Lookup(key, valueOut any) error
}

// ringbufReader reads a BPF ring buffer like a perf event array. Records the
// program could not reserve are counted per CPU in the drops map and reported
// as lost samples. The map is checked at the start of every read cycle, every
// dropsCheckInterval records and whenever the ring buffer runs empty.
type ringbufReader struct {
	rd    ringReader
	drops dropCounter

	rec ringbuf.Record
	// reported drop counts per CPU.
	reported []uint64
	// pending lost samples per CPU, not yet handed out.
	pending []uint64

	// dropsDue is set by SetDeadline, which starts a read cycle.
	dropsDue bool
	// sinceDrops counts the records read since the last drops check.
	sinceDrops int
}

var _ eventReader = (*ringbufReader)(nil)

func newRingbufReader(events, drops *ebpf.Map) (*ringbufReader, error) {
	rd, err := ringbuf.NewReader(events)
	if err != nil {
		return nil, fmt.Errorf("failed to create ring buffer reader: %v", err)
	}
	nCPU, err := ebpf.PossibleCPU()
	if err != nil {
		_ = rd.Close()
		return nil, fmt.Errorf("failed to get possible CPUs: %v", err)
	}
	return wrapRingbuf(rd, drops, nCPU), nil
}

func wrapRingbuf(rd ringReader, drops dropCounter, nCPU int) *ringbufReader {
	return &ringbufReader{
		rd:       rd,
		drops:    drops,
		reported: make([]uint64, nCPU),
		pending:  make([]uint64, nCPU),
		dropsDue: true,
	}
}

// SetDeadline implements eventReader.
func (r *ringbufReader) SetDeadline(t time.Time) {
	r.dropsDue = true
	r.rd.SetDeadline(t)
}

// collectDrops moves new drops from the drops map to pending.
func (r *ringbufReader) collectDrops() error {
	r.dropsDue = false
	r.sinceDrops = 0

	var perCPU []uint64
	if err := r.drops.Lookup(uint32(0), &perCPU); err != nil {
		return fmt.Errorf("failed to read ring buffer drops: %v", err)
	}
	for cpu, n := range perCPU {
		if cpu >= len(r.reported) || n <= r.reported[cpu] {
			continue
		}
		r.pending[cpu] += n - r.reported[cpu]
		r.reported[cpu] = n
	}
	return nil
}

// popLost fills rec with the pending lost samples of one CPU, if any.
func (r *ringbufReader) popLost(rec *perf.Record) bool {
	for cpu, n := range r.pending {
		if n == 0 {
			continue
		}
		r.pending[cpu] = 0
		rec.CPU = cpu
		rec.RawSample = rec.RawSample[:0]
		rec.LostSamples = n
		rec.Remaining = 0
		return true
	}
	return false
}

// ReadInto implements eventReader.
func (r *ringbufReader) ReadInto(rec *perf.Record) error {
	if r.popLost(rec) {
		return nil
	}
	if r.dropsDue || r.sinceDrops >= dropsCheckInterval {
		if err := r.collectDrops(); err != nil {
			return err
		}
		if r.popLost(rec) {
			return nil
		}
	}

	err := r.rd.ReadInto(&r.rec)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if derr := r.collectDrops(); derr != nil {
			return derr
		}
		if r.popLost(rec) {
			return nil
		}
	}
	if err != nil {
		return err
	}
	r.sinceDrops++

	// The ring buffer is shared by all CPUs, the record knows where it came from.
	rec.CPU = -1
	if len(r.rec.RawSample) >= support.SchedEventOffPID {
		rec.CPU = int(binary.NativeEndian.Uint32(r.rec.RawSample[support.SchedEventOffCPU:]))
	}
	rec.RawSample = append(rec.RawSample[:0], r.rec.RawSample...)
	rec.LostSamples = 0
	rec.Remaining = r.rec.Remaining
	return nil
}

// Close implements eventReader.
func (r *ringbufReader) Close() error {
	return r.rd.Close()
}
