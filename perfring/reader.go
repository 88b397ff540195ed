// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package perfring // import "github.com/schedscope/schedscope/perfring"

import (
	"os"
	"sync"
	"time"

	"github.com/cilium/ebpf/perf"
)

// Reader drains a Ring. Its API follows perf.Reader: records are returned through
// perf.Record, lost samples are reported in-band with an empty RawSample, and a
// deadline bounds how long ReadInto waits for data.
type Reader struct {
	ring *Ring

	mu       sync.Mutex
	deadline time.Time
	// ready holds the CPUs that had data on the last scan. They are drained one
	// after another, like perf.Reader drains the rings reported by epoll.
	ready []int
}

// NewReader returns a reader for r. A ring should have a single reader.
func NewReader(r *Ring) *Reader {
	return &Reader{
		ring:  r,
		ready: make([]int, 0, len(r.cpus)),
	}
}

// SetDeadline controls how long ReadInto blocks waiting for data. A zero value
// means no deadline, a deadline in the past makes ReadInto return immediately
// with os.ErrDeadlineExceeded when no data is available.
func (rd *Reader) SetDeadline(t time.Time) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.deadline = t
}

// Read allocates a new record and reads into it.
func (rd *Reader) Read() (perf.Record, error) {
	var rec perf.Record
	return rec, rd.ReadInto(&rec)
}

// ReadInto reads the next record. Records of one CPU are returned in submission
// order. A lost sample notification for a CPU is returned after the records that
// were buffered on that CPU when the drops happened.
//
// Returns ErrClosed once the ring is closed and os.ErrDeadlineExceeded when the
// deadline passes without data.
func (rd *Reader) ReadInto(rec *perf.Record) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if rd.ring.closed.Load() {
			return ErrClosed
		}

		for len(rd.ready) > 0 {
			if rd.readCPU(rd.ready[0], rec) {
				return nil
			}
			rd.ready = rd.ready[1:]
		}

		rd.scan()
		if len(rd.ready) > 0 {
			continue
		}

		var expired <-chan time.Time
		if !rd.deadline.IsZero() {
			wait := time.Until(rd.deadline)
			if wait <= 0 {
				return os.ErrDeadlineExceeded
			}
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			expired = timer.C
		}

		select {
		case <-rd.ring.wakeup:
		case <-expired:
			return os.ErrDeadlineExceeded
		case <-rd.ring.done:
			return ErrClosed
		}
	}
}

// scan refills the ready list with every CPU that has records or undelivered
// lost samples.
func (rd *Reader) scan() {
	rd.ready = rd.ready[:0]
	for i := range rd.ring.cpus {
		c := &rd.ring.cpus[i]
		if c.head.Load() != c.tail.Load() || c.lost.Load() != 0 {
			rd.ready = append(rd.ready, i)
		}
	}
}

// readCPU copies the oldest record of cpu into rec and only then releases the slot
// to the producer by advancing tail. Once the CPU is drained, pending lost samples
// are reported. Returns false if there was nothing to read.
func (rd *Reader) readCPU(cpu int, rec *perf.Record) bool {
	r := rd.ring
	c := &r.cpus[cpu]

	tail := c.tail.Load()
	if tail != c.head.Load() {
		off := int(tail%r.capacity) * r.recordSize
		if cap(rec.RawSample) < r.recordSize {
			rec.RawSample = make([]byte, r.recordSize)
		}
		rec.RawSample = rec.RawSample[:r.recordSize]
		copy(rec.RawSample, c.data[off:off+r.recordSize])
		rec.CPU = cpu
		rec.LostSamples = 0
		rec.Remaining = int(c.head.Load()-tail-1) * r.recordSize
		c.tail.Store(tail + 1)
		return true
	}

	if lost := c.lost.Swap(0); lost != 0 {
		rec.RawSample = rec.RawSample[:0]
		rec.CPU = cpu
		rec.LostSamples = lost
		rec.Remaining = 0
		return true
	}
	return false
}

// Close closes the underlying ring.
func (rd *Reader) Close() error {
	return rd.ring.Close()
}
