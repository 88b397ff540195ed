// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package perfring implements a fixed-capacity, per-CPU ring buffer with the same
// producer and consumer contract as a kernel perf event array: one non-blocking
// writer per CPU, one advancing reader, FIFO per CPU and a lost-sample counter that
// is delivered to the reader in-band.
//
// The reader side mirrors cilium/ebpf's perf.Reader so that consumers can be written
// once against either implementation.
package perfring // import "github.com/schedscope/schedscope/perfring"

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned on any operation after Close. It is the same error
	// cilium/ebpf's perf and ringbuf readers return.
	ErrClosed = os.ErrClosed
	// ErrFull is returned by Submit when the CPU's ring has no free slot. The
	// record is dropped and counted as lost.
	ErrFull = errors.New("ring buffer full")
	// ErrBusy is returned by Submit when another write on the same CPU is in
	// progress. The kernel rejects nested perf output the same way (-EBUSY).
	ErrBusy = errors.New("nested write on cpu")
	// ErrRecordSize is returned by Submit for records of the wrong size.
	ErrRecordSize = errors.New("record size mismatch")
	// ErrInvalidCPU is returned by Submit for CPUs outside the ring.
	ErrInvalidCPU = errors.New("invalid cpu")
)

// cpuRing is the ring of one CPU. head and tail are monotonically increasing
// record positions: the producer owns head, the reader owns tail.
type cpuRing struct {
	head atomic.Uint64
	tail atomic.Uint64

	// lost holds drops not yet delivered to the reader.
	lost atomic.Uint64
	// dropped is the running total of drops, never reset.
	dropped atomic.Uint64
	// writing guards against nested writers on the same CPU.
	writing atomic.Bool

	data []byte
}

// Ring is a set of per-CPU rings sharing one wakeup notification.
type Ring struct {
	recordSize int
	capacity   uint64
	cpus       []cpuRing

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	// wakeup is signalled after every publish or drop. Buffered with one slot so
	// producers never block on it.
	wakeup chan struct{}
}

// New creates a ring for numCPU CPUs holding capacity records of recordSize bytes
// per CPU. The backing storage is allocated once and never resized.
func New(numCPU, capacity, recordSize int) (*Ring, error) {
	if numCPU < 1 {
		return nil, fmt.Errorf("need at least one cpu, got %d", numCPU)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	if recordSize < 1 {
		return nil, fmt.Errorf("record size must be positive, got %d", recordSize)
	}

	r := &Ring{
		recordSize: recordSize,
		capacity:   uint64(capacity),
		cpus:       make([]cpuRing, numCPU),
		done:       make(chan struct{}),
		wakeup:     make(chan struct{}, 1),
	}
	for i := range r.cpus {
		r.cpus[i].data = make([]byte, capacity*recordSize)
	}
	return r, nil
}

// NumCPU returns the number of per-CPU rings.
func (r *Ring) NumCPU() int {
	return len(r.cpus)
}

// Capacity returns the number of records each per-CPU ring can hold.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// RecordSize returns the fixed size of a record.
func (r *Ring) RecordSize() int {
	return r.recordSize
}

// notify wakes up a waiting reader without ever blocking.
func (r *Ring) notify() {
	select {
	case r.wakeup <- struct{}{}:
	default:
	}
}

// Submit copies record into the ring of the given CPU. It never blocks and never
// allocates. A full ring drops the record and bumps the lost counter; the returned
// error only informs the caller about what happened to the record.
//
// The record becomes visible to the reader by a single atomic store of the head
// position after all its bytes are written, so a reader never observes a partially
// written record, even when Close races with the submission.
func (r *Ring) Submit(cpu int, record []byte) error {
	if cpu < 0 || cpu >= len(r.cpus) {
		return fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}
	if len(record) != r.recordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrRecordSize,
			len(record), r.recordSize)
	}

	c := &r.cpus[cpu]
	if !c.writing.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.writing.Store(false)

	if r.closed.Load() {
		return ErrClosed
	}

	head := c.head.Load()
	if head-c.tail.Load() >= r.capacity {
		c.lost.Add(1)
		c.dropped.Add(1)
		r.notify()
		return ErrFull
	}

	off := int(head%r.capacity) * r.recordSize
	copy(c.data[off:off+r.recordSize], record)
	c.head.Store(head + 1)
	r.notify()
	return nil
}

// Dropped returns the total number of records dropped because a ring was full.
func (r *Ring) Dropped() uint64 {
	var total uint64
	for i := range r.cpus {
		total += r.cpus[i].dropped.Load()
	}
	return total
}

// Pending returns the number of records currently buffered for the given CPU.
func (r *Ring) Pending(cpu int) int {
	c := &r.cpus[cpu]
	return int(c.head.Load() - c.tail.Load())
}

// Close tears the ring down. Readers blocked in ReadInto return ErrClosed and
// later submissions are discarded. It is safe to call Close concurrently with
// Submit and more than once.
func (r *Ring) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
	})
	return nil
}
