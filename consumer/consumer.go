// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package consumer drains sched events from a perf-style transport, decodes them
// and hands them to a Handler together with every lost-sample notification.
//
// The transport is anything with the read side of cilium/ebpf's perf.Reader: the
// kernel perf event array, the BPF ring buffer adapter of the tracer, or the
// in-memory perfring used by the simulation.
package consumer // import "github.com/schedscope/schedscope/consumer"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf/perf"
	log "github.com/sirupsen/logrus"

	"github.com/schedscope/schedscope/metrics"
	"github.com/schedscope/schedscope/support"
	"github.com/schedscope/schedscope/times"
)

const (
	// DefaultMaxEvents bounds the number of events drained in one batch, so that a
	// busy transport cannot starve the rest of the consumer loop.
	DefaultMaxEvents = 4096

	// finalDrainBatches bounds the drain on cancellation against a transport
	// that keeps filling up.
	finalDrainBatches = 4
)

// ErrSessionEnded is returned once the transport has been torn down.
var ErrSessionEnded = errors.New("sched event session ended")

// Reader is the read side of a perf-style transport.
type Reader interface {
	ReadInto(rec *perf.Record) error
	SetDeadline(t time.Time)
}

// Event is a decoded sched event.
type Event struct {
	support.SchedEvent
	// ReadAt is the monotonic time the event was drained from the transport.
	ReadAt times.KTime
}

// Batch is the result of one drain of the transport.
type Batch struct {
	Events []Event
	// Lost is the number of events the transport dropped since the previous batch.
	Lost uint64
	// LostByCPU splits Lost by the CPU whose buffer overflowed. It is nil if
	// nothing was lost.
	LostByCPU map[int]uint64
}

// Handler receives the output of Run.
type Handler interface {
	HandleEvent(ev *Event)
	HandleLost(cpu int, count uint64)
}

// Config configures a Consumer.
type Config struct {
	// MaxEvents bounds the events per batch. Zero uses DefaultMaxEvents.
	MaxEvents int
	// SkipIdle drops events of the idle task (pid 0).
	SkipIdle bool
	// PollInterval is the longest Run waits for data before checking its context.
	// Zero uses times.DefaultPollInterval.
	PollInterval time.Duration
}

// Stats are the totals of a consumer since it was created.
type Stats struct {
	Events       uint64
	Lost         uint64
	ReadErrors   uint64
	DecodeErrors uint64
	NoData       uint64
	FilteredIdle uint64
}

// Consumer decodes sched events from a Reader.
type Consumer struct {
	rd  Reader
	cfg Config

	// mu serializes the drains of the reader.
	mu  sync.Mutex
	rec perf.Record

	stats Stats

	// Deltas since the last CollectMetrics call.
	eventsCount, lostCount, readErrorCount     atomic.Uint64
	decodeErrorCount, noDataCount, filterCount atomic.Uint64
}

// New returns a consumer reading from rd.
func New(rd Reader, cfg Config) *Consumer {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = times.DefaultPollInterval
	}
	return &Consumer{
		rd:  rd,
		cfg: cfg,
	}
}

// Stats returns the totals since the consumer was created.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// setDeadline translates a timeout into a reader deadline. A negative timeout
// blocks until data arrives, zero only drains what is already there.
func (c *Consumer) setDeadline(timeout time.Duration) {
	switch {
	case timeout < 0:
		c.rd.SetDeadline(time.Time{})
	case timeout == 0:
		// A deadline of zero is treated as "no deadline". A deadline in the past
		// means "always return immediately".
		c.rd.SetDeadline(time.Unix(1, 0))
	default:
		c.rd.SetDeadline(time.Now().Add(timeout))
	}
}

// ReadBatch waits up to timeout for the transport to become readable and then
// drains the records that are available, up to MaxEvents events. An empty
// transport yields an empty batch and no error once timeout elapses.
//
// A record too short to decode is counted and skipped; the drain continues and the
// error, wrapping support.ErrShortRecord, is returned along with the batch. Once the
// transport is closed, ErrSessionEnded is returned, possibly with the events
// drained before.
func (c *Consumer) ReadBatch(timeout time.Duration) (Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		batch     Batch
		decodeErr error
		ev        Event
	)

	defer func() {
		c.stats.Events += uint64(len(batch.Events))
		c.eventsCount.Add(uint64(len(batch.Events)))
	}()

	c.setDeadline(timeout)
	for first := true; len(batch.Events) < c.cfg.MaxEvents; {
		err := c.rd.ReadInto(&c.rec)
		if first {
			// Only the first read waits, the rest drains what is already there.
			c.setDeadline(0)
			first = false
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			if errors.Is(err, os.ErrClosed) {
				return batch, ErrSessionEnded
			}
			c.stats.ReadErrors++
			c.readErrorCount.Add(1)
			return batch, fmt.Errorf("failed to read sched event: %w", err)
		}

		if c.rec.LostSamples != 0 {
			batch.Lost += c.rec.LostSamples
			if batch.LostByCPU == nil {
				batch.LostByCPU = make(map[int]uint64)
			}
			batch.LostByCPU[c.rec.CPU] += c.rec.LostSamples
			c.stats.Lost += c.rec.LostSamples
			c.lostCount.Add(c.rec.LostSamples)
			continue
		}
		if len(c.rec.RawSample) == 0 {
			c.stats.NoData++
			c.noDataCount.Add(1)
			continue
		}

		if err := support.DecodeSchedEvent(c.rec.RawSample, &ev.SchedEvent); err != nil {
			c.stats.DecodeErrors++
			c.decodeErrorCount.Add(1)
			if decodeErr == nil {
				decodeErr = fmt.Errorf("cpu %d: %w", c.rec.CPU, err)
			}
			continue
		}
		if c.cfg.SkipIdle && ev.PID == 0 {
			c.stats.FilteredIdle++
			c.filterCount.Add(1)
			continue
		}
		ev.ReadAt = times.GetKTime()
		batch.Events = append(batch.Events, ev)
	}
	return batch, decodeErr
}

// Run forwards events and lost-sample notifications to h until ctx is done or the
// transport is closed. On cancellation the records already buffered are handed to
// h before Run returns nil. It returns ErrSessionEnded when the transport went away.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			c.drain(h)
			return nil
		default:
		}

		batch, err := c.ReadBatch(c.cfg.PollInterval)
		c.dispatch(&batch, h)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionEnded):
			return err
		case errors.Is(err, support.ErrShortRecord):
			log.Warnf("Skipping malformed sched event: %v", err)
		default:
			log.Errorf("Reading sched events: %v", err)
			// Don't spin on a persistently failing reader.
			select {
			case <-ctx.Done():
				c.drain(h)
				return nil
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

// drain forwards what the transport holds without waiting for more.
func (c *Consumer) drain(h Handler) {
	for range finalDrainBatches {
		batch, err := c.ReadBatch(0)
		c.dispatch(&batch, h)
		if err != nil && !errors.Is(err, support.ErrShortRecord) {
			if !errors.Is(err, ErrSessionEnded) {
				log.Warnf("Draining sched events: %v", err)
			}
			return
		}
		if len(batch.Events) < c.cfg.MaxEvents {
			return
		}
	}
}

func (c *Consumer) dispatch(batch *Batch, h Handler) {
	for cpu, n := range batch.LostByCPU {
		h.HandleLost(cpu, n)
	}
	for i := range batch.Events {
		h.HandleEvent(&batch.Events[i])
	}
}

// CollectMetrics returns the counters accumulated since the previous call.
func (c *Consumer) CollectMetrics() []metrics.Metric {
	return []metrics.Metric{
		{ID: metrics.IDSchedEventRead,
			Value: metrics.MetricValue(c.eventsCount.Swap(0))},
		{ID: metrics.IDSchedEventLost,
			Value: metrics.MetricValue(c.lostCount.Swap(0))},
		{ID: metrics.IDSchedEventReadError,
			Value: metrics.MetricValue(c.readErrorCount.Swap(0))},
		{ID: metrics.IDSchedEventDecodeError,
			Value: metrics.MetricValue(c.decodeErrorCount.Swap(0))},
		{ID: metrics.IDSchedEventNoData,
			Value: metrics.MetricValue(c.noDataCount.Swap(0))},
		{ID: metrics.IDSchedEventFilteredIdle,
			Value: metrics.MetricValue(c.filterCount.Swap(0))},
	}
}
