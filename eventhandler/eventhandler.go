// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventhandler converts decoded sched events into the enriched reporting
// format and then forwards them to the reporter.
package eventhandler // import "github.com/schedscope/schedscope/eventhandler"

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"github.com/schedscope/schedscope/consumer"
	"github.com/schedscope/schedscope/reporter"
	"github.com/schedscope/schedscope/times"
)

// Compile time check to make sure times.Times satisfies the interfaces.
var _ Times = (*times.Times)(nil)

// Times is a subset of times.IntervalsAndTimers.
type Times interface {
	MonitorInterval() time.Duration
}

// commCacheLifetime bounds how long a resolved comm is trusted. Tasks change
// their comm on exec and pids get reused.
var commCacheLifetime = 10 * time.Second

// CommResolver looks up the command name of a task.
type CommResolver interface {
	Comm(pid uint32) (string, error)
}

// Handler implements consumer.Handler.
type Handler struct {
	// Metrics
	commCacheHit  atomic.Uint64
	commCacheMiss atomic.Uint64

	// resolver is nil if comm enrichment is disabled.
	resolver CommResolver

	// commCache stores recently resolved comms to avoid a file read per event.
	commCache *lru.SyncedLRU[uint32, string]

	// reporter instance to use to send out events.
	reporter reporter.Reporter
}

var _ consumer.Handler = (*Handler)(nil)

func hashPID(pid uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], pid)
	return uint32(xxh3.Hash(b[:]))
}

// newHandler creates a new Handler.
func newHandler(ctx context.Context, rep reporter.Reporter, resolver CommResolver,
	cacheSize uint32) (*Handler, error) {
	commCache, err := lru.NewSynced[uint32, string](cacheSize, hashPID)
	if err != nil {
		return nil, err
	}
	// Do not hold elements indefinitely in the cache.
	commCache.SetLifetime(commCacheLifetime)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		wg.Done()
		ticker := time.NewTicker(commCacheLifetime)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				commCache.PurgeExpired()
			}
		}
	}()

	// Wait to make sure the purge routine did start.
	wg.Wait()

	return &Handler{
		resolver:  resolver,
		commCache: commCache,
		reporter:  rep,
	}, nil
}

// comm returns the command name of pid, or an empty string if it is unknown.
func (h *Handler) comm(cpu, pid uint32) string {
	if h.resolver == nil {
		return ""
	}
	if pid == 0 {
		// The idle task of every CPU has pid 0.
		return fmt.Sprintf("swapper/%d", cpu)
	}

	if comm, exists := h.commCache.Get(pid); exists {
		h.commCacheHit.Add(1)
		return comm
	}
	h.commCacheMiss.Add(1)

	comm, err := h.resolver.Comm(pid)
	if err != nil {
		// The task most likely exited already. Remember that too, so a burst of
		// events of a dead task does not hit the resolver every time.
		log.Debugf("Failed to resolve comm of pid %d: %v", pid, err)
		comm = ""
	}
	h.commCache.Add(pid, comm)
	return comm
}

// HandleEvent implements consumer.Handler.
func (h *Handler) HandleEvent(ev *consumer.Event) {
	out := reporter.Event{
		SchedEvent: ev.SchedEvent,
		Comm:       h.comm(ev.CPU, ev.PID),
		Timestamp:  ev.ReadAt.Time(),
	}
	if err := h.reporter.ReportEvent(&out); err != nil {
		log.Errorf("Failed to report sched event: %v", err)
	}
}

// HandleLost implements consumer.Handler.
func (h *Handler) HandleLost(cpu int, count uint64) {
	log.Debugf("Lost %d sched events on CPU %d", count, cpu)
	if err := h.reporter.ReportLost(cpu, count); err != nil {
		log.Errorf("Failed to report lost sched events: %v", err)
	}
}

// Start creates a Handler and a goroutine that publishes its metrics at the
// monitor interval. The returned channel allows the caller to wait for the
// background worker to exit after a cancellation through the context.
func Start(ctx context.Context, rep reporter.Reporter, resolver CommResolver,
	intervals Times, cacheSize uint32,
) (handler *Handler, workerExited <-chan struct{}, err error) {
	handler, err = newHandler(ctx, rep, resolver, cacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create event handler: %v", err)
	}

	exitChan := make(chan struct{})

	go func() {
		defer close(exitChan)

		metricsTicker := time.NewTicker(intervals.MonitorInterval())
		defer metricsTicker.Stop()

		for {
			select {
			case <-metricsTicker.C:
				handler.collectMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()

	return handler, exitChan, nil
}
