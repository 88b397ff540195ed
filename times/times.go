// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package times holds the intervals used across schedscope and the conversion of
// monotonic kernel timestamps to wall clock time.
package times // import "github.com/schedscope/schedscope/times"

import (
	"context"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/schedscope/schedscope/periodiccaller"
)

const (
	// Number of timing samples to use when retrieving system boot time.
	sampleSize = 5

	// DefaultPollInterval is the default interval at which the event transport is drained.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMonitorInterval is the default interval for metric collection.
	DefaultMonitorInterval = 5 * time.Second
	// DefaultReportInterval is the default interval of the per-CPU summary.
	DefaultReportInterval = 10 * time.Second
	// DefaultRealtimeSyncInterval is the default interval for resyncing the boot time.
	DefaultRealtimeSyncInterval = 3 * time.Minute
)

// Compile time check for interface adherence
var _ IntervalsAndTimers = (*Times)(nil)

var (
	// Monotonic-to-unixtime delta that can be added to a monotonic (CLOCK_MONOTONIC)
	// timestamp to convert it to time-since-epoch.
	bootTimeUnixNano atomic.Int64
)

// Times hold all the intervals used across schedscope in a central place
// and comes with Getters to read them.
type Times struct {
	pollInterval    time.Duration
	monitorInterval time.Duration
	reportInterval  time.Duration
}

// IntervalsAndTimers is a meta-interface that exists purely to document its functionality.
type IntervalsAndTimers interface {
	// PollInterval defines the interval at which the sched event transport is drained.
	PollInterval() time.Duration
	// MonitorInterval defines the interval for metric collection and for reading
	// the balance counters.
	MonitorInterval() time.Duration
	// ReportInterval defines the interval at which the per-CPU summary is logged.
	ReportInterval() time.Duration
}

func (t *Times) PollInterval() time.Duration { return t.pollInterval }

func (t *Times) MonitorInterval() time.Duration { return t.monitorInterval }

func (t *Times) ReportInterval() time.Duration { return t.reportInterval }

// StartRealtimeSync calculates a delta between the monotonic clock
// (CLOCK_MONOTONIC, rebased to unixtime) and the realtime clock. If syncInterval is
// greater than zero, it also starts a goroutine to perform that calculation periodically.
func StartRealtimeSync(ctx context.Context, syncInterval time.Duration) {
	bootTimeUnixNano.Store(getBootTimeUnixNano())

	if syncInterval > 0 {
		periodiccaller.Start(ctx, syncInterval, func() {
			bootTimeUnixNano.Store(getBootTimeUnixNano())
		})
	}
}

// New returns a new Times instance. Zero durations are replaced by the defaults.
func New(pollInterval, monitorInterval, reportInterval time.Duration) *Times {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if monitorInterval <= 0 {
		monitorInterval = DefaultMonitorInterval
	}
	if reportInterval <= 0 {
		reportInterval = DefaultReportInterval
	}
	return &Times{
		pollInterval:    pollInterval,
		monitorInterval: monitorInterval,
		reportInterval:  reportInterval,
	}
}

// getBootTimeUnixNano returns system boot time in nanoseconds since the
// epoch, temporarily locking the calling goroutine to its OS thread.
func getBootTimeUnixNano() int64 {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	samples := make([]struct {
		t1    time.Time
		ktime int64
		t2    time.Time
	}, sampleSize)

	for i := range samples {
		// To avoid noise from scheduling / other delays, we perform a
		// series of measurements and pick the one with the lowest delta.
		samples[i].t1 = time.Now()
		samples[i].ktime = int64(GetKTime())
		samples[i].t2 = time.Now()
	}

	sort.Slice(samples, func(i, j int) bool {
		di := samples[i].t2.UnixNano() - samples[i].t1.UnixNano()
		dj := samples[j].t2.UnixNano() - samples[j].t1.UnixNano()
		if di < 0 {
			di = -di
		}
		if dj < 0 {
			dj = -dj
		}
		return di < dj
	})

	// This should never be negative, as t1.UnixNano() >> ktime
	return samples[0].t1.UnixNano() - samples[0].ktime
}
