// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package reporter writes the sched events of a session to their destinations.
package reporter // import "github.com/schedscope/schedscope/reporter"

import (
	"context"
	"time"

	"github.com/schedscope/schedscope/support"
)

// Event is a sched event ready to be reported.
type Event struct {
	support.SchedEvent
	// Comm is the command name of the task, empty if unknown or not resolved.
	Comm string
	// Timestamp is the wall clock time the event was read.
	Timestamp time.Time
}

// Reporter is the interface implemented by every event destination.
type Reporter interface {
	// ReportEvent accepts a single sched event.
	ReportEvent(ev *Event) error

	// ReportLost accepts the number of events the transport dropped on cpu.
	ReportLost(cpu int, count uint64) error

	// Start starts the background work of the reporter, if any.
	Start(context.Context) error

	// Stop triggers a graceful shutdown of the reporter and flushes buffered output.
	Stop()
}
