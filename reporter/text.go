// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "github.com/schedscope/schedscope/reporter"

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Text writes one human readable line per event.
type Text struct {
	mu sync.Mutex
	w  *bufio.Writer
	// flushEach flushes after every line, for interactive output.
	flushEach bool
}

var _ Reporter = (*Text)(nil)

// NewText returns a Text reporter writing to w. With flushEach every line is
// written out immediately, otherwise output is flushed on Stop.
func NewText(w io.Writer, flushEach bool) *Text {
	return &Text{
		w:         bufio.NewWriter(w),
		flushEach: flushEach,
	}
}

// ReportEvent implements the Reporter interface.
func (t *Text) ReportEvent(ev *Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprintf(t.w, "CPU: %d, PID: %d, Runtime: %d, VRuntime: %d",
		ev.CPU, ev.PID, ev.Runtime, ev.VRuntime); err != nil {
		return err
	}
	if ev.Comm != "" {
		if _, err := fmt.Fprintf(t.w, ", Comm: %s", ev.Comm); err != nil {
			return err
		}
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.maybeFlush()
}

// ReportLost implements the Reporter interface.
func (t *Text) ReportLost(cpu int, count uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprintf(t.w, "Lost %d events on CPU %d\n", count, cpu); err != nil {
		return err
	}
	return t.maybeFlush()
}

func (t *Text) maybeFlush() error {
	if !t.flushEach {
		return nil
	}
	return t.w.Flush()
}

// Start implements the Reporter interface.
func (t *Text) Start(context.Context) error {
	return nil
}

// Stop implements the Reporter interface.
func (t *Text) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Flush(); err != nil {
		log.Errorf("Failed to flush text output: %v", err)
	}
}
