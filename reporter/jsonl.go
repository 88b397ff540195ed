// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "github.com/schedscope/schedscope/reporter"

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/schedscope/schedscope/periodiccaller"
	"github.com/schedscope/schedscope/vc"
)

// JSONLinesConfig configures a JSONLines reporter.
type JSONLinesConfig struct {
	// Compress wraps the output in a zstd stream.
	Compress bool
	// CPUs is the number of CPUs recorded in the session header.
	CPUs int
	// Resolution is the task resolution mode recorded in the session header.
	Resolution string
	// FlushInterval is the interval at which buffered lines are written out.
	// Zero only flushes on Stop.
	FlushInterval time.Duration
}

// Header is the first line of every recording.
type Header struct {
	Session    uuid.UUID `json:"session"`
	Start      time.Time `json:"start"`
	CPUs       int       `json:"cpus"`
	Resolution string    `json:"resolution,omitempty"`
	Version    string    `json:"version,omitempty"`
}

// Record types of the lines following the header.
const (
	RecordEvent = "event"
	RecordLost  = "lost"
)

// Record is a line of a recording after the header.
type Record struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	CPU       uint32    `json:"cpu"`
	PID       uint32    `json:"pid"`
	Runtime   uint64    `json:"runtime"`
	VRuntime  uint64    `json:"vruntime"`
	Comm      string    `json:"comm,omitempty"`
	Lost      uint64    `json:"lost,omitempty"`
}

// JSONLines records a session as one JSON object per line.
type JSONLines struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	enc     *json.Encoder
	zw      *zstd.Encoder
	closer  io.Closer
	session uuid.UUID

	flushInterval time.Duration
	stopFlush     func()
	stopped       bool
}

var _ Reporter = (*JSONLines)(nil)

// NewJSONLines writes the session header to w and returns the reporter. w is not
// closed on Stop.
func NewJSONLines(w io.Writer, cfg JSONLinesConfig) (*JSONLines, error) {
	session, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to create session id: %v", err)
	}

	j := &JSONLines{
		session:       session,
		flushInterval: cfg.FlushInterval,
	}
	if cfg.Compress {
		j.zw, err = zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %v", err)
		}
		w = j.zw
	}
	j.buf = bufio.NewWriter(w)
	j.enc = json.NewEncoder(j.buf)

	if err := j.enc.Encode(Header{
		Session:    session,
		Start:      time.Now().UTC(),
		CPUs:       cfg.CPUs,
		Resolution: cfg.Resolution,
		Version:    vc.Version(),
	}); err != nil {
		if j.zw != nil {
			_ = j.zw.Close()
		}
		return nil, fmt.Errorf("failed to write session header: %v", err)
	}
	return j, nil
}

// NewJSONLinesFile creates the file at path and records the session into it. The
// file is closed on Stop.
func NewJSONLinesFile(path string, cfg JSONLinesConfig) (*JSONLines, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	j, err := NewJSONLines(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	j.closer = f
	return j, nil
}

// SessionID returns the id written to the session header.
func (j *JSONLines) SessionID() uuid.UUID {
	return j.session
}

func (j *JSONLines) write(rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return os.ErrClosed
	}
	return j.enc.Encode(rec)
}

// ReportEvent implements the Reporter interface.
func (j *JSONLines) ReportEvent(ev *Event) error {
	return j.write(&Record{
		Type:      RecordEvent,
		Timestamp: ev.Timestamp,
		CPU:       ev.CPU,
		PID:       ev.PID,
		Runtime:   ev.Runtime,
		VRuntime:  ev.VRuntime,
		Comm:      ev.Comm,
	})
}

// ReportLost implements the Reporter interface.
func (j *JSONLines) ReportLost(cpu int, count uint64) error {
	return j.write(&Record{
		Type:      RecordLost,
		Timestamp: time.Now(),
		CPU:       uint32(cpu),
		Lost:      count,
	})
}

// Start implements the Reporter interface.
func (j *JSONLines) Start(ctx context.Context) error {
	if j.flushInterval <= 0 {
		return nil
	}
	j.stopFlush = periodiccaller.Start(ctx, j.flushInterval, j.flush)
	return nil
}

// flush writes the buffered lines out. A compressed recording gets a complete
// zstd block, readable before the stream is closed.
func (j *JSONLines) flush() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return
	}
	err := j.buf.Flush()
	if err == nil && j.zw != nil {
		err = j.zw.Flush()
	}
	if err != nil {
		log.Errorf("Failed to flush recording: %v", err)
	}
}

// Stop implements the Reporter interface. It completes the zstd stream, if any,
// and closes the file of NewJSONLinesFile.
func (j *JSONLines) Stop() {
	if j.stopFlush != nil {
		j.stopFlush()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return
	}
	j.stopped = true

	err := j.buf.Flush()
	if j.zw != nil {
		err = errors.Join(err, j.zw.Close())
	}
	if j.closer != nil {
		err = errors.Join(err, j.closer.Close())
	}
	if err != nil {
		log.Errorf("Failed to finish recording %s: %v", j.session, err)
	}
}
