// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedscope/schedscope/reporter"
)

var eventLine = regexp.MustCompile(
	`^(CPU: \d+, PID: (\d+), Runtime: \d+, VRuntime: \d+|Lost \d+ events on CPU \d+)$`)

func simConfig() *Config {
	return &Config{
		Simulate:        true,
		SimCPUs:         2,
		SimTasks:        4,
		SimRingCapacity: 256,
		SimTick:         time.Millisecond,
		SimSeed:         1,
		PollInterval:    5 * time.Millisecond,
		Duration:        100 * time.Millisecond,
	}
}

func runSession(t *testing.T, c *Controller) {
	t.Helper()
	require.NoError(t, c.Start(context.Background()))
	select {
	case <-c.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not end")
	}
	require.NoError(t, c.Shutdown())
	// A second shutdown is a no-op.
	require.NoError(t, c.Shutdown())
}

func TestControllerSimulate(t *testing.T) {
	tests := map[string]struct {
		skipIdle bool
	}{
		"all tasks": {},
		"skip idle": {skipIdle: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := simConfig()
			cfg.SkipIdle = tc.skipIdle

			var out bytes.Buffer
			c := New(cfg, WithStdout(&out))
			runSession(t, c)

			var events int
			sc := bufio.NewScanner(&out)
			for sc.Scan() {
				m := eventLine.FindStringSubmatch(sc.Text())
				require.NotNil(t, m, "unexpected line %q", sc.Text())
				if m[2] == "" {
					continue
				}
				events++
				if tc.skipIdle {
					assert.NotEqual(t, "0", m[2])
				}
			}
			assert.Positive(t, events)

			summary := c.Summary()
			require.Len(t, summary, 2)
			assert.Equal(t, 0, summary[0].CPU)
			assert.Equal(t, 1, summary[1].CPU)
		})
	}
}

func TestControllerRecording(t *testing.T) {
	cfg := simConfig()
	cfg.Resolution = "returned"
	cfg.Output = filepath.Join(t.TempDir(), "session.jsonl.zst")
	cfg.Compress = true

	runSession(t, New(cfg))

	f, err := os.Open(cfg.Output)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	dec := json.NewDecoder(zr)
	var hdr reporter.Header
	require.NoError(t, dec.Decode(&hdr))
	assert.Equal(t, 2, hdr.CPUs)
	assert.Equal(t, "returned", hdr.Resolution)

	var events int
	for dec.More() {
		var rec reporter.Record
		require.NoError(t, dec.Decode(&rec))
		if rec.Type != reporter.RecordEvent {
			continue
		}
		events++
		// Simulated tasks start at simFirstPID; the returned task is never idle.
		assert.GreaterOrEqual(t, rec.PID, uint32(simFirstPID))
		assert.Less(t, rec.CPU, uint32(2))
	}
	assert.Positive(t, events)
}

// countingReporter is slow enough for the simulated CPUs to overflow the ring.
type countingReporter struct {
	events, lost int
}

func (r *countingReporter) ReportEvent(*reporter.Event) error {
	r.events++
	time.Sleep(5 * time.Millisecond)
	return nil
}

func (r *countingReporter) ReportLost(_ int, count uint64) error {
	r.lost += int(count)
	return nil
}

func (r *countingReporter) Start(context.Context) error { return nil }

func (r *countingReporter) Stop() {}

func TestControllerWithReporter(t *testing.T) {
	rep := &countingReporter{}
	cfg := simConfig()
	cfg.SimRingCapacity = 1
	cfg.Duration = 200 * time.Millisecond

	var out bytes.Buffer
	runSession(t, New(cfg, WithReporter(rep), WithStdout(&out)))

	assert.Empty(t, out.String())
	assert.Positive(t, rep.events)
	assert.Positive(t, rep.lost)
}

func TestControllerStartFailure(t *testing.T) {
	c := New(&Config{Simulate: true, Resolution: "next"})
	err := c.Start(context.Background())
	require.Error(t, err)

	var exitErr ErrorWithExitCode
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitParseError, exitErr.Code())
	require.NoError(t, c.Shutdown())
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"defaults":              {cfg: Config{}},
		"returned":              {cfg: Config{Resolution: "returned"}},
		"bad resolution":        {cfg: Config{Resolution: "next"}, wantErr: true},
		"kretprobe for current": {cfg: Config{Probe: "kretprobe:pick_next_task_fair"}},
		"kprobe for returned": {
			cfg:     Config{Probe: "kprobe:pick_next_task_fair", Resolution: "returned"},
			wantErr: true,
		},
		"bad probe":           {cfg: Config{Probe: "uprobe:foo"}, wantErr: true},
		"ringbuf":             {cfg: Config{Transport: "ringbuf"}},
		"bad transport":       {cfg: Config{Transport: "pipe"}, wantErr: true},
		"negative duration":   {cfg: Config{Duration: -time.Second}, wantErr: true},
		"negative poll":       {cfg: Config{PollInterval: -time.Second}, wantErr: true},
		"negative max events": {cfg: Config{MaxEvents: -1}, wantErr: true},
		"compress to stdout":  {cfg: Config{Compress: true}, wantErr: true},
		"compress to file":    {cfg: Config{Compress: true, Output: "out.zst"}},
		"sim without ring": {
			cfg:     Config{Simulate: true},
			wantErr: true,
		},
		"sim negative cpus": {
			cfg:     Config{Simulate: true, SimCPUs: -1, SimRingCapacity: 1},
			wantErr: true,
		},
		"sim": {cfg: Config{Simulate: true, SimRingCapacity: 1}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var exitErr ErrorWithExitCode
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, ExitParseError, exitErr.Code())
		})
	}
}

func TestCommCacheSize(t *testing.T) {
	tests := map[string]struct {
		cores int
		want  uint32
	}{
		"single core":   {cores: 1, want: 4096},
		"16 cores":      {cores: 16, want: 4096},
		"17 cores":      {cores: 17, want: 8192},
		"64 cores":      {cores: 64, want: 16384},
		"odd core size": {cores: 96, want: 32768},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, commCacheSize(tc.cores))
		})
	}

	size, err := CommCacheSize()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, uint32(4096))
}

func TestMetricsLogger(t *testing.T) {
	var out bytes.Buffer
	log.SetOutput(&out)
	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(level)
	}()

	ml, err := newMetricsLogger()
	require.NoError(t, err)
	ml.ReportMetrics(1700000000, []uint32{1, 9999}, []int64{42, 7})

	assert.Contains(t, out.String(), "schedscope.go_routines=42")
	assert.NotContains(t, out.String(), "=7")
}

func TestErrorWithExitCode(t *testing.T) {
	inner := errors.New("boom")
	err := ErrorWithExitCode{error: inner, code: ExitFailure}
	assert.Equal(t, ExitFailure, err.Code())
	require.ErrorIs(t, err, inner)
}
