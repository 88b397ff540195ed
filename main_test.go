// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedscope/schedscope/internal/controller"
	"github.com/schedscope/schedscope/tracer"
)

func TestParseArgsDefaults(t *testing.T) {
	cfg, showCopyright, err := parseArgs(nil)
	require.NoError(t, err)
	assert.False(t, showCopyright)

	assert.Equal(t, "current", cfg.Resolution)
	assert.Equal(t, tracer.TransportAuto, cfg.Transport)
	assert.Equal(t, tracer.DefaultPerfBufferPages, cfg.PerfBufferPages)
	assert.Equal(t, tracer.DefaultRingBufSize, cfg.RingBufSize)
	assert.Equal(t, defaultArgPollInterval, cfg.PollInterval)
	assert.Equal(t, defaultArgSimRingCapacity, cfg.SimRingCapacity)
	assert.False(t, cfg.Simulate)
	assert.NotNil(t, cfg.Fs)
	require.NoError(t, cfg.Validate())
}

func TestParseArgs(t *testing.T) {
	tests := map[string]struct {
		args  []string
		env   map[string]string
		check func(t *testing.T, cfg *controller.Config)
	}{
		"flags": {
			args: []string{"-resolve", "returned", "-attach", "kretprobe:pick_next_task_fair",
				"-transport", "perf", "-skip-idle", "-duration", "5s", "-v"},
			check: func(t *testing.T, cfg *controller.Config) {
				assert.Equal(t, "returned", cfg.Resolution)
				assert.Equal(t, "kretprobe:pick_next_task_fair", cfg.Probe)
				assert.Equal(t, tracer.TransportPerf, cfg.Transport)
				assert.True(t, cfg.SkipIdle)
				assert.Equal(t, 5*time.Second, cfg.Duration)
				assert.True(t, cfg.VerboseMode)
			},
		},
		"simulation": {
			args: []string{"-simulate", "-sim-cpus", "4", "-sim-tasks", "16",
				"-sim-ring-capacity", "8", "-sim-seed", "42"},
			check: func(t *testing.T, cfg *controller.Config) {
				assert.True(t, cfg.Simulate)
				assert.Equal(t, 4, cfg.SimCPUs)
				assert.Equal(t, 16, cfg.SimTasks)
				assert.Equal(t, 8, cfg.SimRingCapacity)
				assert.Equal(t, uint64(42), cfg.SimSeed)
			},
		},
		"environment": {
			env: map[string]string{
				"SCHEDSCOPE_OUTPUT":   "/tmp/session.jsonl.zst",
				"SCHEDSCOPE_COMPRESS": "true",
				"SCHEDSCOPE_COMM":     "true",
			},
			check: func(t *testing.T, cfg *controller.Config) {
				assert.Equal(t, "/tmp/session.jsonl.zst", cfg.Output)
				assert.True(t, cfg.Compress)
				assert.True(t, cfg.Comm)
			},
		},
		"flags override environment": {
			args: []string{"-max-events", "10"},
			env:  map[string]string{"SCHEDSCOPE_MAX_EVENTS": "20"},
			check: func(t *testing.T, cfg *controller.Config) {
				assert.Equal(t, 10, cfg.MaxEvents)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, _, err := parseArgs(tc.args)
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestParseArgsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedscope.conf")
	require.NoError(t, os.WriteFile(path, []byte(
		"resolve returned\nbalance-counters true\nunknown-option 1\n"), 0o600))

	cfg, _, err := parseArgs([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "returned", cfg.Resolution)
	assert.True(t, cfg.BalanceCounters)

	// A missing configuration file is not an error.
	_, _, err = parseArgs([]string{"-config", filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
}

func TestParseArgsErrors(t *testing.T) {
	_, _, err := parseArgs([]string{"-no-such-flag"})
	require.Error(t, err)

	_, _, err = parseArgs([]string{"-h"})
	require.ErrorIs(t, err, flag.ErrHelp)

	_, showCopyright, err := parseArgs([]string{"-copyright"})
	require.NoError(t, err)
	assert.True(t, showCopyright)
}
