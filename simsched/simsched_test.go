// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package simsched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedscope/schedscope/probe"
	"github.com/schedscope/schedscope/support"
)

type recorder struct {
	events []support.SchedEvent
}

func (r *recorder) Submit(_ int, record []byte) error {
	var ev support.SchedEvent
	if err := support.DecodeSchedEvent(record, &ev); err != nil {
		return err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestWeightForNice(t *testing.T) {
	tests := map[string]struct {
		nice int
		want uint64
	}{
		"nice 0":        {nice: 0, want: NiceZeroWeight},
		"nice -20":      {nice: -20, want: 88761},
		"nice 19":       {nice: 19, want: 15},
		"clamped low":   {nice: -100, want: 88761},
		"clamped high":  {nice: 100, want: 15},
		"nice 1 weaker": {nice: 1, want: 820},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, WeightForNice(tc.nice))
		})
	}
}

func TestNewValidation(t *testing.T) {
	p := probe.New(&recorder{}, probe.ResolveReturned)

	_, err := New(Config{CPUs: 1}, nil)
	require.Error(t, err)
	_, err = New(Config{CPUs: -1}, p)
	require.Error(t, err)
	_, err = New(Config{CPUs: 1, Jitter: 1.5}, p)
	require.Error(t, err)

	s, err := New(Config{CPUs: 2}, p)
	require.NoError(t, err)
	assert.Equal(t, 2, s.NumCPU())
	require.ErrorIs(t, s.AddTask(2, 1, 0), ErrInvalidCPU)
	require.Error(t, s.AddTask(0, 0, 0))
	_, err = s.Step(5)
	require.ErrorIs(t, err, ErrInvalidCPU)
}

func TestPickMinimumVRuntime(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{CPUs: 1, Slice: time.Millisecond}, probe.New(rec, probe.ResolveReturned))
	require.NoError(t, err)

	require.NoError(t, s.AddTask(0, 10, 0))
	require.NoError(t, s.AddTask(0, 11, 0))
	require.NoError(t, s.AddTask(0, 12, 0))

	for range 6 {
		res, err := s.Step(0)
		require.NoError(t, err)
		assert.Equal(t, probe.Submitted, res)
	}

	// Equal weights and equal start: round robin in pid order.
	pids := make([]uint32, 0, len(rec.events))
	for _, ev := range rec.events {
		pids = append(pids, ev.PID)
	}
	assert.Equal(t, []uint32{10, 11, 12, 10, 11, 12}, pids)

	// The record shows the counters at pick time, before the slice is charged.
	assert.Equal(t, support.SchedEvent{CPU: 0, PID: 10, Runtime: 0, VRuntime: 0}, rec.events[0])
	assert.Equal(t, support.SchedEvent{CPU: 0, PID: 10, Runtime: 1_000_000, VRuntime: 1_000_000},
		rec.events[3])

	for _, task := range s.Tasks(0) {
		assert.Equal(t, uint64(2_000_000), task.SumExecRuntime)
		assert.Equal(t, uint64(2_000_000), task.VRuntime)
	}
	assert.Equal(t, []uint64{6}, s.Picks())
}

func TestWeightsShareTime(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{CPUs: 1}, probe.New(rec, probe.ResolveReturned))
	require.NoError(t, err)

	require.NoError(t, s.AddTask(0, 1, 0))  // weight 1024
	require.NoError(t, s.AddTask(0, 2, -5)) // weight 3121

	for range 1000 {
		_, err := s.Step(0)
		require.NoError(t, err)
	}

	var heavy, light int
	for _, ev := range rec.events {
		switch ev.PID {
		case 1:
			light++
		case 2:
			heavy++
		}
	}
	// The heavier task runs about 3121/1024 times as often.
	ratio := float64(heavy) / float64(light)
	assert.InDelta(t, 3121.0/1024.0, ratio, 0.1)

	// Virtual runtimes stay within one weighted slice of each other.
	tasks := s.Tasks(0)
	require.Len(t, tasks, 2)
	diff := int64(tasks[0].VRuntime) - int64(tasks[1].VRuntime)
	assert.LessOrEqual(t, diff, int64(DefaultSlice))
	assert.GreaterOrEqual(t, diff, -int64(DefaultSlice))
}

func TestResolutionModes(t *testing.T) {
	tests := map[string]struct {
		resolution probe.Resolution
		want       []uint32
		skipped    uint64
	}{
		// The probe sees the previous task: idle first, then the task that ran.
		"current": {resolution: probe.ResolveCurrent, want: []uint32{0, 7, 7}},
		// The probe sees the task being picked, nothing once the queue is empty.
		"returned": {resolution: probe.ResolveReturned, want: []uint32{7, 7}, skipped: 1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			p := probe.New(rec, tc.resolution)
			s, err := New(Config{CPUs: 1}, p)
			require.NoError(t, err)

			require.NoError(t, s.AddTask(0, 7, 0))
			for range 2 {
				_, err := s.Step(0)
				require.NoError(t, err)
			}
			// Dequeue the task; the next pick finds an empty run queue.
			s.rqs[0].mu.Lock()
			s.rqs[0].tasks = nil
			s.rqs[0].mu.Unlock()
			_, err = s.Step(0)
			require.NoError(t, err)

			pids := make([]uint32, 0, len(rec.events))
			for _, ev := range rec.events {
				pids = append(pids, ev.PID)
			}
			assert.Equal(t, tc.want, pids)
			assert.Equal(t, tc.skipped, p.Counts().Get(probe.SkippedUnresolved))
		})
	}
}

func TestNewTaskStartsAtMinVRuntime(t *testing.T) {
	s, err := New(Config{CPUs: 1}, probe.New(&recorder{}, probe.ResolveReturned))
	require.NoError(t, err)

	require.NoError(t, s.AddTask(0, 1, 0))
	for range 10 {
		_, err := s.Step(0)
		require.NoError(t, err)
	}
	require.NoError(t, s.AddTask(0, 2, 0))

	tasks := s.Tasks(0)
	require.Len(t, tasks, 2)
	assert.Equal(t, uint64(10*DefaultSlice), tasks[0].VRuntime)
	assert.Equal(t, tasks[0].VRuntime, tasks[1].VRuntime)
}

func TestSpreadAndRun(t *testing.T) {
	rec := &counter{}
	s, err := New(Config{CPUs: 4, Jitter: 0.5, Seed: 1}, probe.New(rec, probe.ResolveReturned))
	require.NoError(t, err)
	require.NoError(t, s.Spread(8, 100))

	for cpu := range 4 {
		assert.Len(t, s.Tasks(cpu), 2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx, time.Millisecond))

	for cpu, n := range s.Picks() {
		assert.Positive(t, n, "cpu %d made no picks", cpu)
	}
}

// counter is a Submitter that is safe for concurrent use.
type counter struct {
	n [4]uint64
}

func (c *counter) Submit(cpu int, _ []byte) error {
	c.n[cpu]++
	return nil
}
