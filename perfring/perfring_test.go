// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package perfring

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cilium/ebpf/perf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecordSize = 8

func record(v uint64) []byte {
	buf := make([]byte, testRecordSize)
	binary.NativeEndian.PutUint64(buf, v)
	return buf
}

func value(rec *perf.Record) uint64 {
	return binary.NativeEndian.Uint64(rec.RawSample)
}

// drain reads until the reader reports no more data.
func drain(t *testing.T, rd *Reader) (values map[int][]uint64, lost uint64) {
	t.Helper()
	values = make(map[int][]uint64)
	rd.SetDeadline(time.Unix(1, 0))
	var rec perf.Record
	for {
		err := rd.ReadInto(&rec)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return values, lost
		}
		require.NoError(t, err)
		if rec.LostSamples != 0 {
			lost += rec.LostSamples
			continue
		}
		values[rec.CPU] = append(values[rec.CPU], value(&rec))
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(0, 1, 1)
	require.Error(t, err)
	_, err = New(1, 0, 1)
	require.Error(t, err)
	_, err = New(1, 1, 0)
	require.Error(t, err)
}

func TestSubmitValidation(t *testing.T) {
	r, err := New(2, 4, testRecordSize)
	require.NoError(t, err)

	require.ErrorIs(t, r.Submit(2, record(1)), ErrInvalidCPU)
	require.ErrorIs(t, r.Submit(-1, record(1)), ErrInvalidCPU)
	require.ErrorIs(t, r.Submit(0, make([]byte, testRecordSize+1)), ErrRecordSize)
	assert.Zero(t, r.Pending(0))
}

func TestPerCPUFIFO(t *testing.T) {
	r, err := New(4, 64, testRecordSize)
	require.NoError(t, err)
	rd := NewReader(r)

	var wg sync.WaitGroup
	for cpu := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				assert.NoError(t, r.Submit(cpu, record(uint64(cpu*1000+i))))
			}
		}()
	}
	wg.Wait()

	values, lost := drain(t, rd)
	assert.Zero(t, lost)
	for cpu := range 4 {
		require.Len(t, values[cpu], 50)
		for i, v := range values[cpu] {
			assert.Equal(t, uint64(cpu*1000+i), v)
		}
	}
}

func TestOverflowCountsExactDrops(t *testing.T) {
	tests := map[string]struct {
		capacity  int
		submitted int
	}{
		"capacity 1, two records":  {capacity: 1, submitted: 2},
		"capacity 4, ten records":  {capacity: 4, submitted: 10},
		"capacity 8, exactly full": {capacity: 8, submitted: 8},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := New(1, tc.capacity, testRecordSize)
			require.NoError(t, err)
			rd := NewReader(r)

			for i := range tc.submitted {
				err := r.Submit(0, record(uint64(i)))
				if i < tc.capacity {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, ErrFull)
				}
			}

			values, lost := drain(t, rd)
			expectedDrops := uint64(tc.submitted - tc.capacity)
			assert.Equal(t, expectedDrops, lost)
			assert.Equal(t, expectedDrops, r.Dropped())

			// The oldest records survive, later ones are dropped.
			require.Len(t, values[0], tc.capacity)
			for i, v := range values[0] {
				assert.Equal(t, uint64(i), v)
			}
		})
	}
}

func TestLostReportedAfterBufferedRecords(t *testing.T) {
	r, err := New(1, 1, testRecordSize)
	require.NoError(t, err)
	rd := NewReader(r)

	require.NoError(t, r.Submit(0, record(7)))
	require.ErrorIs(t, r.Submit(0, record(8)), ErrFull)

	rd.SetDeadline(time.Unix(1, 0))
	var rec perf.Record
	require.NoError(t, rd.ReadInto(&rec))
	assert.Equal(t, uint64(7), value(&rec))
	assert.Zero(t, rec.LostSamples)

	require.NoError(t, rd.ReadInto(&rec))
	assert.Equal(t, uint64(1), rec.LostSamples)
	assert.Empty(t, rec.RawSample)

	require.ErrorIs(t, rd.ReadInto(&rec), os.ErrDeadlineExceeded)
}

func TestReadEmptyIsIdempotent(t *testing.T) {
	r, err := New(2, 4, testRecordSize)
	require.NoError(t, err)
	rd := NewReader(r)

	require.NoError(t, r.Submit(1, record(1)))
	values, _ := drain(t, rd)
	assert.Equal(t, []uint64{1}, values[1])

	for range 3 {
		values, lost := drain(t, rd)
		assert.Empty(t, values)
		assert.Zero(t, lost)
	}
}

func TestReadDeadline(t *testing.T) {
	r, err := New(1, 4, testRecordSize)
	require.NoError(t, err)
	rd := NewReader(r)

	rd.SetDeadline(time.Now().Add(50 * time.Millisecond))
	start := time.Now()
	var rec perf.Record
	err = rd.ReadInto(&rec)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestReadWakesOnSubmit(t *testing.T) {
	r, err := New(2, 4, testRecordSize)
	require.NoError(t, err)
	rd := NewReader(r)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.Submit(1, record(99))
	}()

	rd.SetDeadline(time.Now().Add(5 * time.Second))
	var rec perf.Record
	require.NoError(t, rd.ReadInto(&rec))
	assert.Equal(t, 1, rec.CPU)
	assert.Equal(t, uint64(99), value(&rec))
}

func TestCloseUnblocksReader(t *testing.T) {
	r, err := New(1, 4, testRecordSize)
	require.NoError(t, err)
	rd := NewReader(r)

	errCh := make(chan error, 1)
	go func() {
		var rec perf.Record
		errCh <- rd.ReadInto(&rec)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not return after Close")
	}

	require.ErrorIs(t, r.Submit(0, record(1)), ErrClosed)
}

func TestCloseDuringSubmitNeverExposesPartialRecords(t *testing.T) {
	r, err := New(1, 16, testRecordSize)
	require.NoError(t, err)
	rd := NewReader(r)

	// Every record is the same byte repeated, so a torn copy is detectable.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			b := byte(i%250 + 1)
			rec := []byte{b, b, b, b, b, b, b, b}
			if err := r.Submit(0, rec); errors.Is(err, ErrClosed) {
				return
			}
		}
	}()

	var rec perf.Record
	rd.SetDeadline(time.Time{})
	for range 200 {
		if err := rd.ReadInto(&rec); err != nil {
			require.ErrorIs(t, err, ErrClosed)
			break
		}
		if rec.LostSamples != 0 {
			continue
		}
		for _, b := range rec.RawSample {
			require.Equal(t, rec.RawSample[0], b)
		}
	}
	require.NoError(t, r.Close())
	wg.Wait()
}

func TestNestedWriteIsRejected(t *testing.T) {
	r, err := New(1, 4, testRecordSize)
	require.NoError(t, err)

	// Simulate a writer that was interrupted on this CPU.
	r.cpus[0].writing.Store(true)
	require.ErrorIs(t, r.Submit(0, record(1)), ErrBusy)
	r.cpus[0].writing.Store(false)

	require.NoError(t, r.Submit(0, record(1)))
	assert.Zero(t, r.Dropped())
}
