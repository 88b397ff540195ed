// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package times

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	tests := map[string]struct {
		poll, monitor, report          time.Duration
		wantPoll, wantMonitor, wantRep time.Duration
	}{
		"defaults": {
			wantPoll:    DefaultPollInterval,
			wantMonitor: DefaultMonitorInterval,
			wantRep:     DefaultReportInterval,
		},
		"explicit": {
			poll: time.Millisecond, monitor: time.Second, report: time.Minute,
			wantPoll: time.Millisecond, wantMonitor: time.Second, wantRep: time.Minute,
		},
		"negative": {
			poll:     -time.Second,
			wantPoll: DefaultPollInterval, wantMonitor: DefaultMonitorInterval,
			wantRep: DefaultReportInterval,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tm := New(tc.poll, tc.monitor, tc.report)
			assert.Equal(t, tc.wantPoll, tm.PollInterval())
			assert.Equal(t, tc.wantMonitor, tm.MonitorInterval())
			assert.Equal(t, tc.wantRep, tm.ReportInterval())
		})
	}
}

func TestKTimeToWallClock(t *testing.T) {
	StartRealtimeSync(context.Background(), 0)

	now := time.Now()
	kt := GetKTime()
	assert.WithinDuration(t, now, kt.Time(), 50*time.Millisecond)
}
