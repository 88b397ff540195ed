// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/schedscope/schedscope/internal/controller"

import (
	log "github.com/sirupsen/logrus"

	"github.com/schedscope/schedscope/metrics"
)

// metricsLogger writes the buffered metrics to the debug log.
type metricsLogger struct {
	names map[uint32]string
}

var _ metrics.MetricsReporter = (*metricsLogger)(nil)

func newMetricsLogger() (*metricsLogger, error) {
	defs, err := metrics.GetDefinitions()
	if err != nil {
		return nil, err
	}
	names := make(map[uint32]string, len(defs))
	for _, d := range defs {
		if d.Obsolete {
			continue
		}
		names[uint32(d.ID)] = d.Field
	}
	return &metricsLogger{names: names}, nil
}

// ReportMetrics implements the metrics.MetricsReporter interface.
func (m *metricsLogger) ReportMetrics(timestamp uint32, ids []uint32, values []int64) {
	fields := make(log.Fields, len(ids)+1)
	fields["timestamp"] = timestamp
	for i, id := range ids {
		name, ok := m.names[id]
		if !ok {
			continue
		}
		fields[name] = values[i]
	}
	log.WithFields(fields).Debug("Metrics")
}
