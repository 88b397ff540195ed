// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package eventhandler // import "github.com/schedscope/schedscope/eventhandler"

import "github.com/schedscope/schedscope/metrics"

func (h *Handler) collectMetrics() {
	metrics.AddSlice([]metrics.Metric{
		{
			ID:    metrics.IDCommCacheHit,
			Value: metrics.MetricValue(h.commCacheHit.Swap(0)),
		},
		{
			ID:    metrics.IDCommCacheMiss,
			Value: metrics.MetricValue(h.commCacheMiss.Swap(0)),
		},
	})
}
