// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics collects the internal counters of schedscope and reports them.

Producers (the consumer loop, the model probe, the tracer's balance counters, the
comm cache) hand in []Metric slices at the monitor interval through Add or AddSlice.
Metrics are buffered per second and then forwarded to the OTel meter and, if one is
set, to a MetricsReporter.

Metric IDs and their types live in metrics.json. ids.go is generated from it:

	metrics
	├── agentmetrics/   // process self metrics (goroutines, heap, rusage)
	├── genids/         // ids.go generator
	├── doc.go          // this file
	├── ids.go          // generated metric IDs
	├── metrics.go      // Add(), AddSlice() and the OTel instruments
	├── metrics.json    // metric definitions, append only
	└── types.go        // Metric, MetricID, MetricValue, MetricDefinition
*/
package metrics
