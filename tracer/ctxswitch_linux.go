//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"fmt"

	"github.com/elastic/go-perf"
	log "github.com/sirupsen/logrus"
)

// contextSwitchCounters are software perf counters of context switches, one per
// online CPU. They give the number of sched events to expect.
type contextSwitchCounters struct {
	events []*perf.Event
}

func newContextSwitchCounters() (*contextSwitchCounters, error) {
	attr := new(perf.Attr)
	if err := perf.ContextSwitches.Configure(attr); err != nil {
		return nil, fmt.Errorf("failed to configure software perf event: %v", err)
	}

	onlineCPUIDs, err := getOnlineCPUIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to get online CPUs: %v", err)
	}

	c := &contextSwitchCounters{events: make([]*perf.Event, 0, len(onlineCPUIDs))}
	for _, id := range onlineCPUIDs {
		event, err := perf.Open(attr, perf.AllThreads, id, nil)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("failed to open perf event on CPU %d: %v", id, err)
		}
		c.events = append(c.events, event)
		if err := event.Enable(); err != nil {
			c.close()
			return nil, fmt.Errorf("failed to enable perf event on CPU %d: %v", id, err)
		}
	}
	return c, nil
}

// read returns the context switches summed over all CPUs.
func (c *contextSwitchCounters) read() (uint64, error) {
	var total uint64
	for _, event := range c.events {
		count, err := event.ReadCount()
		if err != nil {
			return 0, err
		}
		total += count.Value
	}
	return total, nil
}

func (c *contextSwitchCounters) close() {
	for _, event := range c.events {
		if err := event.Disable(); err != nil {
			log.Errorf("Failed to disable perf event: %v", err)
		}
		if err := event.Close(); err != nil {
			log.Errorf("Failed to close perf event: %v", err)
		}
	}
	c.events = nil
}
