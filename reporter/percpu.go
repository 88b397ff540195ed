// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "github.com/schedscope/schedscope/reporter"

import (
	"context"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schedscope/schedscope/periodiccaller"
)

// CPUSummary aggregates the events of one CPU.
type CPUSummary struct {
	CPU int
	// Picks is the number of events reported for the CPU.
	Picks uint64
	// PIDs is the number of distinct tasks seen on the CPU.
	PIDs int
	// Lost is the number of events dropped on the CPU.
	Lost uint64
}

type cpuStats struct {
	picks uint64
	lost  uint64
	pids  map[uint32]struct{}
}

// PerCPU aggregates events per CPU and logs a summary at every interval, on every
// value of the trigger channel and on Stop.
type PerCPU struct {
	mu   sync.Mutex
	cpus map[int]*cpuStats

	interval time.Duration
	trigger  <-chan struct{}
	stop     func()
}

var _ Reporter = (*PerCPU)(nil)

// NewPerCPU returns a PerCPU reporter. trigger may be nil.
func NewPerCPU(interval time.Duration, trigger <-chan struct{}) *PerCPU {
	return &PerCPU{
		cpus:     make(map[int]*cpuStats),
		interval: interval,
		trigger:  trigger,
	}
}

func (p *PerCPU) stats(cpu int) *cpuStats {
	s, ok := p.cpus[cpu]
	if !ok {
		s = &cpuStats{pids: make(map[uint32]struct{})}
		p.cpus[cpu] = s
	}
	return s
}

// ReportEvent implements the Reporter interface.
func (p *PerCPU) ReportEvent(ev *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats(int(ev.CPU))
	s.picks++
	s.pids[ev.PID] = struct{}{}
	return nil
}

// ReportLost implements the Reporter interface.
func (p *PerCPU) ReportLost(cpu int, count uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats(cpu).lost += count
	return nil
}

// Summary returns the aggregates sorted by CPU.
func (p *PerCPU) Summary() []CPUSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CPUSummary, 0, len(p.cpus))
	for cpu, s := range p.cpus {
		out = append(out, CPUSummary{
			CPU:   cpu,
			Picks: s.picks,
			PIDs:  len(s.pids),
			Lost:  s.lost,
		})
	}
	slices.SortFunc(out, func(a, b CPUSummary) int { return a.CPU - b.CPU })
	return out
}

func (p *PerCPU) logSummary() {
	for _, s := range p.Summary() {
		log.Infof("CPU %d: %d picks, %d distinct tasks, %d lost",
			s.CPU, s.Picks, s.PIDs, s.Lost)
	}
}

// Start implements the Reporter interface.
func (p *PerCPU) Start(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	p.stop = periodiccaller.StartWithManualTrigger(ctx, p.interval, p.trigger,
		func(manualTrigger bool) {
			if manualTrigger {
				log.Info("Per-CPU summary requested")
			}
			p.logSummary()
		})
	return nil
}

// Stop implements the Reporter interface.
func (p *PerCPU) Stop() {
	if p.stop != nil {
		p.stop()
	}
	p.logSummary()
}
