// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package simsched simulates the per-CPU run queues of the fair scheduling class and
// runs the pick-next-task probe on every decision. It drives the in-memory transport
// in -simulate mode and in end-to-end tests, where no BPF capable kernel is around.
package simsched // import "github.com/schedscope/schedscope/simsched"

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tklauser/numcpus"
	"golang.org/x/sync/errgroup"

	"github.com/schedscope/schedscope/probe"
)

const (
	// NiceZeroWeight is the load weight of a nice 0 task.
	NiceZeroWeight = 1024
	// MinNice and MaxNice bound the nice values.
	MinNice = -20
	MaxNice = 19

	// DefaultSlice is the runtime charged to a task per pick.
	DefaultSlice = 3 * time.Millisecond
	// DefaultTick is the wall clock time between two picks on a simulated CPU.
	DefaultTick = time.Millisecond
)

// niceToWeight maps nice -20..19 to load weights. Each nice level is worth about
// 10% of CPU time relative to its neighbour.
var niceToWeight = [MaxNice - MinNice + 1]uint64{
	/* -20 */ 88761, 71755, 56483, 46273, 36291,
	/* -15 */ 29154, 23254, 18705, 14949, 11916,
	/* -10 */ 9548, 7620, 6100, 4904, 3906,
	/*  -5 */ 3121, 2501, 1991, 1586, 1277,
	/*   0 */ 1024, 820, 655, 526, 423,
	/*   5 */ 335, 272, 215, 172, 137,
	/*  10 */ 110, 87, 70, 56, 45,
	/*  15 */ 36, 29, 23, 18, 15,
}

// ErrInvalidCPU is returned for CPUs the simulation does not have.
var ErrInvalidCPU = errors.New("invalid cpu")

// WeightForNice returns the load weight of a nice value. Out of range values
// are clamped.
func WeightForNice(nice int) uint64 {
	nice = min(max(nice, MinNice), MaxNice)
	return niceToWeight[nice-MinNice]
}

// Task is a simulated fair-class task.
type Task struct {
	probe.Task
	Nice   int
	Weight uint64
}

// charge accounts delta of execution time to t, scaling the virtual runtime by the
// task's weight like the kernel's calc_delta_fair.
func (t *Task) charge(delta uint64) {
	t.SumExecRuntime += delta
	if t.Weight == NiceZeroWeight {
		t.VRuntime += delta
		return
	}
	t.VRuntime += delta * NiceZeroWeight / t.Weight
}

// RunQueue is the fair run queue of one CPU. It implements probe.ExecContext: the
// current task is the one running when the pick starts.
type RunQueue struct {
	// mu is only contended by AddTask and the snapshot getters; picks on a CPU
	// come from a single goroutine.
	mu   sync.Mutex
	cpu  uint32
	rand *rand.Rand
	idle Task
	curr *Task
	// tasks holds the runnable tasks, including curr unless it is idle.
	tasks       []*Task
	minVRuntime uint64
	picks       uint64
}

// CPU implements probe.ExecContext.
func (rq *RunQueue) CPU() uint32 { return rq.cpu }

// CurrentTask implements probe.ExecContext.
func (rq *RunQueue) CurrentTask() *probe.Task {
	if rq.curr == nil {
		return nil
	}
	return &rq.curr.Task
}

// pick returns the runnable task with the smallest virtual runtime, ties broken by
// pid, or nil if nothing is runnable.
func (rq *RunQueue) pick() *Task {
	var best *Task
	for _, t := range rq.tasks {
		if best == nil || t.VRuntime < best.VRuntime ||
			(t.VRuntime == best.VRuntime && t.PID < best.PID) {
			best = t
		}
	}
	return best
}

func (rq *RunQueue) updateMinVRuntime() {
	if len(rq.tasks) == 0 {
		return
	}
	m := rq.tasks[0].VRuntime
	for _, t := range rq.tasks[1:] {
		m = min(m, t.VRuntime)
	}
	// min_vruntime only moves forward.
	rq.minVRuntime = max(rq.minVRuntime, m)
}

// Config configures a Scheduler.
type Config struct {
	// CPUs is the number of simulated CPUs. Zero uses the number of online CPUs.
	CPUs int
	// Slice is the execution time charged per pick. Zero uses DefaultSlice.
	Slice time.Duration
	// Jitter in [0,1] varies the charged slice by up to +/- Jitter*Slice.
	Jitter float64
	// Seed seeds the slice jitter.
	Seed uint64
}

// Scheduler is a set of simulated run queues.
type Scheduler struct {
	probe *probe.Probe
	slice uint64
	// jitter is the maximum slice deviation in ns.
	jitter uint64

	rqs []*RunQueue
}

// New creates a scheduler with empty run queues that reports every pick to p.
func New(cfg Config, p *probe.Probe) (*Scheduler, error) {
	if p == nil {
		return nil, errors.New("missing probe")
	}
	nCPU := cfg.CPUs
	if nCPU == 0 {
		online, err := numcpus.GetOnline()
		if err != nil {
			return nil, fmt.Errorf("failed to get online CPUs: %v", err)
		}
		nCPU = online
	}
	if nCPU < 1 {
		return nil, fmt.Errorf("need at least one cpu, got %d", nCPU)
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		return nil, fmt.Errorf("jitter %f out of range [0..1]", cfg.Jitter)
	}
	slice := cfg.Slice
	if slice <= 0 {
		slice = DefaultSlice
	}

	s := &Scheduler{
		probe:  p,
		slice:  uint64(slice.Nanoseconds()),
		jitter: uint64(cfg.Jitter * float64(slice.Nanoseconds())),
		rqs:    make([]*RunQueue, nCPU),
	}
	for i := range s.rqs {
		rq := &RunQueue{
			cpu:  uint32(i),
			rand: rand.New(rand.NewPCG(cfg.Seed, uint64(i))),
		}
		// The idle task has pid 0 and runs until the first fair task shows up.
		rq.curr = &rq.idle
		s.rqs[i] = rq
	}
	return s, nil
}

// NumCPU returns the number of simulated CPUs.
func (s *Scheduler) NumCPU() int {
	return len(s.rqs)
}

// AddTask enqueues a new task on cpu. Like a newly forked task it starts at the
// run queue's min_vruntime.
func (s *Scheduler) AddTask(cpu int, pid uint32, nice int) error {
	if pid == 0 {
		return errors.New("pid 0 is reserved for the idle task")
	}
	rq, err := s.runQueue(cpu)
	if err != nil {
		return err
	}
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.tasks = append(rq.tasks, &Task{
		Task:   probe.Task{PID: pid, VRuntime: rq.minVRuntime},
		Nice:   nice,
		Weight: WeightForNice(nice),
	})
	return nil
}

// Spread adds n tasks with pids starting at firstPID round robin over all CPUs.
// Nice values cycle through -5..5 so the run queues hold mixed weights.
func (s *Scheduler) Spread(n int, firstPID uint32) error {
	for i := range n {
		nice := i%11 - 5
		if err := s.AddTask(i%len(s.rqs), firstPID+uint32(i), nice); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runQueue(cpu int) (*RunQueue, error) {
	if cpu < 0 || cpu >= len(s.rqs) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}
	return s.rqs[cpu], nil
}

func (s *Scheduler) nextSlice(rq *RunQueue) uint64 {
	if s.jitter == 0 {
		return s.slice
	}
	// slice +/- jitter
	return s.slice - s.jitter + rq.rand.Uint64N(2*s.jitter+1)
}

// Step runs one scheduling decision on cpu. The probe fires while the previous
// task is still current and sees the chosen task as the return value. The chosen
// task then runs for one slice.
func (s *Scheduler) Step(cpu int) (probe.Result, error) {
	rq, err := s.runQueue(cpu)
	if err != nil {
		return 0, err
	}
	rq.mu.Lock()
	defer rq.mu.Unlock()

	next := rq.pick()
	inv := probe.Invocation{Ctx: rq}
	if next != nil {
		inv.Returned = &next.Task
	}
	res := s.probe.PickNextTaskFair(inv)
	rq.picks++

	if next == nil {
		rq.curr = &rq.idle
		return res, nil
	}
	rq.curr = next
	next.charge(s.nextSlice(rq))
	rq.updateMinVRuntime()
	return res, nil
}

// Tasks returns a copy of the tasks queued on cpu.
func (s *Scheduler) Tasks(cpu int) []Task {
	rq, err := s.runQueue(cpu)
	if err != nil {
		return nil
	}
	rq.mu.Lock()
	defer rq.mu.Unlock()
	out := make([]Task, 0, len(rq.tasks))
	for _, t := range rq.tasks {
		out = append(out, *t)
	}
	return out
}

// Picks returns the number of scheduling decisions per CPU.
func (s *Scheduler) Picks() []uint64 {
	picks := make([]uint64, len(s.rqs))
	for i, rq := range s.rqs {
		rq.mu.Lock()
		picks[i] = rq.picks
		rq.mu.Unlock()
	}
	return picks
}

// Run drives every CPU from its own goroutine, one pick per tick, until ctx is
// done. Each CPU has exactly one writer, like the kernel's per-CPU scheduling path.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = DefaultTick
	}
	log.Debugf("Simulating %d CPUs with a pick every %v", len(s.rqs), tick)

	g, ctx := errgroup.WithContext(ctx)
	for cpu := range s.rqs {
		g.Go(func() error {
			ticker := time.NewTicker(tick)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := s.Step(cpu); err != nil {
						return err
					}
				}
			}
		})
	}
	return g.Wait()
}
