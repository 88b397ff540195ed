// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/schedscope/schedscope/internal/controller"

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/schedscope/schedscope/reporter"
	"github.com/schedscope/schedscope/times"
	"github.com/schedscope/schedscope/vc"
)

// startReporter sets up the reporters on the controller: the configured output
// and the per-CPU summary, which can also be requested with SIGUSR1.
func (c *Controller) startReporter(ctx context.Context, intervals *times.Times,
	cpus int) error {
	out := c.output
	if out == nil {
		if c.config.Output != "" {
			rec, err := reporter.NewJSONLinesFile(c.config.Output, reporter.JSONLinesConfig{
				Compress:      c.config.Compress,
				CPUs:          cpus,
				Resolution:    c.config.resolution.String(),
				FlushInterval: intervals.MonitorInterval(),
			})
			if err != nil {
				return err
			}
			log.Infof("Recording session %s (%s) to %s", rec.SessionID(), vc.Version(),
				c.config.Output)
			out = rec
		} else {
			out = reporter.NewText(c.stdout, true)
		}
	}

	c.perCPU = reporter.NewPerCPU(intervals.ReportInterval(), summaryTrigger(ctx))

	rep := reporter.Multi{out, c.perCPU}
	if err := rep.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reporter: %w", err)
	}
	c.reporter = rep
	return nil
}

// summaryTrigger returns a channel that receives a value for every SIGUSR1 until
// ctx is done.
func summaryTrigger(ctx context.Context) <-chan struct{} {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGUSR1)

	trigger := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
		}
	}()
	return trigger
}
