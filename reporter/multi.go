// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "github.com/schedscope/schedscope/reporter"

import (
	"context"
	"errors"
)

// Multi fans out to several reporters.
type Multi []Reporter

var _ Reporter = Multi(nil)

// ReportEvent implements the Reporter interface. Every reporter sees the event,
// the errors of all of them are joined.
func (m Multi) ReportEvent(ev *Event) error {
	var errs []error
	for _, r := range m {
		if err := r.ReportEvent(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReportLost implements the Reporter interface.
func (m Multi) ReportLost(cpu int, count uint64) error {
	var errs []error
	for _, r := range m {
		if err := r.ReportLost(cpu, count); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start implements the Reporter interface. If a reporter fails to start, the
// ones started before it are stopped again.
func (m Multi) Start(ctx context.Context) error {
	for i, r := range m {
		if err := r.Start(ctx); err != nil {
			for _, started := range m[:i] {
				started.Stop()
			}
			return err
		}
	}
	return nil
}

// Stop implements the Reporter interface.
func (m Multi) Stop() {
	for _, r := range m {
		r.Stop()
	}
}
