// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/schedscope/schedscope/internal/controller"

import (
	"io"

	"github.com/schedscope/schedscope/reporter"
)

type Option interface {
	applyOption(*Controller) *Controller
}
type controllerOptionFunc func(*Controller) *Controller

func (f controllerOptionFunc) applyOption(c *Controller) *Controller {
	return f(c)
}

// WithReporter sets a custom reporter that replaces the text or recording output.
// The per-CPU summary is still added.
func WithReporter(rep reporter.Reporter) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.output = rep
		return c
	})
}

// WithStdout sets where the text reporter prints events. This defaults to os.Stdout.
func WithStdout(w io.Writer) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.stdout = w
		return c
	})
}
