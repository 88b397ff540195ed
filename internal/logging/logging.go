// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging configures the logrus standard logger shared by all packages.
package logging // import "github.com/schedscope/schedscope/internal/logging"

import (
	"io"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// time.RFC3339Nano removes trailing zeros from the seconds field.
// The following format doesn't (fixed-width output).
const timeStampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Setup configures the standard logger: precise fixed-width timestamps, full
// level names and always-quoted empty fields. Verbose enables debug messages.
func Setup(out io.Writer, verbose bool) {
	l := log.StandardLogger()
	l.SetOutput(out)
	l.SetFormatter(&log.TextFormatter{
		DisableColors:          true,
		FullTimestamp:          true,
		TimestampFormat:        timeStampFormat,
		DisableSorting:         true,
		DisableLevelTruncation: true,
		QuoteEmptyFields:       true,
	})
	l.SetReportCaller(false)

	if verbose {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.InfoLevel)
	}

	// Errors of the metric pipeline end up in the same log.
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnf("OpenTelemetry: %v", err)
	}))
}
