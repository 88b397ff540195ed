// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
)

func TestSetup(t *testing.T) {
	defer Setup(os.Stderr, false)

	tests := map[string]struct {
		verbose   bool
		wantDebug bool
	}{
		"info":    {},
		"verbose": {verbose: true, wantDebug: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			Setup(&out, tc.verbose)

			log.Debug("debug line")
			log.WithField("cpu", "").Warn("warn line")

			assert.Equal(t, tc.wantDebug, bytes.Contains(out.Bytes(), []byte("debug line")))
			assert.Contains(t, out.String(), `level=warning msg="warn line" cpu=""`)
		})
	}
}

func TestOtelErrorsAreLogged(t *testing.T) {
	defer Setup(os.Stderr, false)

	var out bytes.Buffer
	Setup(&out, false)
	otel.Handle(errors.New("export failed"))
	assert.Contains(t, out.String(), "OpenTelemetry: export failed")
}
