// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadCPURange(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected []int
		wantErr  bool
	}{
		"single CPU":         {input: "0\n", expected: []int{0}},
		"range":              {input: "0-3", expected: []int{0, 1, 2, 3}},
		"mixed":              {input: "0-1,4,6-7\n", expected: []int{0, 1, 4, 6, 7}},
		"singles":            {input: "1,3,5", expected: []int{1, 3, 5}},
		"empty":              {input: "", wantErr: true},
		"garbage":            {input: "a-b", wantErr: true},
		"descending range":   {input: "3-1", wantErr: true},
		"open ended range":   {input: "2-", wantErr: true},
		"trailing separator": {input: "0,", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := readCPURange(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}
