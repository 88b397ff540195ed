// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKallsym(t *testing.T) {
	tests := map[string]struct {
		path    string
		name    string
		want    Symbol
		wantErr error
	}{
		"local function": {
			path: "testdata/kallsyms",
			name: "pick_next_task_fair",
			want: Symbol{Name: "pick_next_task_fair", Address: 0xffffffff8110b0c0, Type: 't'},
		},
		"module symbol": {
			path: "testdata/kallsyms",
			name: "hid_add_device",
			want: Symbol{Name: "hid_add_device", Address: 0xffffffffc033e550, Type: 't',
				Module: "hid"},
		},
		"absolute symbol": {
			path: "testdata/kallsyms",
			name: "cpu_tss_rw",
			want: Symbol{Name: "cpu_tss_rw", Address: 0x6000, Type: 'A'},
		},
		"missing symbol": {
			path:    "testdata/kallsyms",
			name:    "pick_next_task_rt",
			wantErr: ErrNoSymbol,
		},
		// As if we were non-root.
		"zero addresses": {
			path:    "testdata/kallsyms_0",
			name:    "no_such_symbol",
			wantErr: ErrSymbolPermissions,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			sym, err := LookupKallsym(tc.path, tc.name)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, sym)
		})
	}
}

func TestLookupKallsymErrors(t *testing.T) {
	_, err := LookupKallsym("testdata/kallsyms_invalid", "pick_next_task_fair")
	require.Error(t, err)

	_, err = LookupKallsym("testdata/does_not_exist", "pick_next_task_fair")
	require.Error(t, err)
}

func TestSymbolIsText(t *testing.T) {
	assert.True(t, Symbol{Type: 't'}.IsText())
	assert.True(t, Symbol{Type: 'T'}.IsText())
	assert.False(t, Symbol{Type: 'A'}.IsText())
	assert.False(t, Symbol{Type: 'd'}.IsText())
}

func TestCommResolver(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "42"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "42", "comm"),
		[]byte("kworker/0:1\n"), 0o644))

	r := NewCommResolver(root)
	comm, err := r.Comm(42)
	require.NoError(t, err)
	assert.Equal(t, "kworker/0:1", comm)

	_, err = r.Comm(43)
	require.ErrorIs(t, err, os.ErrNotExist)

	assert.Equal(t, DefaultMountPoint, NewCommResolver("").mountPoint)
}
