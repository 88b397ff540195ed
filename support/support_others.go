//go:build !amd64 && !arm64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package support // import "github.com/schedscope/schedscope/support"

// PtRegsRCOffset is unused on architectures without a known pt_regs layout.
const PtRegsRCOffset = 0

// HasPtRegsLayout reports whether the pt_regs offsets are known for this architecture.
const HasPtRegsLayout = false
