// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package support // import "github.com/schedscope/schedscope/support"

// PtRegsRCOffset is the offset of the return value register (x0) in struct pt_regs.
const PtRegsRCOffset = 0

// HasPtRegsLayout reports whether the pt_regs offsets are known for this architecture.
const HasPtRegsLayout = true
