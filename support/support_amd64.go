// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package support // import "github.com/schedscope/schedscope/support"

// PtRegsRCOffset is the offset of the return value register (ax) in struct pt_regs.
const PtRegsRCOffset = 80

// HasPtRegsLayout reports whether the pt_regs offsets are known for this architecture.
const HasPtRegsLayout = true
