// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/schedscope/schedscope/internal/controller"

import (
	"fmt"
	"math/bits"

	"github.com/tklauser/numcpus"
)

// CommCacheSize defines the maximum number of elements for the comm cache of the
// event handler. Every cache miss reads /proc/<pid>/comm, so the cache is sized for
// the tasks a busy machine keeps runnable per CPU, with a minimum for small hosts.
func CommCacheSize() (uint32, error) {
	presentCores, err := numcpus.GetPresent()
	if err != nil {
		return 0, fmt.Errorf("failed to read CPU file: %w", err)
	}
	return commCacheSize(presentCores), nil
}

func commCacheSize(presentCores int) uint32 {
	const (
		commCacheTasksPerCPU = 256
		commCacheMinSize     = 4096
	)
	size := max(uint32(presentCores)*commCacheTasksPerCPU, commCacheMinSize)
	return nextPowerOfTwo(size)
}

// nextPowerOfTwo returns v if it is a power of two, or else the next power of two.
func nextPowerOfTwo(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len32(v-1)
}
