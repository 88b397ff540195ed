// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package linux probes the running kernel for the features the tracer needs.
package linux // import "github.com/schedscope/schedscope/internal/linux"

import (
	"fmt"
	"strconv"
	"strings"
)

// KernelVersion is the numeric part of a kernel release string.
type KernelVersion struct {
	Major, Minor, Patch uint32
}

// ParseKernelRelease parses release strings like "6.8.0-45-generic" or "5.15".
func ParseKernelRelease(release string) (KernelVersion, error) {
	// Cut at the first character that is neither a digit nor a dot.
	end := strings.IndexFunc(release, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end >= 0 {
		release = release[:end]
	}

	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return KernelVersion{}, fmt.Errorf("malformed kernel release '%s'", release)
	}
	var v [3]uint32
	for i, part := range parts {
		if part == "" && i == 2 {
			break
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return KernelVersion{}, fmt.Errorf("malformed kernel release '%s': %v",
				release, err)
		}
		v[i] = uint32(n)
	}
	return KernelVersion{Major: v[0], Minor: v[1], Patch: v[2]}, nil
}

// AtLeast returns true if v is major.minor or newer.
func (v KernelVersion) AtLeast(major, minor uint32) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
