// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package tracer // import "github.com/schedscope/schedscope/tracer"

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const onlineCPUsPath = "/sys/devices/system/cpu/online"

// getOnlineCPUIDs reads online CPUs from /sys/devices/system/cpu/online and reports
// the core IDs as a list of integers.
func getOnlineCPUIDs() ([]int, error) {
	buf, err := os.ReadFile(onlineCPUsPath)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %v", onlineCPUsPath, err)
	}
	return readCPURange(string(buf))
}

// readCPURange parses the kernel's CPU list format: comma separated single CPUs
// and inclusive ranges, e.g. "0-3,8,10-11".
// Reference: https://www.kernel.org/doc/Documentation/admin-guide/cputopology.rst
func readCPURange(cpuRangeStr string) ([]int, error) {
	var cpus []int
	cpuRangeStr = strings.Trim(cpuRangeStr, "\n ")
	for _, cpuRange := range strings.Split(cpuRangeStr, ",") {
		firstStr, lastStr, isRange := strings.Cut(cpuRange, "-")
		first, err := strconv.ParseUint(firstStr, 10, 32)
		if err != nil {
			return nil, err
		}
		if !isRange {
			cpus = append(cpus, int(first))
			continue
		}
		last, err := strconv.ParseUint(lastStr, 10, 32)
		if err != nil {
			return nil, err
		}
		if last < first {
			return nil, fmt.Errorf("invalid cpu range %s", cpuRange)
		}
		for n := first; n <= last; n++ {
			cpus = append(cpus, int(n))
		}
	}
	return cpus, nil
}
