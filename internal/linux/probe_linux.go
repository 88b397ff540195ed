//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package linux // import "github.com/schedscope/schedscope/internal/linux"

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var getKernelVersion = sync.OnceValues(func() (KernelVersion, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return KernelVersion{}, fmt.Errorf("could not get kernel version: %v", err)
	}
	return ParseKernelRelease(unix.ByteSliceToString(uname.Release[:]))
})

// ProbeBPFSyscall checks if the syscall EBPF is available on the system.
func ProbeBPFSyscall() error {
	_, _, errNo := unix.Syscall(unix.SYS_BPF, uintptr(unix.BPF_PROG_TYPE_UNSPEC), uintptr(0), 0)
	if errNo == unix.ENOSYS {
		return errors.New("eBPF syscall is not available on your system")
	}
	return nil
}

// GetCurrentKernelVersion returns the version of the running kernel from the
// utsname struct.
func GetCurrentKernelVersion() (KernelVersion, error) {
	return getKernelVersion()
}
