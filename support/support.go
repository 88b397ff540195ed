// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package support // import "github.com/schedscope/schedscope/support"

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRecord is returned when a raw sample is too small to hold a SchedEvent.
var ErrShortRecord = errors.New("short sched event record")

// MarshalTo writes e into buf using the native-endian wire layout. buf must hold at
// least SchedEventSize bytes.
func (e *SchedEvent) MarshalTo(buf []byte) {
	_ = buf[SchedEventSize-1]
	binary.NativeEndian.PutUint32(buf[SchedEventOffCPU:], e.CPU)
	binary.NativeEndian.PutUint32(buf[SchedEventOffPID:], e.PID)
	binary.NativeEndian.PutUint64(buf[SchedEventOffRuntime:], e.Runtime)
	binary.NativeEndian.PutUint64(buf[SchedEventOffVRuntime:], e.VRuntime)
}

// Marshal returns the wire representation of e.
func (e *SchedEvent) Marshal() [SchedEventSize]byte {
	var buf [SchedEventSize]byte
	e.MarshalTo(buf[:])
	return buf
}

// DecodeSchedEvent decodes a raw sample into e.
//
// Perf event samples are padded by the kernel so that the sample size field plus
// the payload is 8-byte aligned, which leaves 4 trailing bytes after a SchedEvent.
// Trailing bytes are therefore ignored, while samples shorter than SchedEventSize
// are rejected.
func DecodeSchedEvent(data []byte, e *SchedEvent) error {
	if len(data) < SchedEventSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortRecord,
			len(data), SchedEventSize)
	}
	e.CPU = binary.NativeEndian.Uint32(data[SchedEventOffCPU:])
	e.PID = binary.NativeEndian.Uint32(data[SchedEventOffPID:])
	e.Runtime = binary.NativeEndian.Uint64(data[SchedEventOffRuntime:])
	e.VRuntime = binary.NativeEndian.Uint64(data[SchedEventOffVRuntime:])
	return nil
}
