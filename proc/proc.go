// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package proc provides functionality for retrieving kernel symbols and task
// information via /proc.
package proc // import "github.com/schedscope/schedscope/proc"

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultMountPoint is where procfs is usually mounted.
	DefaultMountPoint = "/proc"
	// DefaultKallsymsPath is the kernel symbol table of the running kernel.
	DefaultKallsymsPath = DefaultMountPoint + "/kallsyms"
)

// ErrSymbolPermissions is returned if kallsyms only lists zero addresses.
var ErrSymbolPermissions = errors.New(
	"unable to read kallsyms addresses - check capabilities")

// ErrNoSymbol is returned if a symbol is not listed in kallsyms.
var ErrNoSymbol = errors.New("symbol not found")

// Symbol is a kernel symbol from kallsyms.
type Symbol struct {
	Name    string
	Address uint64
	// Type is the nm(1) style symbol type, e.g. 't' for a local text symbol.
	Type byte
	// Module is the kernel module the symbol belongs to, empty for vmlinux.
	Module string
}

// LookupKallsym returns the first symbol called name in the kallsyms file at
// kallsymsPath. Local symbols with a compiler suffix such as ".isra.0" do not
// match, as kprobes can't attach to them by the plain name.
func LookupKallsym(kallsymsPath, name string) (Symbol, error) {
	file, err := os.Open(kallsymsPath)
	if err != nil {
		return Symbol{}, fmt.Errorf("unable to open %s: %v", kallsymsPath, err)
	}
	defer file.Close()

	noAddresses := true
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		// Lines look like "ffffffff8110b0c0 t pick_next_task_fair" with an
		// optional "\t[module]" suffix.
		fields := bytes.Fields(scanner.Bytes())
		if len(fields) < 3 || len(fields[1]) != 1 {
			return Symbol{}, fmt.Errorf("unexpected line in kallsyms: '%s'",
				scanner.Text())
		}
		address, err := strconv.ParseUint(string(fields[0]), 16, 64)
		if err != nil {
			return Symbol{}, fmt.Errorf("failed to parse address value: '%s'", fields[0])
		}
		if address != 0 {
			noAddresses = false
		}
		if string(fields[2]) != name {
			continue
		}

		sym := Symbol{
			Name:    name,
			Address: address,
			Type:    fields[1][0],
		}
		if len(fields) > 3 {
			sym.Module = strings.Trim(string(fields[3]), "[]")
		}
		return sym, nil
	}
	if err := scanner.Err(); err != nil {
		return Symbol{}, fmt.Errorf("failed to read %s: %v", kallsymsPath, err)
	}
	if noAddresses {
		return Symbol{}, ErrSymbolPermissions
	}
	return Symbol{}, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// IsText returns true for symbols in a text section, i.e. functions.
func (s Symbol) IsText() bool {
	return s.Type == 't' || s.Type == 'T'
}

// CommResolver reads task command names from a procfs mount.
type CommResolver struct {
	mountPoint string
}

// NewCommResolver returns a CommResolver for the procfs mounted at mountPoint.
// An empty mountPoint uses DefaultMountPoint.
func NewCommResolver(mountPoint string) *CommResolver {
	if mountPoint == "" {
		mountPoint = DefaultMountPoint
	}
	return &CommResolver{mountPoint: mountPoint}
}

// Comm returns the command name of the task pid.
func (r *CommResolver) Comm(pid uint32) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.mountPoint,
		strconv.FormatUint(uint64(pid), 10), "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}
