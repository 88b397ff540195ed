// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// schedscope reports the CFS task picked on every scheduling decision.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/schedscope/schedscope/internal/controller"
	"github.com/schedscope/schedscope/internal/logging"
	"github.com/schedscope/schedscope/vc"
)

// Short copyright / license text for eBPF code
var copyright = `Copyright The OpenTelemetry Authors.

For the eBPF code loaded by schedscope into the kernel,
the following license applies (GPLv2 only).

This program is free software; you can redistribute it and/or modify
it under the terms of the GNU General Public License version 2 only,
as published by the Free Software Foundation;

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details:

https://www.gnu.org/licenses/old-licenses/gpl-2.0.en.html
`

type exitCode int

const (
	exitSuccess exitCode = controller.ExitSuccess
	exitFailure exitCode = controller.ExitFailure

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = controller.ExitParseError
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	cfg, showCopyright, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if showCopyright {
		fmt.Print(copyright)
		return exitSuccess
	}

	if cfg.Version {
		fmt.Printf("%s\n", vc.Version())
		return exitSuccess
	}

	logging.Setup(os.Stderr, cfg.VerboseMode)
	if cfg.VerboseMode {
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	// Context to drive main goroutine and the session.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM, unix.SIGABRT)
	defer mainCancel()

	log.Infof("Starting schedscope %s (revision %s, build timestamp %s)",
		vc.Version(), vc.Revision(), vc.BuildTimestamp())

	ctlr := controller.New(cfg)
	if err := ctlr.Start(mainCtx); err != nil {
		_ = ctlr.Shutdown()
		var exitErr controller.ErrorWithExitCode
		if errors.As(err, &exitErr) {
			log.Errorf("Invalid configuration: %v", err)
			return exitCode(exitErr.Code())
		}
		return failure("Failed to start: %v", err)
	}

	// Block waiting for a signal or the end of the session.
	select {
	case <-mainCtx.Done():
	case <-ctlr.Done():
	}

	if err := ctlr.Shutdown(); err != nil {
		return failure("Session failed: %v", err)
	}

	log.Info("Exiting ...")
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
