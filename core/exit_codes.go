package core

import (
	"os"
	"syscall"
)

// Process exit codes. Signal exits follow the 128+signum convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeUsage is returned for bad flags or an unknown subcommand.
	ExitCodeUsage = 2
	// ExitCodeBackendDown is returned by `health` when the backend is unreachable.
	ExitCodeBackendDown = 3
	ExitCodeSIGINT      = 130
	ExitCodeSIGTERM     = 143
)

// SignalExitCode maps the signal that stopped the CLI to its exit code.
// A nil or unhandled signal returns fallback.
func SignalExitCode(sig os.Signal, fallback int) int {
	switch sig {
	case os.Interrupt:
		return ExitCodeSIGINT
	case syscall.SIGTERM:
		return ExitCodeSIGTERM
	}
	return fallback
}
