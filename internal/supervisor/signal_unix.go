//go:build !windows

package supervisor

import (
	"errors"
	"syscall"
)

const hasPosixSignals = true

// posixSignal maps a logical signal onto its POSIX primitive.
func posixSignal(sig Signal) (syscall.Signal, bool) {
	switch sig {
	case SignalInterrupt:
		return syscall.SIGINT, true
	case SignalAbort:
		return syscall.SIGABRT, true
	case SignalTerminate:
		return syscall.SIGTERM, true
	}
	return 0, false
}

// deliverPosixSignal sends sig to pid with kill(2). The raw errno of the kill
// call is surfaced as the returned code; 0 means delivery succeeded.
func deliverPosixSignal(pid int, sig Signal, _ func()) (int, error) {
	raw, ok := posixSignal(sig)
	if !ok {
		return 0, ErrSignalNotSupported
	}
	if err := syscall.Kill(pid, raw); err != nil {
		code := -1
		var errno syscall.Errno
		if errors.As(err, &errno) {
			code = int(errno)
		}
		return code, err
	}
	return 0, nil
}

// deliverConsoleSignal is the console-control emulation path. It only exists
// on Windows; invoking it here is a programmer error.
func deliverConsoleSignal(int, Signal, func()) (int, error) {
	return 0, ErrSignalNotSupported
}

// deliverSignal selects the native delivery path for this platform.
func deliverSignal(pid int, sig Signal, wait func()) (int, error) {
	return deliverPosixSignal(pid, sig, wait)
}

// closeMainWindow asks the process to close its controlling window. POSIX has
// no window handles, so hangup is the nearest analogue.
func closeMainWindow(pid int) error {
	return syscall.Kill(pid, syscall.SIGHUP)
}
