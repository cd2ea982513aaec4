package supervisor

import "errors"

// Signal is a platform-independent termination intent. It is distinct from
// raw OS signal numbers and console-control events; each platform maps a
// logical signal onto at most one native primitive.
type Signal int

const (
	SignalInterrupt Signal = iota
	SignalAbort
	SignalTerminate
)

func (s Signal) String() string {
	switch s {
	case SignalInterrupt:
		return "interrupt"
	case SignalAbort:
		return "abort"
	case SignalTerminate:
		return "terminate"
	}
	return "unknown"
}

var (
	// ErrSignalNotSupported reports that a logical signal has no native
	// mapping on the active platform, or that a platform-specific delivery
	// entry point was invoked on the wrong platform.
	ErrSignalNotSupported = errors.New("signal not supported on this platform")

	// ErrProcessNotRunning reports that signal delivery was requested while
	// no live process exists.
	ErrProcessNotRunning = errors.New("process is not running")
)
