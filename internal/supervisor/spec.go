package supervisor

import (
	"time"

	"golang.org/x/text/encoding"
)

// Spec describes the process a supervisor runs. It must not be mutated after
// Start has been called.
type Spec struct {
	// Path is the executable to launch and Args its argument vector.
	Path string
	Args []string

	// Dir is the working directory; empty means the caller's.
	Dir string

	// Env holds environment overrides applied on top of the inherited
	// environment.
	Env map[string]string

	// User is an advisory run-as-user hint recorded on the spec. Privilege
	// switching is left to the launching environment.
	User string

	// Encoding decodes the child's stdout/stderr and encodes text written to
	// its stdin. Nil selects UTF-8. Each supervisor carries its own encoding;
	// there is no process-wide default.
	Encoding encoding.Encoding

	// SuccessMin and SuccessMax bound the exit codes treated as success. The
	// zero values accept exactly exit code 0.
	SuccessMin int
	SuccessMax int

	// HistorySize bounds the failure history; non-positive selects the
	// default capacity.
	HistorySize int
}

// State tracks the lifecycle of one run generation.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateExited     State = "exited"
)

// UnexitedCode is the exit code reported while no final result exists yet.
const UnexitedCode = -1

// Result reports the outcome of one run generation.
type Result struct {
	// ExitCode is the process exit status, or UnexitedCode if the process has
	// not produced one.
	ExitCode int

	// Err holds the captured failure cause, if any.
	Err error

	// Duration is the elapsed wall time of the run.
	Duration time.Duration

	// Success reports whether Err is nil and ExitCode fell inside the spec's
	// success range.
	Success bool
}
