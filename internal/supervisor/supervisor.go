package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Paintersrp/warden/internal/history"
)

// consoleStopWait bounds how long console-control delivery waits for the
// target to exit before restoring process-wide console state.
const consoleStopWait = 5 * time.Second

// Supervisor runs one external process through a single generation: spawn,
// stream its output through the event hub, deliver termination signals and
// report the final result. At most one live OS process exists per instance.
type Supervisor struct {
	spec    Spec
	hub     *Hub
	history *history.History

	// lifecycleMu serializes Start/Stop/Kill so a stop can never overlap an
	// in-flight start. cleanupMu guards the exit path separately: the
	// background wait goroutine must be able to finish cleanup while a caller
	// still holds lifecycleMu inside Stop or Kill.
	lifecycleMu sync.Mutex
	cleanupMu   sync.Mutex

	mu        sync.Mutex
	state     State
	spawned   bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdinEnc  io.Writer
	result    Result
	startedAt time.Time

	startedCh chan struct{}
	exitedCh  chan struct{}
	runDone   chan struct{}

	streamWG  sync.WaitGroup
	closeOnce sync.Once

	// Injection points for tests.
	signalFunc      func(pid int, sig Signal, wait func()) (int, error)
	closeWindowFunc func(pid int) error
	killFunc        func(cmd *exec.Cmd) error
}

// New constructs a supervisor for spec. The instance covers one run
// generation; a finished generation cannot be restarted.
func New(spec Spec) *Supervisor {
	if spec.Encoding == nil {
		spec.Encoding = unicode.UTF8
	}
	return &Supervisor{
		spec:            spec,
		hub:             NewHub(),
		history:         history.New(spec.HistorySize),
		state:           StateNotStarted,
		result:          Result{ExitCode: UnexitedCode},
		startedCh:       make(chan struct{}),
		exitedCh:        make(chan struct{}),
		runDone:         make(chan struct{}),
		signalFunc:      deliverSignal,
		closeWindowFunc: closeMainWindow,
		killFunc:        killTree,
	}
}

// Events exposes the hub carrying this supervisor's event streams.
func (s *Supervisor) Events() *Hub {
	return s.hub
}

// Start launches the configured process with redirected stdio. It returns
// false with no side effect while a process is already running, false with a
// recorded StartFailed fault when the generation has finished or spawning
// fails. On success the call blocks until the Started event has fired or ctx
// is cancelled; cancellation releases the caller without stopping the process.
func (s *Supervisor) Start(ctx context.Context) bool {
	s.lifecycleMu.Lock()

	switch s.State() {
	case StateRunning:
		s.lifecycleMu.Unlock()
		return false
	case StateExited:
		s.fault(history.KindStartFailed, errors.New("run generation already exited"))
		s.lifecycleMu.Unlock()
		return false
	}

	cmd := exec.Command(s.spec.Path, s.spec.Args...)
	if s.spec.Dir != "" {
		cmd.Dir = s.spec.Dir
	}
	env := os.Environ()
	for k, v := range s.spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.fault(history.KindStartFailed, fmt.Errorf("stdout pipe: %w", err))
		s.lifecycleMu.Unlock()
		return false
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.fault(history.KindStartFailed, fmt.Errorf("stderr pipe: %w", err))
		s.lifecycleMu.Unlock()
		return false
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.fault(history.KindStartFailed, fmt.Errorf("stdin pipe: %w", err))
		s.lifecycleMu.Unlock()
		return false
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		s.fault(history.KindStartFailed, fmt.Errorf("start %s: %w", s.spec.Path, err))
		s.lifecycleMu.Unlock()
		return false
	}

	s.mu.Lock()
	s.state = StateRunning
	s.spawned = true
	s.cmd = cmd
	s.stdin = stdin
	s.stdinEnc = transform.NewWriter(stdin, s.spec.Encoding.NewEncoder())
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.streamWG.Add(2)
	go s.streamLines(stdout, EventTypeStdout)
	go s.streamLines(stderr, EventTypeStderr)
	go s.run(cmd)

	s.lifecycleMu.Unlock()

	select {
	case <-s.startedCh:
	case <-ctx.Done():
	}
	return true
}

// run is the background task owning the exit wait for one generation.
func (s *Supervisor) run(cmd *exec.Cmd) {
	defer close(s.runDone)

	s.hub.Publish(Event{Type: EventTypeStarted, PID: cmd.Process.Pid})
	close(s.startedCh)

	// Every buffered stdout/stderr line must reach subscribers before the
	// Exited event fires.
	s.streamWG.Wait()
	s.finalize(cmd.Wait())
}

func (s *Supervisor) streamLines(r io.Reader, source EventType) {
	defer s.streamWG.Done()
	scanner := bufio.NewScanner(transform.NewReader(r, s.spec.Encoding.NewDecoder()))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		s.hub.Publish(Event{Type: source, Line: line})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.fault(history.KindRunningProcess, fmt.Errorf("read %s: %w", source, err))
	}
}

// finalize computes the result and publishes Exited exactly once.
func (s *Supervisor) finalize(waitErr error) {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	s.mu.Lock()
	if s.state == StateExited {
		s.mu.Unlock()
		return
	}
	res := Result{ExitCode: UnexitedCode, Duration: time.Since(s.startedAt)}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = s.cmd.ProcessState.ExitCode()
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			// Shell convention. Keeps signal death distinct from the
			// UnexitedCode sentinel in the pollable result.
			res.ExitCode = 128 + int(ws.Signal())
		}
	default:
		res.Err = waitErr
	}
	res.Success = res.Err == nil && res.ExitCode >= s.spec.SuccessMin && res.ExitCode <= s.spec.SuccessMax
	s.result = res
	s.state = StateExited
	stdin := s.stdin
	s.stdin = nil
	s.stdinEnc = nil
	s.mu.Unlock()

	if res.Err != nil {
		s.fault(history.KindRunningProcess, res.Err)
	}
	if stdin != nil {
		if err := stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.fault(history.KindCleanup, fmt.Errorf("close stdin: %w", err))
		}
	}

	s.hub.Publish(Event{Type: EventTypeExited, Result: res})
	close(s.exitedCh)
}

// Stop attempts graceful termination, escalating through Interrupt, Abort and
// Terminate before falling back to a native window-close request. The first
// successful delivery halts the escalation. Stop does not wait for the exit;
// follow with WaitForExit. Returns true immediately when no process is live
// and false only if every escalation step failed.
func (s *Supervisor) Stop(_ context.Context) bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	pid, running := s.livePID()
	if !running {
		return true
	}

	attempts := []struct {
		sig  Signal
		kind history.Kind
	}{
		{SignalInterrupt, history.KindStopInterrupt},
		{SignalAbort, history.KindStopAbort},
		{SignalTerminate, history.KindStopTerm},
	}
	for _, attempt := range attempts {
		if _, err := s.signalFunc(pid, attempt.sig, s.stopWait); err != nil {
			s.fault(attempt.kind, err)
			continue
		}
		return true
	}

	if err := s.closeWindowFunc(pid); err != nil {
		s.fault(history.KindStopCloseMainWindow, err)
		s.fault(history.KindStop, fmt.Errorf("every stop escalation step failed for pid %d", pid))
		return false
	}
	return true
}

// Kill forcefully terminates the process and, where the platform allows, its
// children. Idempotent once the process has exited.
func (s *Supervisor) Kill(_ context.Context) bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	cmd := s.cmd
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running {
		return true
	}
	if err := s.killFunc(cmd); err != nil {
		s.fault(history.KindKill, err)
		return false
	}
	return true
}

// WaitForExit blocks until the Exited event has fired or ctx is cancelled.
// Cancellation never fails the call; the best currently-known result snapshot
// is returned instead.
func (s *Supervisor) WaitForExit(ctx context.Context) Result {
	select {
	case <-s.exitedCh:
	case <-ctx.Done():
	}
	return s.Result()
}

// SendSignal delivers sig through this platform's native path and reports
// whether delivery succeeded together with the platform's raw return code.
func (s *Supervisor) SendSignal(sig Signal) (bool, int) {
	return s.sendWith(sig, s.signalFunc)
}

// SendPosixSignal delivers sig strictly via kill(2). Invoking it on a
// platform without POSIX signals is a programmer error: the call fails
// immediately and records nothing.
func (s *Supervisor) SendPosixSignal(sig Signal) (bool, int) {
	if !hasPosixSignals {
		return false, 0
	}
	return s.sendWith(sig, deliverPosixSignal)
}

// SendCtrlEvent delivers sig strictly via console-control emulation. Invoking
// it on a POSIX platform is a programmer error: the call fails immediately
// and records nothing.
func (s *Supervisor) SendCtrlEvent(sig Signal) (bool, int) {
	if hasPosixSignals {
		return false, 0
	}
	return s.sendWith(sig, deliverConsoleSignal)
}

func (s *Supervisor) sendWith(sig Signal, deliver func(int, Signal, func()) (int, error)) (bool, int) {
	pid, running := s.livePID()
	if !running {
		s.fault(history.KindSignalProcessNotRunning, ErrProcessNotRunning)
		return false, 0
	}
	code, err := deliver(pid, sig, s.stopWait)
	if err != nil {
		switch {
		case errors.Is(err, ErrSignalNotSupported):
			s.fault(history.KindSignalNotSupported, fmt.Errorf("%s: %w", sig, err))
		case errors.Is(err, syscall.ESRCH):
			s.fault(history.KindSignalProcessNotRunning, err)
		default:
			s.fault(history.KindSignal, fmt.Errorf("deliver %s: %w", sig, err))
		}
		return false, code
	}
	return true, code
}

// stopWait parks console-control delivery until the child exits or the grace
// window lapses.
func (s *Supervisor) stopWait() {
	select {
	case <-s.exitedCh:
	case <-time.After(consoleStopWait):
	}
}

// Write forwards raw bytes to the process's input stream. Failures are
// recorded as Write faults and reported through the return value only.
func (s *Supervisor) Write(p []byte) bool {
	s.mu.Lock()
	stdin := s.stdin
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running || stdin == nil {
		s.fault(history.KindWrite, ErrProcessNotRunning)
		return false
	}
	if _, err := stdin.Write(p); err != nil {
		s.fault(history.KindWrite, fmt.Errorf("write stdin: %w", err))
		return false
	}
	return true
}

// WriteLine encodes text with the spec's encoding and writes it to the
// process's input stream followed by a newline.
func (s *Supervisor) WriteLine(text string) bool {
	s.mu.Lock()
	w := s.stdinEnc
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running || w == nil {
		s.fault(history.KindWrite, ErrProcessNotRunning)
		return false
	}
	if _, err := io.WriteString(w, text+"\n"); err != nil {
		s.fault(history.KindWrite, fmt.Errorf("write stdin: %w", err))
		return false
	}
	return true
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID reports the live process id, if any.
func (s *Supervisor) PID() (int, bool) {
	return s.livePID()
}

// Result returns the best currently-known result snapshot. Before exit the
// exit code is UnexitedCode and the duration tracks the running elapsed time.
func (s *Supervisor) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.result
	if s.state == StateRunning {
		res.Duration = time.Since(s.startedAt)
	}
	return res
}

// LastError returns the most recent failure record, if any.
func (s *Supervisor) LastError() (history.Record, bool) {
	return s.history.Last()
}

// Errors returns the retained failure records in insertion order.
func (s *Supervisor) Errors() []history.Record {
	return s.history.All()
}

// Close disposes the supervisor: a still-running child is killed, the
// background wait goroutine is awaited and all subscriptions are released.
// Safe to invoke more than once.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		spawned := s.spawned
		s.mu.Unlock()

		if s.State() == StateRunning {
			s.Kill(context.Background())
		}
		if spawned {
			<-s.runDone
		}
		s.hub.reset()
	})
}

func (s *Supervisor) livePID() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.cmd == nil || s.cmd.Process == nil {
		return 0, false
	}
	return s.cmd.Process.Pid, true
}

func (s *Supervisor) fault(kind history.Kind, err error) {
	rec := s.history.Push(kind, err)
	s.hub.Publish(Event{Type: EventTypeFault, Timestamp: rec.Time, Record: rec})
}
