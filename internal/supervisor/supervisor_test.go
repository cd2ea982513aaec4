package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/Paintersrp/warden/internal/history"
)

func newShellSupervisor(t *testing.T, script string) *Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	s := New(Spec{Path: "/bin/sh", Args: []string{"-c", script}})
	t.Cleanup(s.Close)
	return s
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunCapturesOutputAndResult(t *testing.T) {
	s := newShellSupervisor(t, "echo hello")

	var mu sync.Mutex
	var lines []string
	var exits int
	s.Events().Subscribe(EventTypeStdout, func(evt Event) {
		mu.Lock()
		lines = append(lines, evt.Line)
		mu.Unlock()
	})
	s.Events().Subscribe(EventTypeExited, func(Event) {
		mu.Lock()
		exits++
		mu.Unlock()
	})

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	res := s.WaitForExit(waitCtx(t))

	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d (err=%v)", res.ExitCode, res.Err)
	}
	if !res.Success {
		t.Fatal("expected a successful result")
	}
	if res.Duration <= 0 {
		t.Fatalf("expected a positive duration, got %s", res.Duration)
	}
	if s.State() != StateExited {
		t.Fatalf("expected exited state, got %s", s.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 || lines[0] != "hello" {
		t.Fatalf("expected a single hello line, got %q", lines)
	}
	if exits != 1 {
		t.Fatalf("expected exactly one exited event, got %d", exits)
	}
}

func TestExitedFiresAfterAllLines(t *testing.T) {
	const want = 50
	s := newShellSupervisor(t, fmt.Sprintf("i=0; while [ $i -lt %d ]; do echo line $i; i=$((i+1)); done", want))

	var lines atomic.Int64
	var seenAtExit atomic.Int64
	s.Events().Subscribe(EventTypeStdout, func(Event) { lines.Add(1) })
	s.Events().Subscribe(EventTypeExited, func(Event) { seenAtExit.Store(lines.Load()) })

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	s.WaitForExit(waitCtx(t))

	if got := seenAtExit.Load(); got != want {
		t.Fatalf("exited fired with %d of %d lines delivered", got, want)
	}
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	pid, ok := s.PID()
	if !ok {
		t.Fatal("expected a live pid")
	}

	if s.Start(waitCtx(t)) {
		t.Fatal("second start must report failure")
	}
	if len(s.Errors()) != 0 {
		t.Fatalf("start on a running process must not record a fault, got %+v", s.Errors())
	}
	if got, _ := s.PID(); got != pid {
		t.Fatalf("pid changed from %d to %d", pid, got)
	}

	s.Kill(context.Background())
	s.WaitForExit(waitCtx(t))
}

func TestStartAfterExitRecordsFault(t *testing.T) {
	s := newShellSupervisor(t, "true")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	s.WaitForExit(waitCtx(t))

	if s.Start(waitCtx(t)) {
		t.Fatal("restarting a finished generation must fail")
	}
	rec, ok := s.LastError()
	if !ok || rec.Kind != history.KindStartFailed {
		t.Fatalf("expected a start failure record, got %+v ok=%v", rec, ok)
	}
}

func TestStartFaultOnMissingBinary(t *testing.T) {
	s := New(Spec{Path: "/nonexistent/warden-test-binary"})
	t.Cleanup(s.Close)

	if s.Start(waitCtx(t)) {
		t.Fatal("expected start to fail")
	}
	rec, ok := s.LastError()
	if !ok || rec.Kind != history.KindStartFailed {
		t.Fatalf("expected a start failure record, got %+v ok=%v", rec, ok)
	}
	if s.State() != StateNotStarted {
		t.Fatalf("failed spawn must leave state untouched, got %s", s.State())
	}
}

func TestWriteBeforeStartRecordsFault(t *testing.T) {
	s := New(Spec{Path: "/bin/sh"})
	t.Cleanup(s.Close)

	if s.Write([]byte("hello")) {
		t.Fatal("write without a process must fail")
	}
	rec, ok := s.LastError()
	if !ok || rec.Kind != history.KindWrite {
		t.Fatalf("expected a write failure record, got %+v ok=%v", rec, ok)
	}
	if !errors.Is(rec.Err, ErrProcessNotRunning) {
		t.Fatalf("expected ErrProcessNotRunning, got %v", rec.Err)
	}
	if len(s.Errors()) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(s.Errors()))
	}
}

func TestWriteLineReachesChildStdin(t *testing.T) {
	s := newShellSupervisor(t, `read line; echo "got $line"`)

	var mu sync.Mutex
	var lines []string
	s.Events().Subscribe(EventTypeStdout, func(evt Event) {
		mu.Lock()
		lines = append(lines, evt.Line)
		mu.Unlock()
	})

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	if !s.WriteLine("ping") {
		t.Fatalf("write line failed: %v", lastErr(s))
	}
	res := s.WaitForExit(waitCtx(t))
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 || lines[0] != "got ping" {
		t.Fatalf("expected the echoed line, got %q", lines)
	}
}

func TestWaitForExitCancellationReturnsSnapshot(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	res := s.WaitForExit(ctx)
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("cancelled wait blocked for %s", elapsed)
	}
	if res.ExitCode != UnexitedCode {
		t.Fatalf("expected the unexited sentinel, got %d", res.ExitCode)
	}
	if res.Success {
		t.Fatal("a still-running process must not report success")
	}

	s.Kill(context.Background())
	s.WaitForExit(waitCtx(t))
}

func TestStopEscalatesThroughEveryStep(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	var delivered []Signal
	s.signalFunc = func(pid int, sig Signal, _ func()) (int, error) {
		delivered = append(delivered, sig)
		if sig == SignalTerminate {
			return 0, nil
		}
		return -1, fmt.Errorf("delivery of %s refused", sig)
	}
	windowClosed := false
	s.closeWindowFunc = func(int) error {
		windowClosed = true
		return nil
	}

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	if !s.Stop(waitCtx(t)) {
		t.Fatal("expected stop to succeed on the terminate step")
	}

	want := []Signal{SignalInterrupt, SignalAbort, SignalTerminate}
	if len(delivered) != len(want) {
		t.Fatalf("expected %d delivery attempts, got %v", len(want), delivered)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("escalation order %v, want %v", delivered, want)
		}
	}
	if windowClosed {
		t.Fatal("window close must not run after a successful signal")
	}

	kinds := recordedKinds(s)
	wantKinds := []history.Kind{history.KindStopInterrupt, history.KindStopAbort}
	if len(kinds) != len(wantKinds) || kinds[0] != wantKinds[0] || kinds[1] != wantKinds[1] {
		t.Fatalf("expected per-step failure records %v, got %v", wantKinds, kinds)
	}
}

func TestStopHaltsAtFirstSuccess(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	var delivered []Signal
	s.signalFunc = func(pid int, sig Signal, _ func()) (int, error) {
		delivered = append(delivered, sig)
		return 0, nil
	}

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	if !s.Stop(waitCtx(t)) {
		t.Fatal("expected stop to succeed immediately")
	}
	if len(delivered) != 1 || delivered[0] != SignalInterrupt {
		t.Fatalf("expected a single interrupt attempt, got %v", delivered)
	}
	if len(s.Errors()) != 0 {
		t.Fatalf("successful stop must not record faults, got %v", recordedKinds(s))
	}
}

func TestStopFallsBackToWindowClose(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	s.signalFunc = func(pid int, sig Signal, _ func()) (int, error) {
		return -1, errors.New("refused")
	}
	windowClosed := false
	s.closeWindowFunc = func(int) error {
		windowClosed = true
		return nil
	}

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	if !s.Stop(waitCtx(t)) {
		t.Fatal("expected the window-close fallback to succeed")
	}
	if !windowClosed {
		t.Fatal("expected the window-close fallback to run")
	}
}

func TestStopReportsTotalFailure(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	s.signalFunc = func(pid int, sig Signal, _ func()) (int, error) {
		return -1, errors.New("refused")
	}
	s.closeWindowFunc = func(int) error {
		return errors.New("no window")
	}

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	if s.Stop(waitCtx(t)) {
		t.Fatal("expected stop to fail when every step fails")
	}

	kinds := recordedKinds(s)
	want := []history.Kind{
		history.KindStopInterrupt,
		history.KindStopAbort,
		history.KindStopTerm,
		history.KindStopCloseMainWindow,
		history.KindStop,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected records %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected records %v, got %v", want, kinds)
		}
	}
}

func TestStopWithoutProcessSucceeds(t *testing.T) {
	s := New(Spec{Path: "/bin/sh"})
	t.Cleanup(s.Close)

	if !s.Stop(waitCtx(t)) {
		t.Fatal("stop without a live process must succeed")
	}
	if len(s.Errors()) != 0 {
		t.Fatalf("expected no records, got %v", recordedKinds(s))
	}
}

func TestKillIsIdempotentAfterExit(t *testing.T) {
	s := newShellSupervisor(t, "true")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	s.WaitForExit(waitCtx(t))

	for i := 0; i < 3; i++ {
		if !s.Kill(context.Background()) {
			t.Fatalf("kill %d after exit must succeed", i)
		}
	}
	if len(s.Errors()) != 0 {
		t.Fatalf("expected no records, got %v", recordedKinds(s))
	}
}

func TestKillFailureRecorded(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")
	s.killFunc = func(*exec.Cmd) error {
		return errors.New("kill refused")
	}

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	if s.Kill(context.Background()) {
		t.Fatal("expected kill to fail")
	}
	rec, ok := s.LastError()
	if !ok || rec.Kind != history.KindKill {
		t.Fatalf("expected a kill failure record, got %+v ok=%v", rec, ok)
	}

	s.killFunc = killTree
	s.Kill(context.Background())
	s.WaitForExit(waitCtx(t))
}

func TestSendSignalWithoutProcess(t *testing.T) {
	s := New(Spec{Path: "/bin/sh"})
	t.Cleanup(s.Close)

	ok, code := s.SendSignal(SignalTerminate)
	if ok || code != 0 {
		t.Fatalf("expected delivery to fail with code 0, got ok=%v code=%d", ok, code)
	}
	rec, recorded := s.LastError()
	if !recorded || rec.Kind != history.KindSignalProcessNotRunning {
		t.Fatalf("expected a process-not-running record, got %+v", rec)
	}
}

func TestSendSignalTerminatesChild(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	ok, code := s.SendSignal(SignalTerminate)
	if !ok || code != 0 {
		t.Fatalf("expected successful delivery, got ok=%v code=%d", ok, code)
	}

	res := s.WaitForExit(waitCtx(t))
	if res.Success {
		t.Fatal("a signalled child must not report success")
	}
	if want := 128 + int(syscall.SIGTERM); res.ExitCode != want {
		t.Fatalf("expected exit code %d for signal death, got %d", want, res.ExitCode)
	}
}

func TestStoppedChildReportsFinalExitCode(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	if !s.Stop(waitCtx(t)) {
		t.Fatalf("stop failed: %v", lastErr(s))
	}

	res := s.WaitForExit(waitCtx(t))
	if s.State() != StateExited {
		t.Fatalf("expected exited state, got %s", s.State())
	}
	// An exited generation must be distinguishable from a running one by
	// its pollable result alone.
	if res.ExitCode == UnexitedCode {
		t.Fatalf("exited generation reports the unexited sentinel: %+v", res)
	}
	if want := 128 + int(syscall.SIGINT); res.ExitCode != want {
		t.Fatalf("expected exit code %d for signal death, got %d", want, res.ExitCode)
	}
}

func TestSendSignalDeliveryFailureRecorded(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	s.signalFunc = func(int, Signal, func()) (int, error) {
		return int(syscall.EPERM), syscall.EPERM
	}

	ok, code := s.SendSignal(SignalTerminate)
	if ok {
		t.Fatal("expected delivery to fail")
	}
	if code != int(syscall.EPERM) {
		t.Fatalf("expected the raw errno, got %d", code)
	}
	rec, recorded := s.LastError()
	if !recorded || rec.Kind != history.KindSignal {
		t.Fatalf("expected a generic signal failure record, got %+v ok=%v", rec, recorded)
	}

	s.signalFunc = deliverSignal
	s.Kill(context.Background())
	s.WaitForExit(waitCtx(t))
}

func TestStopIgnoresCancelledContext(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	var delivered []Signal
	s.signalFunc = func(pid int, sig Signal, _ func()) (int, error) {
		delivered = append(delivered, sig)
		return 0, nil
	}

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !s.Stop(ctx) {
		t.Fatal("stop must not fail because the caller's context is done")
	}
	if len(delivered) != 1 || delivered[0] != SignalInterrupt {
		t.Fatalf("expected an interrupt attempt, got %v", delivered)
	}
	if len(s.Errors()) != 0 {
		t.Fatalf("expected no records, got %v", recordedKinds(s))
	}
}

func TestSuccessCodeRange(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	s := New(Spec{Path: "/bin/sh", Args: []string{"-c", "exit 3"}, SuccessMin: 0, SuccessMax: 5})
	t.Cleanup(s.Close)
	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	if res := s.WaitForExit(waitCtx(t)); !res.Success || res.ExitCode != 3 {
		t.Fatalf("expected exit 3 inside the success range, got %+v", res)
	}

	strict := New(Spec{Path: "/bin/sh", Args: []string{"-c", "exit 3"}})
	t.Cleanup(strict.Close)
	if !strict.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(strict))
	}
	if res := strict.WaitForExit(waitCtx(t)); res.Success {
		t.Fatalf("exit 3 outside the default range must fail, got %+v", res)
	}
}

func TestWrongPlatformEntryPointFailsFast(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}

	ok, code := s.SendCtrlEvent(SignalInterrupt)
	if ok || code != 0 {
		t.Fatalf("console delivery on a posix platform must fail fast, got ok=%v code=%d", ok, code)
	}
	if len(s.Errors()) != 0 {
		t.Fatalf("programmer-error entry must not record faults, got %v", recordedKinds(s))
	}

	s.Kill(context.Background())
	s.WaitForExit(waitCtx(t))
}

func TestCloseKillsRunningChild(t *testing.T) {
	s := newShellSupervisor(t, "sleep 30")

	if !s.Start(waitCtx(t)) {
		t.Fatalf("start failed: %v", lastErr(s))
	}
	s.Close()
	s.Close() // closing twice must be safe

	if s.State() != StateExited {
		t.Fatalf("expected exited state after close, got %s", s.State())
	}
}

func lastErr(s *Supervisor) error {
	if rec, ok := s.LastError(); ok {
		return rec.Err
	}
	return nil
}

func recordedKinds(s *Supervisor) []history.Kind {
	records := s.Errors()
	kinds := make([]history.Kind, 0, len(records))
	for _, rec := range records {
		kinds = append(kinds, rec.Kind)
	}
	return kinds
}
