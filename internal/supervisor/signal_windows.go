//go:build windows

package supervisor

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const hasPosixSignals = false

// consoleMu serializes console-control delivery across the whole program.
// Attaching to the target's console and suppressing our own control handler
// mutate process-wide console state, so deliveries from different supervisor
// instances must never interleave.
var consoleMu sync.Mutex

var (
	kernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procAttachConsole        = kernel32.NewProc("AttachConsole")
	procFreeConsole          = kernel32.NewProc("FreeConsole")
	procSetConsoleCtrlHandle = kernel32.NewProc("SetConsoleCtrlHandler")

	user32                       = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowThreadProcessID = user32.NewProc("GetWindowThreadProcessId")
	procPostMessageW             = user32.NewProc("PostMessageW")
)

const (
	attachParentProcess = ^uintptr(0)
	wmClose             = 0x0010
)

// ctrlEvent maps a logical signal onto a console-control event. Abort has no
// console analogue.
func ctrlEvent(sig Signal) (uint32, bool) {
	switch sig {
	case SignalInterrupt:
		return windows.CTRL_C_EVENT, true
	case SignalTerminate:
		return windows.CTRL_BREAK_EVENT, true
	}
	return 0, false
}

// deliverConsoleSignal emulates sig for pid via a console-control event. The
// sequence detaches from our own console, attaches to the target's, disables
// our control handler so the generated event cannot terminate us, fires the
// event, waits for the target to exit, then restores the handler and console.
func deliverConsoleSignal(pid int, sig Signal, wait func()) (int, error) {
	event, ok := ctrlEvent(sig)
	if !ok {
		return 0, ErrSignalNotSupported
	}

	consoleMu.Lock()
	defer consoleMu.Unlock()

	// Detach from our console; failure just means we never had one.
	_, _, _ = procFreeConsole.Call()

	ret, _, err := procAttachConsole.Call(uintptr(pid))
	if ret == 0 {
		restoreParentConsole()
		return errnoCode(err), fmt.Errorf("attach console to pid %d: %w", pid, err)
	}

	ret, _, err = procSetConsoleCtrlHandle.Call(0, 1)
	if ret == 0 {
		restoreParentConsole()
		return errnoCode(err), fmt.Errorf("disable ctrl handler: %w", err)
	}

	genErr := windows.GenerateConsoleCtrlEvent(event, uint32(pid))
	if genErr == nil && wait != nil {
		wait()
	}

	_, _, _ = procSetConsoleCtrlHandle.Call(0, 0)
	restoreParentConsole()

	if genErr != nil {
		return errnoCode(genErr), fmt.Errorf("generate ctrl event for pid %d: %w", pid, genErr)
	}
	return 0, nil
}

func errnoCode(err error) int {
	if errno, ok := err.(syscall.Errno); ok {
		return int(errno)
	}
	return -1
}

func restoreParentConsole() {
	_, _, _ = procFreeConsole.Call()
	_, _, _ = procAttachConsole.Call(attachParentProcess)
}

// deliverPosixSignal is the kill(2) delivery path. It only exists on POSIX
// platforms; invoking it here is a programmer error.
func deliverPosixSignal(int, Signal, func()) (int, error) {
	return 0, ErrSignalNotSupported
}

// deliverSignal selects the native delivery path for this platform.
func deliverSignal(pid int, sig Signal, wait func()) (int, error) {
	return deliverConsoleSignal(pid, sig, wait)
}

// closeMainWindow posts WM_CLOSE to every top-level window owned by pid.
func closeMainWindow(pid int) error {
	var posted bool
	cb := windows.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		var owner uint32
		_, _, _ = procGetWindowThreadProcessID.Call(hwnd, uintptr(unsafe.Pointer(&owner)))
		if int(owner) == pid {
			ret, _, _ := procPostMessageW.Call(hwnd, wmClose, 0, 0)
			if ret != 0 {
				posted = true
			}
		}
		return 1 // continue enumeration
	})
	_, _, _ = procEnumWindows.Call(cb, 0)
	if !posted {
		return fmt.Errorf("no window owned by pid %d accepted WM_CLOSE", pid)
	}
	return nil
}
