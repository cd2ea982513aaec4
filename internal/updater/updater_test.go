package updater

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/warden/internal/config"
	"github.com/Paintersrp/warden/internal/supervisor"
	"github.com/Paintersrp/warden/internal/tokens"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestRunExecutesUpdateCommand(t *testing.T) {
	requireShell(t)

	u := New(&config.UpdateSpec{
		Command: []string{"/bin/sh", "-c", "echo updating {{app}}"},
		Tokens:  map[string]string{"app": "game"},
	}, tokens.Table{"app": "base"})

	var lines []string
	res, err := u.Run(context.Background(), func(line supervisor.Line) {
		lines = append(lines, line.Text)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Fatalf("expected a successful update, got %+v", res)
	}
	if len(lines) != 1 || lines[0] != "updating game" {
		t.Fatalf("section tokens must override the base table, got %q", lines)
	}
}

func TestRunWithoutCommandFails(t *testing.T) {
	u := New(nil, nil)
	if _, err := u.Run(context.Background(), nil); err == nil {
		t.Fatal("expected an error without an update command")
	}

	u = New(&config.UpdateSpec{}, nil)
	if _, err := u.Run(context.Background(), nil); err == nil {
		t.Fatal("expected an error with an empty command")
	}
}

func TestRunUndefinedTokenFails(t *testing.T) {
	u := New(&config.UpdateSpec{
		Command: []string{"/bin/sh", "-c", "echo {{missing}}"},
	}, nil)

	_, err := u.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected an undefined-token error, got %v", err)
	}
}

func TestRunSurfacesStartFailure(t *testing.T) {
	u := New(&config.UpdateSpec{
		Command: []string{"/nonexistent/warden-update-binary"},
	}, nil)

	if _, err := u.Run(context.Background(), nil); err == nil {
		t.Fatal("expected a start failure")
	}
}

func TestRunStopsChildOnCancellation(t *testing.T) {
	requireShell(t)

	u := New(&config.UpdateSpec{
		Command: []string{"/bin/sh", "-c", "echo starting; sleep 30"},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var lines []string
	begin := time.Now()
	res, err := u.Run(ctx, func(line supervisor.Line) {
		lines = append(lines, line.Text)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Success {
		t.Fatal("a cancelled update must not report success")
	}
	if res.ExitCode == supervisor.UnexitedCode {
		t.Fatalf("a stopped child must report a final exit code, got %+v", res)
	}
	if len(lines) != 1 || lines[0] != "starting" {
		t.Fatalf("output emitted before cancellation must still drain, got %q", lines)
	}
	if elapsed := time.Since(begin); elapsed > 15*time.Second {
		t.Fatalf("cancelled run took %s", elapsed)
	}
}
