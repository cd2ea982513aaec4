package cliutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/warden/internal/history"
	"github.com/Paintersrp/warden/internal/logmux"
	"github.com/Paintersrp/warden/internal/supervisor"
)

func TestNewLogRecordStdout(t *testing.T) {
	rec := NewLogRecord(logmux.Entry{
		Program: "game",
		Event:   supervisor.Event{Type: supervisor.EventTypeStdout, Line: "server listening"},
	})
	if rec.Source != SourceStdout || rec.Level != "info" || rec.Message != "server listening" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Fatal("expected a timestamp to be filled in")
	}
}

func TestNewLogRecordInfersLevelFromLine(t *testing.T) {
	rec := NewLogRecord(logmux.Entry{
		Program: "game",
		Event:   supervisor.Event{Type: supervisor.EventTypeStdout, Line: "ERROR: map not found"},
	})
	if rec.Level != "error" {
		t.Fatalf("expected the inferred error level, got %q", rec.Level)
	}
}

func TestNewLogRecordStderrIsWarn(t *testing.T) {
	rec := NewLogRecord(logmux.Entry{
		Program: "game",
		Event:   supervisor.Event{Type: supervisor.EventTypeStderr, Line: "deprecated flag"},
	})
	if rec.Source != SourceStderr || rec.Level != "warn" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestNewLogRecordLifecycleEvents(t *testing.T) {
	started := NewLogRecord(logmux.Entry{
		Program: "game",
		Event:   supervisor.Event{Type: supervisor.EventTypeStarted, PID: 4242},
	})
	if started.Source != SourceSystem || !strings.Contains(started.Message, "pid=4242") {
		t.Fatalf("unexpected started record: %+v", started)
	}

	exited := NewLogRecord(logmux.Entry{
		Program: "game",
		Event: supervisor.Event{
			Type:   supervisor.EventTypeExited,
			Result: supervisor.Result{ExitCode: 137, Duration: 3 * time.Second},
		},
	})
	if exited.Level != "error" || !strings.Contains(exited.Message, "code=137") {
		t.Fatalf("unexpected exited record: %+v", exited)
	}

	clean := NewLogRecord(logmux.Entry{
		Program: "game",
		Event: supervisor.Event{
			Type:   supervisor.EventTypeExited,
			Result: supervisor.Result{ExitCode: 0, Success: true},
		},
	})
	if clean.Level != "info" {
		t.Fatalf("a successful exit must log at info, got %+v", clean)
	}

	fault := NewLogRecord(logmux.Entry{
		Program: "game",
		Event: supervisor.Event{
			Type:   supervisor.EventTypeFault,
			Record: history.Record{Kind: history.KindKill, Err: errors.New("boom")},
		},
	})
	if fault.Level != "error" || !strings.Contains(fault.Message, "kind=kill") {
		t.Fatalf("unexpected fault record: %+v", fault)
	}
}

func TestNewLogRecordDropMetadata(t *testing.T) {
	rec := NewLogRecord(logmux.Entry{Program: "game", Dropped: 17})
	if rec.Level != "warn" || rec.Source != SourceSystem || rec.Message != "dropped=17" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestEncodeLogEntryProducesJSON(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	EncodeLogEntry(enc, &bytes.Buffer{}, logmux.Entry{
		Program: "game",
		Event:   supervisor.Event{Type: supervisor.EventTypeStdout, Line: "hello"},
	})

	var rec LogRecord
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode encoded record: %v", err)
	}
	if rec.Program != "game" || rec.Message != "hello" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFormatLogEntry(t *testing.T) {
	line := FormatLogEntry(logmux.Entry{
		Program: "game",
		Event: supervisor.Event{
			Timestamp: time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC),
			Type:      supervisor.EventTypeStdout,
			Line:      "map loaded",
		},
	})
	if !strings.Contains(line, "[game]") || !strings.Contains(line, "map loaded") {
		t.Fatalf("unexpected formatted line: %q", line)
	}
	if !strings.HasPrefix(line, "12:30:45.000") {
		t.Fatalf("expected a time prefix, got %q", line)
	}
}

func TestRedactSecrets(t *testing.T) {
	in := "RCON_PASSWORD=hunter2 ${STEAM_TOKEN} plain text"
	out := RedactSecrets(in)
	if strings.Contains(out, "hunter2") || strings.Contains(out, "STEAM_TOKEN") {
		t.Fatalf("secrets leaked: %q", out)
	}
	if !strings.Contains(out, "RCON_PASSWORD=[redacted]") {
		t.Fatalf("expected the key to survive with a masked value: %q", out)
	}
	if !strings.Contains(out, "plain text") {
		t.Fatalf("non-secret text must pass through: %q", out)
	}

	yaml := "env:\n  SERVER_PASSWORD: s3cret\n  MAP: dust2\n"
	out = RedactSecrets(yaml)
	if strings.Contains(out, "s3cret") {
		t.Fatalf("yaml secret leaked: %q", out)
	}
	if !strings.Contains(out, "dust2") {
		t.Fatalf("non-secret yaml value must pass through: %q", out)
	}
}
