package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/warden/internal/logmux"
	"github.com/Paintersrp/warden/internal/supervisor"
)

// Log sources reported in structured records.
const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
	SourceSystem = "system"
)

// LogRecord represents a structured log event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Program   string    `json:"program"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
}

// NewLogRecord converts a muxed supervisor event into a structured record.
func NewLogRecord(entry logmux.Entry) LogRecord {
	rec := LogRecord{Timestamp: entry.Event.Timestamp, Program: entry.Program}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if entry.Dropped > 0 {
		rec.Source = SourceSystem
		rec.Level = "warn"
		rec.Message = fmt.Sprintf("dropped=%d", entry.Dropped)
		return rec
	}

	evt := entry.Event
	switch evt.Type {
	case supervisor.EventTypeStdout:
		rec.Source = SourceStdout
		rec.Message = evt.Line
		if level := inferLogLevel(evt.Line); level != "" {
			rec.Level = level
		} else {
			rec.Level = "info"
		}
	case supervisor.EventTypeStderr:
		rec.Source = SourceStderr
		rec.Message = evt.Line
		rec.Level = "warn"
	case supervisor.EventTypeStarted:
		rec.Source = SourceSystem
		rec.Level = "info"
		rec.Message = fmt.Sprintf("started pid=%d", evt.PID)
	case supervisor.EventTypeExited:
		rec.Source = SourceSystem
		if evt.Result.Success {
			rec.Level = "info"
		} else {
			rec.Level = "error"
		}
		rec.Message = fmt.Sprintf("exited code=%d duration=%s",
			evt.Result.ExitCode, evt.Result.Duration.Round(time.Millisecond))
		if evt.Result.Err != nil {
			rec.Message += fmt.Sprintf(" err=%q", evt.Result.Err)
		}
	case supervisor.EventTypeFault:
		rec.Source = SourceSystem
		rec.Level = "error"
		rec.Message = fmt.Sprintf("fault kind=%s: %v", evt.Record.Kind, evt.Record.Err)
	default:
		rec.Source = SourceSystem
		rec.Level = "info"
	}
	return rec
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|info)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn":
		return "warn"
	case "info":
		return "info"
	default:
		return ""
	}
}

// EncodeLogEntry encodes a muxed event to JSON, reporting errors to stderr if
// needed.
func EncodeLogEntry(enc *json.Encoder, stderr io.Writer, entry logmux.Entry) {
	if enc == nil {
		return
	}
	record := NewLogRecord(entry)
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

// FormatLogEntry renders a muxed event as a human-readable line for TTY
// output.
func FormatLogEntry(entry logmux.Entry) string {
	rec := NewLogRecord(entry)
	return fmt.Sprintf("%s %-5s [%s] %s",
		rec.Timestamp.Format("15:04:05.000"), rec.Level, rec.Program, rec.Message)
}
