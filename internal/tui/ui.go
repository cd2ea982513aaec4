// Package tui renders a live view of a supervised program's output.
package tui

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/warden/internal/cliutil"
	"github.com/Paintersrp/warden/internal/logmux"
	"github.com/Paintersrp/warden/internal/supervisor"
)

const defaultLogRetention = 2000

// UI coordinates the interactive output view backed by tview.
type UI struct {
	app     *tview.Application
	logs    *tview.TextView
	status  *tview.TextView
	entries <-chan logmux.Entry
	program string
}

// New constructs a UI streaming the provided entries.
func New(program string, entries <-chan logmux.Entry) *UI {
	u := &UI{
		app:     tview.NewApplication(),
		entries: entries,
		program: program,
	}

	u.logs = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(defaultLogRetention)
	u.logs.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", program))

	u.status = tview.NewTextView().SetDynamicColors(true)
	u.setStatus("[yellow]starting")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(u.status, 1, 0, false).
		AddItem(u.logs, 0, 1, true)

	u.app.SetRoot(flex, true)
	u.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC || event.Rune() == 'q' {
			u.app.Stop()
			return nil
		}
		return event
	})
	return u
}

// Run drives the interface until the user quits, ctx is cancelled or the
// entry stream ends.
func (u *UI) Run(ctx context.Context) error {
	go u.consume(ctx)
	return u.app.Run()
}

func (u *UI) consume(ctx context.Context) {
	entries := u.entries
	for entries != nil {
		select {
		case <-ctx.Done():
			u.app.Stop()
			return
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			u.apply(entry)
		}
	}
}

func (u *UI) apply(entry logmux.Entry) {
	switch entry.Event.Type {
	case supervisor.EventTypeStarted:
		u.setStatus(fmt.Sprintf("[green]running[-] pid=%d", entry.Event.PID))
	case supervisor.EventTypeExited:
		res := entry.Event.Result
		color := "red"
		if res.Success {
			color = "green"
		}
		u.setStatus(fmt.Sprintf("[%s]exited[-] code=%d", color, res.ExitCode))
	}

	line := tview.Escape(cliutil.FormatLogEntry(entry))
	switch {
	case entry.Dropped > 0:
		line = "[yellow]" + line + "[-]"
	case entry.Event.Type == supervisor.EventTypeStderr,
		entry.Event.Type == supervisor.EventTypeFault:
		line = "[red]" + line + "[-]"
	}
	u.app.QueueUpdateDraw(func() {
		fmt.Fprintln(u.logs, line)
		u.logs.ScrollToEnd()
	})
}

func (u *UI) setStatus(text string) {
	u.app.QueueUpdateDraw(func() {
		u.status.SetText(fmt.Sprintf(" %s: %s  [gray](q to quit)", u.program, text))
	})
}
