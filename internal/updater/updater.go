// Package updater runs the configured toolchain-update command under a
// supervisor and reports its outcome.
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Paintersrp/warden/internal/config"
	"github.com/Paintersrp/warden/internal/supervisor"
	"github.com/Paintersrp/warden/internal/tokens"
)

const killGracePeriod = 5 * time.Second

// Updater builds and executes the update command line.
type Updater struct {
	spec  *config.UpdateSpec
	table tokens.Table
}

// New constructs an updater from the manifest's update section and the base
// token table. Tokens declared on the update section override base entries.
func New(spec *config.UpdateSpec, base tokens.Table) *Updater {
	return &Updater{spec: spec, table: base}
}

// Run executes the update command, forwarding each output line to onLine
// (which may be nil), and returns the final result. Cancelling ctx stops the
// child with the usual escalation before returning.
func (u *Updater) Run(ctx context.Context, onLine func(supervisor.Line)) (supervisor.Result, error) {
	if u.spec == nil || len(u.spec.Command) == 0 {
		return supervisor.Result{}, errors.New("no update command configured")
	}

	table := u.table.Merge(tokens.Table(u.spec.Tokens))
	command, err := table.ExpandAll(u.spec.Command)
	if err != nil {
		return supervisor.Result{}, fmt.Errorf("expand update command: %w", err)
	}

	spec := supervisor.Spec{
		Path: command[0],
		Args: command[1:],
		Dir:  u.spec.ResolvedWorkdir,
	}
	if len(u.spec.Env) > 0 {
		spec.Env = make(map[string]string, len(u.spec.Env))
		for k, v := range u.spec.Env {
			spec.Env[k] = v
		}
	}

	sup := supervisor.New(spec)
	defer sup.Close()

	lines := supervisor.NewLineChannel(sup.Events())
	defer lines.Close()

	if !sup.Start(ctx) {
		if rec, ok := sup.LastError(); ok && rec.Err != nil {
			return supervisor.Result{}, fmt.Errorf("start update command: %w", rec.Err)
		}
		return supervisor.Result{}, errors.New("start update command failed")
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for line := range lines.Lines() {
			if onLine != nil {
				onLine(line)
			}
		}
	}()

	res := sup.WaitForExit(ctx)
	if ctx.Err() != nil && sup.State() == supervisor.StateRunning {
		sup.Stop(context.Background())
		waitCtx, cancel := context.WithTimeout(context.Background(), killGracePeriod)
		res = sup.WaitForExit(waitCtx)
		cancel()
		if sup.State() == supervisor.StateRunning {
			sup.Kill(context.Background())
			waitCtx, cancel = context.WithTimeout(context.Background(), killGracePeriod)
			res = sup.WaitForExit(waitCtx)
			cancel()
		}
	}
	if sup.State() == supervisor.StateRunning {
		// Child is wedged; abandon the stream instead of waiting on it.
		lines.Close()
	}
	<-drained
	return res, nil
}
