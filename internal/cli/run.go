package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Paintersrp/warden/internal/api"
	"github.com/Paintersrp/warden/internal/cliutil"
	"github.com/Paintersrp/warden/internal/logmux"
	"github.com/Paintersrp/warden/internal/metrics"
	"github.com/Paintersrp/warden/internal/supervisor"
	"github.com/Paintersrp/warden/internal/tokens"
)

const finalWaitTimeout = 5 * time.Second

type runningProgram struct {
	name  string
	sup   *supervisor.Supervisor
	grace time.Duration
}

func newRunCmd(ctx *context) *cobra.Command {
	var (
		jsonLogs   bool
		statusAddr string
	)

	cmd := &cobra.Command{
		Use:   "run <program>...",
		Short: "Run configured programs under supervision until they exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadManifest()
			if err != nil {
				return err
			}

			table := tokens.Table(doc.Tokens)
			programs := make([]runningProgram, 0, len(args))
			for _, name := range args {
				prog, ok := doc.Programs[name]
				if !ok {
					return fmt.Errorf("program %s is not defined in %s", name, *ctx.manifest)
				}
				spec, err := prog.SupervisorSpec(table)
				if err != nil {
					return fmt.Errorf("program %s: %w", name, err)
				}
				programs = append(programs, runningProgram{
					name:  name,
					sup:   supervisor.New(spec),
					grace: prog.StopGracePeriod.Duration,
				})
			}

			mux := logmux.New(256)
			for _, p := range programs {
				mux.Add(p.name, p.sup.Events())
				observeMetrics(p.name, p.sup.Events())
			}

			runCtx := cmd.Context()

			if statusAddr != "" {
				srv, err := api.NewServer(api.Config{
					Addr:   statusAddr,
					Status: statusSnapshot(programs),
				})
				if err != nil {
					return err
				}
				go func() {
					if err := srv.Run(runCtx); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "error: status server: %v\n", err)
					}
				}()
			}

			pretty := !jsonLogs && term.IsTerminal(int(os.Stdout.Fd()))
			writerDone := make(chan struct{})
			go func() {
				defer close(writerDone)
				enc := json.NewEncoder(cmd.OutOrStdout())
				for entry := range mux.Output() {
					if pretty {
						fmt.Fprintln(cmd.OutOrStdout(), cliutil.FormatLogEntry(entry))
					} else {
						cliutil.EncodeLogEntry(enc, cmd.ErrOrStderr(), entry)
					}
				}
			}()

			var startErr error
			started := make([]runningProgram, 0, len(programs))
			for _, p := range programs {
				if !p.sup.Start(runCtx) {
					startErr = fmt.Errorf("start program %s failed", p.name)
					if rec, ok := p.sup.LastError(); ok && rec.Err != nil {
						startErr = fmt.Errorf("start program %s: %w", p.name, rec.Err)
					}
					break
				}
				started = append(started, p)
			}

			results := make([]supervisor.Result, len(started))
			var wg sync.WaitGroup
			wg.Add(len(started))
			for i, p := range started {
				go func(i int, p runningProgram) {
					defer wg.Done()
					res := p.sup.WaitForExit(runCtx)
					if runCtx.Err() != nil && p.sup.State() == supervisor.StateRunning {
						res = shutdownProgram(p)
					}
					results[i] = res
				}(i, p)
			}
			wg.Wait()

			if startErr != nil {
				for _, p := range started {
					shutdownProgram(p)
				}
			}
			for _, p := range programs {
				p.sup.Close()
			}
			mux.Close()
			<-writerDone

			if startErr != nil {
				return startErr
			}
			for i, res := range results {
				if !res.Success {
					return fmt.Errorf("program %s exited unsuccessfully (code %d)",
						started[i].name, res.ExitCode)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonLogs, "json", false, "Force JSON log output even on a terminal")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve status and metrics endpoints on this address")
	return cmd
}

// shutdownProgram stops a still-running program: graceful escalation first,
// then a forced kill once the grace period lapses.
func shutdownProgram(p runningProgram) supervisor.Result {
	if p.sup.State() != supervisor.StateRunning {
		return p.sup.Result()
	}

	metrics.IncrementSignalDelivery(p.name, "stop")
	p.sup.Stop(stdcontext.Background())

	grace := p.grace
	if grace <= 0 {
		grace = finalWaitTimeout
	}
	waitCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), grace)
	res := p.sup.WaitForExit(waitCtx)
	cancel()
	if p.sup.State() != supervisor.StateRunning {
		return res
	}

	metrics.IncrementSignalDelivery(p.name, "kill")
	p.sup.Kill(stdcontext.Background())
	waitCtx, cancel = stdcontext.WithTimeout(stdcontext.Background(), finalWaitTimeout)
	res = p.sup.WaitForExit(waitCtx)
	cancel()
	return res
}

func observeMetrics(name string, hub *supervisor.Hub) {
	hub.Subscribe(supervisor.EventTypeStarted, func(supervisor.Event) {
		metrics.IncrementProcessStart(name)
		metrics.SetProcessRunning(name, true)
	})
	hub.Subscribe(supervisor.EventTypeExited, func(evt supervisor.Event) {
		metrics.SetProcessRunning(name, false)
		metrics.ObserveProcessExit(name, evt.Result.Success, evt.Result.Duration)
	})
	hub.Subscribe(supervisor.EventTypeFault, func(evt supervisor.Event) {
		metrics.IncrementFault(name, string(evt.Record.Kind))
	})
}

func statusSnapshot(programs []runningProgram) api.StatusFunc {
	return func() []api.ProgramStatus {
		statuses := make([]api.ProgramStatus, 0, len(programs))
		for _, p := range programs {
			res := p.sup.Result()
			status := api.ProgramStatus{
				Name:     p.name,
				State:    string(p.sup.State()),
				ExitCode: res.ExitCode,
				Success:  res.Success,
				Duration: res.Duration.Round(time.Millisecond).String(),
			}
			if pid, ok := p.sup.PID(); ok {
				status.PID = pid
			}
			if rec, ok := p.sup.LastError(); ok {
				status.LastError = fmt.Sprintf("%s: %v", rec.Kind, rec.Err)
			}
			statuses = append(statuses, status)
		}
		return statuses
	}
}
