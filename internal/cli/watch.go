package cli

import (
	stdcontext "context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/warden/internal/logmux"
	"github.com/Paintersrp/warden/internal/supervisor"
	"github.com/Paintersrp/warden/internal/tokens"
	"github.com/Paintersrp/warden/internal/tui"
)

func newWatchCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <program>",
		Short: "Run a program with an interactive output view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			name := args[0]
			prog, ok := doc.Programs[name]
			if !ok {
				return fmt.Errorf("program %s is not defined in %s", name, *ctx.manifest)
			}
			spec, err := prog.SupervisorSpec(tokens.Table(doc.Tokens))
			if err != nil {
				return fmt.Errorf("program %s: %w", name, err)
			}

			p := runningProgram{
				name:  name,
				sup:   supervisor.New(spec),
				grace: prog.StopGracePeriod.Duration,
			}
			defer p.sup.Close()

			mux := logmux.New(512)
			mux.Add(name, p.sup.Events())
			observeMetrics(name, p.sup.Events())

			runCtx, cancel := stdcontext.WithCancel(cmd.Context())
			defer cancel()

			if !p.sup.Start(runCtx) {
				if rec, ok := p.sup.LastError(); ok && rec.Err != nil {
					return fmt.Errorf("start program %s: %w", name, rec.Err)
				}
				return fmt.Errorf("start program %s failed", name)
			}

			ui := tui.New(name, mux.Output())
			uiErr := ui.Run(runCtx)

			shutdownProgram(p)
			mux.Close()
			return uiErr
		},
	}
	return cmd
}
