package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/warden/internal/supervisor"
	"github.com/Paintersrp/warden/internal/tokens"
	"github.com/Paintersrp/warden/internal/updater"
)

func newUpdateCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run the configured toolchain update command",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			if doc.Update == nil {
				return fmt.Errorf("no update command configured in %s", *ctx.manifest)
			}

			out := cmd.OutOrStdout()
			up := updater.New(doc.Update, tokens.Table(doc.Tokens))
			res, err := up.Run(cmd.Context(), func(line supervisor.Line) {
				fmt.Fprintln(out, line.Text)
			})
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("update command exited with code %d", res.ExitCode)
			}
			fmt.Fprintf(out, "update completed in %s\n", res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	return cmd
}
