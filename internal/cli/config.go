package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/warden/internal/cliutil"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the warden manifest",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest ok: %d program(s)\n", len(doc.Programs))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved manifest with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			rendered, err := yaml.Marshal(doc)
			if err != nil {
				return fmt.Errorf("render manifest: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), cliutil.RedactSecrets(string(rendered)))
			return nil
		},
	})

	return cmd
}
