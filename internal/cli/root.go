// Package cli wires the warden commands together.
package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/warden/internal/config"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var manifest string

	root := &cobra.Command{
		Use:   "warden",
		Short: "Cross-platform supervisor for external server processes",
	}

	root.PersistentFlags().
		StringVarP(&manifest, "file", "f", "warden.yaml", "Path to warden manifest")

	ctx := &context{manifest: &manifest}
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newUpdateCmd(ctx))
	root.AddCommand(newWatchCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	manifest *string
}

func (c *context) loadManifest() (*config.File, error) {
	return config.Load(*c.manifest)
}
