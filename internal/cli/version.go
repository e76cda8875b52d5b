package cli

import (
	"fmt"

	"github.com/fmueller/whisperd/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		// Overrides the root hook: printing the version needs no valid config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "whisperd v%s\n", version.Resolve())
			return nil
		},
	}
}
