package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoobzio/loopz"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the probe version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", loopz.SourceName, loopz.Version)
			return err
		},
	}
}
