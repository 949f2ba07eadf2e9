// Package cli implements the loopz command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the loopz command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "loopz",
		Short: "Event-loop latency probe",
		Long: `loopz attaches a probe to the prepare and check phases of an event loop
and emits one record per phase invocation:

  NodeEventLoop,<Prepare|Check__>,<loop ms>,<hrtime ns>,<delta ms>,<delta ns>

The run command drives a reference loop under a synthetic timer workload and
writes the records to stdout or a file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (text, json)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}
