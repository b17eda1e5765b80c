// Package commands implements the pipeckpt CLI subcommands.
package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	configFlag  = "config"
	verboseFlag = "verbose"
	noColorFlag = "no-color"
)

// NewRootCommand creates the pipeckpt root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipeckpt",
		Short: "Checkpoint conformance checks for lazy record pipelines",
		Long: `pipeckpt saves and restores iterators over lazy pipelines and checks
that a restored iterator continues exactly where the original left off.

Commands:
  verify     Run the checkpoint checks against built-in scenarios
  inspect    Show a checkpoint written to disk
  scenarios  List the built-in scenarios`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			noColor, _ := cmd.Flags().GetBool(noColorFlag)
			if noColor {
				color.NoColor = true //nolint:reassign // intentional override of library global
			}
		},
	}

	root.PersistentFlags().String(configFlag, "", "config file (default .pipeckpt.yaml in the working or home directory)")
	root.PersistentFlags().BoolP(verboseFlag, "v", false, "debug logging")
	root.PersistentFlags().Bool(noColorFlag, false, "disable colored output")

	root.AddCommand(NewVerifyCommand())
	root.AddCommand(NewInspectCommand())
	root.AddCommand(NewScenariosCommand())
	root.AddCommand(NewVersionCommand())

	return root
}
