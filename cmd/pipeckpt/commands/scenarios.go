package commands

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/pipeckpt/internal/scenarios"
)

// NewScenariosCommand creates the scenarios subcommand.
func NewScenariosCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the built-in scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			listScenarios(cmd.OutOrStdout(), scenarios.All(), scenarioParams(cfg))

			return nil
		},
	}
}

func listScenarios(w io.Writer, all []scenarios.Scenario, p scenarios.Params) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Name", "Protocol", "Outputs", "Description"})

	for _, sc := range all {
		tbl.AppendRow(table.Row{sc.Name, sc.Protocol(), sc.NumOutputs(p), sc.Description})
	}

	tbl.Render()
}
