package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/verify"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

const (
	formatFlag       = "format"
	formatFlagUsage  = "output format: table, json or yaml"
	yamlIndent       = 2
	durationRounding = time.Microsecond
)

// ErrUnknownFormat is returned for an unsupported --format value.
var ErrUnknownFormat = errors.New("unknown output format")

func checkFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// encodeStructured writes v as JSON or YAML.
func encodeStructured(w io.Writer, format string, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(yamlIndent)

		encodeErr := enc.Encode(v)
		if encodeErr != nil {
			return encodeErr
		}

		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false

	return tbl
}

func renderReports(w io.Writer, format string, reports []*verify.Report) error {
	if format != FormatTable {
		return encodeStructured(w, format, reports)
	}

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Scenario", "Check", "Result", "Records", "Duration"})

	var (
		checks, failed int
		total          time.Duration
	)

	for _, report := range reports {
		for _, c := range report.Checks {
			tbl.AppendRow(table.Row{
				report.Scenario,
				c.Name,
				resultLabel(c.Passed),
				humanize.Comma(c.Records),
				c.Duration.Round(durationRounding).String(),
			})
		}

		checks += len(report.Checks)
		failed += report.Failed()
		total += report.Duration()
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("%d scenarios", len(reports)),
		fmt.Sprintf("%d checks", checks),
		fmt.Sprintf("%d failed", failed),
		"",
		total.Round(durationRounding).String(),
	})
	tbl.Render()

	for _, report := range reports {
		for _, c := range report.Checks {
			if !c.Passed {
				color.New(color.FgRed).Fprintf(w, "\n%s / %s:\n%s\n", report.Scenario, c.Name, c.Error)
			}
		}
	}

	return nil
}

func resultLabel(passed bool) string {
	if passed {
		return color.New(color.FgGreen).Sprint("PASS")
	}

	return color.New(color.FgRed).Sprint("FAIL")
}
