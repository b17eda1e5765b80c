package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/persist"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/safeconv"
)

// inspection is one checkpoint as read back from disk.
type inspection struct {
	Dir      string               `json:"dir" yaml:"dir"`
	Metadata *checkpoint.Metadata `json:"metadata" yaml:"metadata"`
	State    *checkpoint.State    `json:"state" yaml:"state"`
}

// NewInspectCommand creates the inspect subcommand.
func NewInspectCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Show a checkpoint written to disk",
		Long: `Decode and show the checkpoint stored in <dir>. When <dir> is a base
directory holding one checkpoint per pipeline fingerprint, every checkpoint is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatErr := checkFormat(format)
			if formatErr != nil {
				return formatErr
			}

			return runInspect(cmd.Context(), cmd.OutOrStdout(), args[0], format)
		},
	}

	cmd.Flags().StringVar(&format, formatFlag, FormatTable, formatFlagUsage)

	return cmd
}

func runInspect(ctx context.Context, w io.Writer, dir, format string) error {
	dirs, err := checkpointDirs(dir)
	if err != nil {
		return err
	}

	found := make([]inspection, 0, len(dirs))

	for _, d := range dirs {
		insp, loadErr := loadInspection(ctx, d)
		if loadErr != nil {
			return fmt.Errorf("%s: %w", d, loadErr)
		}

		found = append(found, insp)
	}

	if format != FormatTable {
		return encodeStructured(w, format, found)
	}

	for i, insp := range found {
		if i > 0 {
			fmt.Fprintln(w)
		}

		renderInspection(w, insp)
	}

	return nil
}

// checkpointDirs returns dir itself when it holds a checkpoint, otherwise
// every immediate subdirectory that does.
func checkpointDirs(dir string) ([]string, error) {
	_, err := checkpoint.ReadMetadata(dir)
	if err == nil {
		return []string{dir}, nil
	}

	if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return nil, err
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		return nil, fmt.Errorf("%w in %s: %w", checkpoint.ErrNoCheckpoint, dir, readErr)
	}

	var dirs []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		sub := filepath.Join(dir, e.Name())

		_, subErr := checkpoint.ReadMetadata(sub)
		if subErr == nil {
			dirs = append(dirs, sub)
		}
	}

	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w in %s", checkpoint.ErrNoCheckpoint, dir)
	}

	return dirs, nil
}

func loadInspection(ctx context.Context, dir string) (inspection, error) {
	md, err := checkpoint.ReadMetadata(dir)
	if err != nil {
		return inspection{}, err
	}

	codec, err := persist.ByExtension(md.Codec)
	if err != nil {
		return inspection{}, err
	}

	data, err := os.ReadFile(filepath.Join(dir, md.StateFile))
	if err != nil {
		return inspection{}, fmt.Errorf("read state: %w", err)
	}

	coord := checkpoint.NewCoordinator(checkpoint.Options{Codec: codec})

	st, err := coord.Decode(ctx, data)
	if err != nil {
		return inspection{}, err
	}

	return inspection{Dir: dir, Metadata: md, State: st}, nil
}

func renderInspection(w io.Writer, insp inspection) {
	md := insp.Metadata

	color.New(color.FgCyan, color.Bold).Fprintf(w, "%s\n", insp.Dir)

	summary := newTable(w)
	summary.AppendRows([]table.Row{
		{"Pipeline", md.Pipeline},
		{"Fingerprint", md.Fingerprint},
		{"Version", md.Version},
		{"Emitted", humanize.Comma(md.Emitted)},
		{"Stages", md.Stages},
		{"Codec", md.Codec},
		{"State size", humanize.Bytes(safeconv.MustIntToUint64(md.StateBytes))},
		{"Created", createdLabel(md.CreatedAt)},
	})
	summary.Render()

	stages := newTable(w)
	stages.AppendHeader(table.Row{"#", "Kind", "Cursor", "Flags", "Function"})

	for i, s := 0, insp.State.Root; s != nil; i, s = i+1, s.Input {
		stages.AppendRow(table.Row{i, s.Kind, s.Cursor, stageFlags(s), stageFunction(s)})
	}

	stages.Render()
}

func createdLabel(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}

	return raw + " (" + humanize.Time(t) + ")"
}

func stageFlags(s *dataset.StageState) string {
	var flags []string

	if s.Exhausted {
		flags = append(flags, "exhausted")
	}

	if s.EpochHasOutput {
		flags = append(flags, "epoch-has-output")
	}

	if s.Adapter != nil && s.Adapter.Stateful {
		flags = append(flags, color.New(color.FgYellow).Sprint("stateful"))
	}

	return strings.Join(flags, ",")
}

func stageFunction(s *dataset.StageState) string {
	if s.Adapter == nil {
		return ""
	}

	return s.Adapter.Signature
}
