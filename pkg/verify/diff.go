package verify

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
)

// maxDiffLines bounds the diff embedded in a mismatch error.
const maxDiffLines = 12

// compare returns ErrOutputMismatch with a line diff when got differs from want.
func compare(want, got []dataset.Record) error {
	if equalRecords(want, got) {
		return nil
	}

	return fmt.Errorf("%w: want %d records, got %d\n%s",
		ErrOutputMismatch, len(want), len(got), renderDiff(want, got))
}

func equalRecords(want, got []dataset.Record) bool {
	if len(want) != len(got) {
		return false
	}

	for i := range want {
		if !want[i].Equal(got[i]) {
			return false
		}
	}

	return true
}

func renderRecords(recs []dataset.Record) string {
	var sb strings.Builder

	for i, rec := range recs {
		fmt.Fprintf(&sb, "%d: %s\n", i, rec)
	}

	return sb.String()
}

// renderDiff shows removed (-) and added (+) lines, one record per line.
func renderDiff(want, got []dataset.Record) string {
	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToRunes(renderRecords(want), renderRecords(got))
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(src, dst, false), lines)

	var (
		sb      strings.Builder
		written int
	)

	for _, d := range diffs {
		var prefix string

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffEqual:
			continue
		}

		for line := range strings.Lines(d.Text) {
			if written == maxDiffLines {
				sb.WriteString("  ...\n")

				return sb.String()
			}

			sb.WriteString(prefix)
			sb.WriteString(line)

			written++
		}
	}

	return sb.String()
}
