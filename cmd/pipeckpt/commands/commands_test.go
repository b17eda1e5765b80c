package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/pipeckpt/internal/scenarios"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/observability"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/verify"
)

// run executes the root command with a throwaway config file.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "pipeckpt.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: error\n"), 0o600))

	var out bytes.Buffer

	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", cfgPath, "--no-color"}, args...))

	err := root.Execute()

	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pipeckpt ")
	assert.Contains(t, out, "commit:")
}

func TestScenariosCommand(t *testing.T) {
	out, err := run(t, "scenarios")
	require.NoError(t, err)

	for _, name := range scenarios.Names() {
		assert.Contains(t, out, name)
	}

	assert.Contains(t, out, "98")
	assert.Contains(t, out, "error on save")
}

func TestVerifyCommand_JSON(t *testing.T) {
	out, err := run(t, "verify", "--format", FormatJSON, scenarios.Core, scenarios.CaptureVariable)
	require.NoError(t, err)

	var reports []verify.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)

	assert.Equal(t, scenarios.Core, reports[0].Scenario)
	assert.Len(t, reports[0].Checks, 7)
	assert.Equal(t, scenarios.CaptureVariable, reports[1].Scenario)
	require.Len(t, reports[1].Checks, 1)
	assert.Equal(t, verify.CheckErrorOnSave, reports[1].Checks[0].Name)

	for _, r := range reports {
		for _, c := range r.Checks {
			assert.True(t, c.Passed, "%s/%s: %s", r.Scenario, c.Name, c.Error)
		}
	}
}

func TestVerifyCommand_Table(t *testing.T) {
	out, err := run(t, "verify", "--codec", "json", "--no-compress", scenarios.SparseCore)
	require.NoError(t, err)

	assert.Contains(t, out, "│ PASS ")
	assert.NotContains(t, out, "│ FAIL ")
	assert.Contains(t, out, verify.CheckMultipleBreaks)
	assert.Contains(t, strings.ToLower(out), "0 failed")
}

func TestVerifyCommand_FailureExitsNonZero(t *testing.T) {
	out, err := run(t, "verify", "--policy", "ignore", scenarios.CaptureVariable)
	require.ErrorIs(t, err, ErrVerificationFailed)

	assert.Contains(t, out, "│ FAIL ")
	assert.Contains(t, out, verify.ErrSaveSucceeded.Error())
}

func TestVerifyCommand_BadInput(t *testing.T) {
	_, err := run(t, "verify", "shuffle")
	require.ErrorIs(t, err, scenarios.ErrUnknownScenario)

	_, err = run(t, "verify", "--format", "xml", scenarios.Core)
	require.ErrorIs(t, err, ErrUnknownFormat)

	_, err = run(t, "verify", "--policy", "maybe", scenarios.Core)
	require.ErrorIs(t, err, checkpoint.ErrUnknownPolicy)
}

func TestVerifyThenInspect(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "verify", "--checkpoint-dir", dir, "--format", FormatYAML, scenarios.CaptureNested)
	require.NoError(t, err)

	out, err := run(t, "inspect", "--format", FormatJSON, dir)
	require.NoError(t, err)

	var found []inspection
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)

	insp := found[0]
	assert.Equal(t, ".gob.lz4", insp.Metadata.Codec)
	assert.Equal(t, insp.Metadata.Fingerprint, insp.State.Fingerprint)
	assert.Equal(t, insp.Metadata.Emitted, insp.State.Emitted)
	assert.Equal(t, insp.Metadata.Stages, insp.State.Depth())
	assert.Equal(t, filepath.Join(dir, insp.Metadata.Fingerprint), insp.Dir)

	table, err := run(t, "inspect", insp.Dir)
	require.NoError(t, err)
	assert.Contains(t, table, insp.Metadata.Pipeline)
	assert.Contains(t, table, "add_thousand")
	assert.Contains(t, table, "range")

	raw, err := run(t, "inspect", "--format", FormatYAML, insp.Dir)
	require.NoError(t, err)

	var doc []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(raw), &doc))
	require.Len(t, doc, 1)
	assert.Equal(t, insp.Dir, doc[0]["dir"])
}

func TestInspect_NoCheckpoint(t *testing.T) {
	_, err := run(t, "inspect", t.TempDir())
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)

	_, err = run(t, "inspect", filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestServeMetrics(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pipeckpt_up 1\n"))
	})

	srv, err := serveMetrics("127.0.0.1:0", handler, observability.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(t.Context()) })

	resp, err := http.Get(srv.URL()) //nolint:noctx // test
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pipeckpt_up 1\n", string(body))

	_, err = serveMetrics("127.0.0.1:0", nil, observability.DiscardLogger())
	require.ErrorIs(t, err, ErrNoMetricsHandler)
}
