package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommandValid(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "counter.yaml", counterScenario)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ counter is valid (1 modules, 0 views, 2 steps, 2 assertions)")
}

func TestValidateCommandValidJSON(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "counter.yaml", counterScenario)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "counter", resp.Data.Scenario)
	assert.Equal(t, 2, resp.Data.Steps)
}

func TestValidateCommandMissingFile(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario file not found")
}

func TestValidateCommandErrorCodes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    string
	}{
		{"syntax error", "name: [\n", ErrCodeLoad},
		{"unknown field", counterScenario + "extra: true\n", ErrCodeLoad},
		{"unknown kind", `name: bad
description: unknown kind
modules:
  - id: m
    kind: teapot
steps:
  - op: settle
assertions:
  - type: mutation_count
    module: m
    count: 1
`, ErrCodeInvalid},
		{"undefined alias", `name: bad
description: unsubscribe before subscribe
modules:
  - id: counter
    kind: counter
steps:
  - op: unsubscribe
    view: counter
    as: nobody
assertions:
  - type: mutation_count
    module: counter
    count: 1
`, ErrCodeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), "scenario.yaml", tt.content)

			buf := &bytes.Buffer{}
			cmd := NewValidateCommand(&RootOptions{Format: "json"})
			cmd.SetOut(buf)
			cmd.SetArgs([]string{path})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestValidateCommandCUE(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "list.cue", `name:        "list"
description: "push onto a list"
modules: [{id: "items", kind: "list"}]
steps: [{op: "mutate", module: "items", name: "PUSH", data: 1}]
assertions: [{type: "final_state", view: "items", expect: [1]}]
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ list is valid")
}
