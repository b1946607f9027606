package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/*.yaml")
	require.NoError(t, err)
	cuePaths, err := filepath.Glob("testdata/*.cue")
	require.NoError(t, err)
	paths = append(paths, cuePaths...)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestGolden_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/actions_and_purity.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	firstJSON, err := MarshalTrace(s.Name, first.Trace)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Run(s)
		require.NoError(t, err)
		againJSON, err := MarshalTrace(s.Name, again.Trace)
		require.NoError(t, err)
		assert.Equal(t, string(firstJSON), string(againJSON), "run %d", i)
	}
}

func TestMarshalTrace_OmitsEmptyFields(t *testing.T) {
	out, err := MarshalTrace("t", []TraceEvent{
		{Type: EventEmit, Step: 0, View: "v", Subscription: "h", State: nil},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"t","trace":[{"state":null,"step":0,"subscription":"h","type":"emit","view":"v"}]}`,
		string(out))
}

func TestWriteAndCompareGolden(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "golden")

	s, err := LoadScenario("testdata/counter_increments.yaml")
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)

	_, err = CompareGolden(dir, s.Name, result)
	require.Error(t, err, "missing golden file")

	require.NoError(t, WriteGolden(dir, s.Name, result))
	match, err := CompareGolden(dir, s.Name, result)
	require.NoError(t, err)
	assert.True(t, match)

	written, err := os.ReadFile(GoldenPath(dir, s.Name))
	require.NoError(t, err)
	committed, err := os.ReadFile(filepath.Join("testdata", "golden", s.Name+GoldenSuffix))
	require.NoError(t, err)
	assert.Equal(t, string(committed), string(written))

	result.Trace = result.Trace[:1]
	match, err = CompareGolden(dir, s.Name, result)
	require.NoError(t, err)
	assert.False(t, match)
}
