package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuite_Testdata(t *testing.T) {
	result, err := RunSuite(context.Background(), "testdata/scenarios")
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalScenarios)
	assert.Equal(t, 2, result.Passed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Failures)
}

func TestRunSuite_CollectsFailures(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	// Loads but fails its assertion.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_failing.yaml"), []byte(`
name: failing
description: d
flow:
  - action: create
    args: { id: REQ-001 }
assertions:
  - type: trace_count
    kind: requirement.created
    count: 2
`), 0o644))
	// Does not load.
	require.NoError(t, os.WriteFile(filepath.Join(nested, "b_invalid.yaml"), []byte("name: x\n"), 0o644))
	// Passes.
	require.NoError(t, os.WriteFile(filepath.Join(nested, "c_passing.yaml"), []byte(`
name: passing
description: d
flow:
  - action: create
    args: { id: REQ-001 }
assertions:
  - type: trace_count
    kind: requirement.created
    count: 1
`), 0o644))

	result, err := RunSuite(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalScenarios)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0].Error, "scenario assertions failed")
	assert.Contains(t, result.Failures[1].ScenarioPath, "b_invalid.yaml")
	assert.Contains(t, result.Failures[1].Error, "failed to load scenario")
}

func TestRunSuite_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := RunSuite(ctx, "testdata/scenarios")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.TotalScenarios)
}
