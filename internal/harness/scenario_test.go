package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
users:
  - { username: alice, password: pw }
faults:
  - { method: PATCH, path: /api/threads/1/vote, status: 500 }
rollback_on_failure: false
per_page: 5
steps:
  - op: login
    args: { username: alice, password: pw }
  - op: solve
    args: { puzzle: 1, answer: rome }
    expect:
      result: { outcome: solved }
assertions:
  - type: trace_contains
    op: login
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, 5, scenario.PerPage)
	require.NotNil(t, scenario.RollbackOnFailure)
	assert.False(t, *scenario.RollbackOnFailure)
	require.Len(t, scenario.Users, 1)
	require.Len(t, scenario.Faults, 1)
	assert.Equal(t, 500, scenario.Faults[0].Status)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, OpSolve, scenario.Steps[1].Op)
	assert.Equal(t, 1, scenario.Steps[1].Args["puzzle"])
	assert.Equal(t, "solved", scenario.Steps[1].Expect.Result["outcome"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "misspelled assertions key"
steps:
  - op: load
assertion:
  - type: stats
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `
description: d
steps: [{ op: load }]
assertions: [{ type: trace_count, op: load, count: 1 }]
`,
			want: "name is required",
		},
		{
			name: "no steps",
			yaml: `
name: n
description: d
steps: []
assertions: [{ type: trace_count, op: load, count: 1 }]
`,
			want: "steps list is required",
		},
		{
			name: "unknown op",
			yaml: `
name: n
description: d
steps: [{ op: teleport }]
assertions: [{ type: trace_count, op: load, count: 1 }]
`,
			want: `unknown op "teleport"`,
		},
		{
			name: "fault with success status",
			yaml: `
name: n
description: d
faults: [{ method: GET, path: /api/threads, status: 200 }]
steps: [{ op: load }]
assertions: [{ type: trace_count, op: load, count: 1 }]
`,
			want: "status must be an error status",
		},
		{
			name: "thread assertion without id",
			yaml: `
name: n
description: d
steps: [{ op: load }]
assertions: [{ type: thread, expect: { exists: true } }]
`,
			want: "id is required for thread",
		},
		{
			name: "my_vote without item type",
			yaml: `
name: n
description: d
steps: [{ op: load }]
assertions: [{ type: my_vote, id: 1, expect: { vote: up } }]
`,
			want: "id and item_type are required",
		},
		{
			name: "unknown assertion type",
			yaml: `
name: n
description: d
steps: [{ op: load }]
assertions: [{ type: vibes }]
`,
			want: `unknown assertion type "vibes"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTestdataScenariosParse(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	names := make(map[string]bool)
	for _, f := range files {
		s, err := LoadScenario(f)
		require.NoError(t, err, f)
		assert.False(t, names[s.Name], "duplicate scenario name %s", s.Name)
		names[s.Name] = true
	}
}
