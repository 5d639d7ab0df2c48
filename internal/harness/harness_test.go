package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			AssertGolden(t, scenario.Name, result)
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "offline_audits_converge.yaml"))
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Hashes, second.Hashes)
	assert.Equal(t, first.Hashes["dev-a"], first.Hashes["dev-b"])
}

func TestRun_ReportsOutcomeMismatch(t *testing.T) {
	scenario := mustParse(t, `
name: wrong_expectation
description: "Deleting a missing organization is not ok"
devices: [dev-a]
steps:
  - emit: organization.deleted
    entity: org-404
  - emit: organization.created
    entity: org-1
    payload: { name: Acme }
    expect: NOT_FOUND
assertions:
  - type: count
    table: organizations
    count: 1
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected ok, got NOT_FOUND")
	assert.Contains(t, result.Errors[1], "expected NOT_FOUND, got ok")
	assert.Equal(t, []string{
		"dev-a organization.deleted org-404 NOT_FOUND",
		"dev-a organization.created org-1 ok",
		"final dev-a events=1",
	}, result.Trace)
}

func TestRun_ReportsAssertionFailures(t *testing.T) {
	scenario := mustParse(t, `
name: failing_assertions
description: "Every assertion kind can fail"
devices: [dev-a, dev-b]
steps:
  - emit: organization.created
    entity: org-1
    payload: { name: Acme }
assertions:
  - type: converged
  - type: field
    device: dev-a
    table: organizations
    id: org-1
    field: name
    equals: Globex
  - type: field
    device: dev-a
    table: organizations
    id: org-1
    field: color
    equals: red
  - type: field
    device: dev-b
    table: organizations
    id: org-1
    field: name
    equals: Acme
  - type: absent
    device: dev-a
    table: organizations
    id: org-1
  - type: count
    device: dev-a
    table: widgets
    count: 0
`)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "dev-a and dev-b diverged")
	assert.Contains(t, joined, "organizations/org-1.name = Acme, expected Globex")
	assert.Contains(t, joined, `has no field "color"`)
	assert.Contains(t, joined, "dev-b: organizations/org-1 not found")
	assert.Contains(t, joined, "dev-a: organizations/org-1 exists")
	assert.Contains(t, joined, `unknown table "widgets"`)
	assert.Len(t, result.Errors, 6)
}

func TestRun_RejectsUnsupportedPayload(t *testing.T) {
	scenario := mustParse(t, `
name: float_payload
description: "Floats are not canonical values"
devices: [dev-a]
steps:
  - emit: organization.created
    entity: org-1
    payload: { name: Acme, rating: 4.5 }
assertions:
  - type: count
    table: organizations
    count: 0
`)

	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload")
}

func TestResult_TraceText(t *testing.T) {
	r := NewResult()
	assert.Nil(t, r.TraceText())

	r.trace("a %d", 1)
	r.trace("b")
	assert.Equal(t, "a 1\nb\n", string(r.TraceText()))
}

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(strings.TrimSpace(doc)))
	require.NoError(t, err)
	return s
}
