package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceText renders the trace with one line per entry.
func (r *Result) TraceText() []byte {
	if len(r.Trace) == 0 {
		return nil
	}
	return []byte(strings.Join(r.Trace, "\n") + "\n")
}

// AssertGolden compares the result's trace with
// testdata/golden/<name>.golden.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, result.TraceText())
}
