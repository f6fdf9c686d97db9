package focus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopeguard/scopeguard/internal/graph"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"pkg-a", []string{"pkg-a"}},
		{"pkg-b,pkg-a", []string{"pkg-a", "pkg-b"}},
		{" pkg-a , pkg-a ,", []string{"pkg-a"}},
		{",,", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.in), "input %q", tt.in)
	}
}

// testGraph: pkg-a -> pkg-b -> pkg-c, pkg-d standalone.
func testGraph() *graph.Graph {
	return graph.NewGraph(
		[]string{"pkg-a", "pkg-b", "pkg-c", "pkg-d"},
		map[string][]string{
			"pkg-a": {"pkg-b"},
			"pkg-b": {"pkg-c"},
		},
	)
}

func TestNarrowNoFocus(t *testing.T) {
	res, err := Narrow([]string{"pkg-b", "pkg-a"}, nil, testGraph(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "pkg-b"}, res.Projects)
	assert.Empty(t, res.Warnings)
}

func TestNarrowNoOverlap(t *testing.T) {
	res, err := Narrow([]string{"pkg-a", "pkg-b"}, []string{"pkg-d"}, testGraph(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "pkg-b"}, res.Projects, "focus ignored, full affected set kept")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no overlap")
}

func TestNarrowDependencyOmission(t *testing.T) {
	// pkg-a depends on pkg-b; both affected; focus only pkg-a.
	res, err := Narrow([]string{"pkg-a", "pkg-b"}, []string{"pkg-a"}, testGraph(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a"}, res.Projects)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "focus omits affected dependency: pkg-a -> pkg-b", res.Warnings[0])
}

func TestNarrowDependencyOmissionStrict(t *testing.T) {
	_, err := Narrow([]string{"pkg-a", "pkg-b"}, []string{"pkg-a"}, testGraph(), true)
	var strict *StrictError
	require.True(t, errors.As(err, &strict))
	require.Len(t, strict.Warnings, 1)
	assert.Contains(t, strict.Warnings[0], "pkg-a -> pkg-b")
	assert.Contains(t, strict.Error(), "pkg-a -> pkg-b")
}

func TestNarrowTransitiveOmission(t *testing.T) {
	// pkg-c is affected and reachable from pkg-a only transitively.
	res, err := Narrow([]string{"pkg-a", "pkg-c"}, []string{"pkg-a"}, testGraph(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a"}, res.Projects)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "focus omits affected dependency: pkg-a -> pkg-c", res.Warnings[0])
}

func TestNarrowCleanFocus(t *testing.T) {
	// Unaffected dependencies are fine to omit: pkg-b not affected here.
	res, err := Narrow([]string{"pkg-a"}, []string{"pkg-a"}, testGraph(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a"}, res.Projects)
	assert.Empty(t, res.Warnings)
}

func TestNarrowFocusCoversClosure(t *testing.T) {
	res, err := Narrow(
		[]string{"pkg-a", "pkg-b", "pkg-c"},
		[]string{"pkg-a", "pkg-b", "pkg-c"},
		testGraph(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "pkg-b", "pkg-c"}, res.Projects)
	assert.Empty(t, res.Warnings)
}

func TestNarrowDeterministicWarnings(t *testing.T) {
	g := graph.NewGraph(nil, map[string][]string{
		"pkg-a": {"pkg-z", "pkg-m"},
	})
	res, err := Narrow([]string{"pkg-a", "pkg-m", "pkg-z"}, []string{"pkg-a"}, g, false)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "focus omits affected dependency: pkg-a -> pkg-m", res.Warnings[0])
	assert.Equal(t, "focus omits affected dependency: pkg-a -> pkg-z", res.Warnings[1])
}
