//go:build !windows

package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeTool installs a shell script standing in for the workspace
// tool and returns its path.
func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-workspace-tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestCLIProviderAffected(t *testing.T) {
	ctx := context.Background()

	tool := writeFakeTool(t, `echo '["pkg-b","pkg-a"]'`)
	p := &CLIProvider{Tool: tool}

	projects, err := p.Affected(ctx, "origin/main", "HEAD", "build")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "pkg-b"}, projects)
}

func TestCLIProviderAffectedToolFailure(t *testing.T) {
	ctx := context.Background()

	tool := writeFakeTool(t, `exit 7`)
	p := &CLIProvider{Tool: tool}

	_, err := p.Affected(ctx, "origin/main", "HEAD", "build")
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, KindUnavailable, qerr.Kind)
}

func TestCLIProviderAffectedTimeout(t *testing.T) {
	ctx := context.Background()

	tool := writeFakeTool(t, `sleep 5`)
	p := &CLIProvider{Tool: tool, Timeout: 50 * time.Millisecond}

	_, err := p.Affected(ctx, "origin/main", "HEAD", "build")
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, KindTimeout, qerr.Kind)
}

func TestCLIProviderAffectedGarbage(t *testing.T) {
	ctx := context.Background()

	tool := writeFakeTool(t, `echo 'not json at all'`)
	p := &CLIProvider{Tool: tool}

	_, err := p.Affected(ctx, "origin/main", "HEAD", "build")
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, KindParse, qerr.Kind)
}

func TestCLIProviderFullGraph(t *testing.T) {
	ctx := context.Background()

	// The fake tool writes a graph export to the --file argument and the
	// provider must clean the temp file up afterwards.
	tool := writeFakeTool(t, `
while [ "$1" != "--file" ]; do shift; done
cat > "$2" <<'EOF'
{"graph":{"nodes":{"app":{},"lib":{}},"dependencies":{"app":[{"target":"lib"}]}}}
EOF
echo "$2" > "${FAKE_TOOL_OUT}"
`)
	outPath := filepath.Join(t.TempDir(), "exportpath")
	t.Setenv("FAKE_TOOL_OUT", outPath)

	p := &CLIProvider{Tool: tool}
	g, err := p.FullGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "lib"}, g.SortedNodes())

	// Cached on second call
	g2, err := p.FullGraph(ctx)
	require.NoError(t, err)
	assert.Same(t, g, g2)

	// Temp export file was removed
	exported, err := os.ReadFile(outPath)
	require.NoError(t, err)
	_, statErr := os.Stat(strings.TrimSpace(string(exported)))
	assert.True(t, os.IsNotExist(statErr), "temp graph export should be removed")
}
