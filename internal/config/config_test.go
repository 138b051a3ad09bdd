package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProjectDefaults(t *testing.T) {
	project, err := LoadProject(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultMaxStackDepth), project.Engine.MaxStackDepth)
	assert.True(t, project.AsyncEnabled())
	assert.NotZero(t, project.Async.WorkerThreads)
}

func TestLoadProjectFromFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
engine:
  max_stack_depth: 2048
  max_instructions: 500000
  strict_matches: true
async:
  enabled: false
  worker_threads: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte(yml), 0o644))

	project, err := LoadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, uint32(2048), project.Engine.MaxStackDepth)
	assert.Equal(t, uint64(500000), project.Engine.MaxInstructions)
	assert.True(t, project.Engine.StrictMatches)
	assert.False(t, project.AsyncEnabled())
	assert.Equal(t, uint32(2), project.Async.WorkerThreads)
}

func TestLoadProjectWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectFileName),
		[]byte("engine:\n  max_stack_depth: 77\n"), 0o644))

	project, err := LoadProject(nested)
	require.NoError(t, err)
	assert.Equal(t, uint32(77), project.Engine.MaxStackDepth)
}

func TestLoadProjectRejectsMalformedYaml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName),
		[]byte("engine: [not a map"), 0o644))
	_, err := LoadProject(dir)
	require.Error(t, err)
}

func TestExtensionHelpers(t *testing.T) {
	assert.True(t, IsSourceFile("x.fz"))
	assert.True(t, IsBytecodeFile("x.fzb"))
	assert.False(t, IsSourceFile("x.fzb"))
	assert.Equal(t, "dir/prog", TrimSourceExt("dir/prog.fz"))
}
