package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadResolvesRelativeAndOrdersDeps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "util.fz", `let helper x = x + 1`)
	main := writeFile(t, dir, "main.fz", "#load \"util.fz\"\nlet result = helper 1")

	l := NewLoader()
	files, err := l.Load(main, dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	// Dependencies come first.
	assert.Equal(t, "util.fz", filepath.Base(files[0].Path))
	assert.Equal(t, "main.fz", filepath.Base(files[1].Path))
}

func TestLoadMemoizesPerCanonicalPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shared.fz", `let v = 1`)
	writeFile(t, dir, "a.fz", "#load \"shared.fz\"\nlet a = v")
	writeFile(t, dir, "b.fz", "#load \"shared.fz\"\nlet b = v")
	main := writeFile(t, dir, "main.fz", "#load \"a.fz\"\n#load \"b.fz\"\nlet m = 1")

	l := NewLoader()
	files, err := l.Load(main, dir)
	require.NoError(t, err)

	var sharedCount int
	var first *LoadedFile
	for _, f := range files {
		if filepath.Base(f.Path) == "shared.fz" {
			sharedCount++
			if first == nil {
				first = f
			} else {
				assert.Same(t, first, f, "cache must reuse the same entry")
			}
		}
	}
	assert.Equal(t, 2, sharedCount, "shared dep is listed once per dependent, both times as the same cached object")
}

func TestCircularDependencyDetected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.fz", "#load \"b.fz\"\nlet a = 1")
	writeFile(t, dir, "b.fz", "#load \"a.fz\"\nlet b = 2")

	l := NewLoader()
	_, err := l.Load(filepath.Join(dir, "a.fz"), dir)
	require.Error(t, err)
	le, ok := err.(*LoadError)
	require.True(t, ok, "want LoadError, got %T", err)
	assert.Equal(t, CircularDependency, le.Kind)
	assert.GreaterOrEqual(t, len(le.Chain), 2, "cycle chain should name the participants")
}

func TestFileNotFound(t *testing.T) {
	l := NewLoader()
	_, err := l.Load("nope.fz", t.TempDir())
	require.Error(t, err)
	le := err.(*LoadError)
	assert.Equal(t, FileNotFound, le.Kind)
}

func TestPkgPrefixReserved(t *testing.T) {
	l := NewLoader()
	_, err := l.ResolvePath("pkg:http/client", ".")
	require.Error(t, err)
}

func TestAbsolutePathsTakenVerbatim(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "lib.fz", `let x = 1`)

	l := NewLoader()
	resolved, err := l.ResolvePath(abs, "/somewhere/else")
	require.NoError(t, err)
	assert.Equal(t, abs, resolved)
}

func TestDownstreamParseErrorWrapsPath(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.fz", `let = 3`)

	l := NewLoader()
	_, err := l.Load(bad, dir)
	require.Error(t, err)
	le := err.(*LoadError)
	assert.Equal(t, DownstreamError, le.Kind)
	assert.Contains(t, le.Path, "bad.fz")
}

func TestRegistryQualifiedLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(&Module{
		Name:     "Geometry",
		Bindings: []string{"origin"},
		Nested: []*Module{
			{Name: "Circle", Bindings: []string{"area", "tau"}},
		},
	})

	name, ok := r.Resolve([]string{"Geometry", "Circle"}, "area")
	require.True(t, ok)
	assert.Equal(t, "Geometry.Circle.area", name)

	_, ok = r.Resolve([]string{"Geometry", "Circle"}, "nope")
	assert.False(t, ok)
	_, ok = r.Resolve([]string{"Geometry", "Square"}, "area")
	assert.False(t, ok)

	exports := r.Exports()
	assert.Contains(t, exports, "Geometry.origin")
	assert.Contains(t, exports, "Geometry.Circle.tau")
}
