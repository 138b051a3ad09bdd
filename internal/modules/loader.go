package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/lexer"
	"github.com/fusabi-lang/fusabi/internal/parser"
)

// LoadErrorKind classifies loader failures.
type LoadErrorKind string

const (
	FileNotFound       LoadErrorKind = "FileNotFound"
	CircularDependency LoadErrorKind = "CircularDependency"
	IoError            LoadErrorKind = "Io"
	DownstreamError    LoadErrorKind = "Downstream"
)

// LoadError wraps loader failures with the faulting path; downstream
// parse errors keep their own detail.
type LoadError struct {
	Kind  LoadErrorKind
	Path  string
	Chain []string
	Err   error
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case CircularDependency:
		return fmt.Sprintf("circular dependency: %s", strings.Join(e.Chain, " -> "))
	case FileNotFound:
		return fmt.Sprintf("file not found: %s", e.Path)
	case IoError:
		return fmt.Sprintf("i/o error loading %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadedFile is one parsed source file, memoized by canonical path.
type LoadedFile struct {
	Path    string
	Source  string
	Program *ast.Program

	// Executed is set by the engine once the file's bindings have run.
	Executed bool
}

// Loader resolves #load directives. It keeps two sets: `loading` for
// in-progress paths (revisits are circular) and `cache` for completed
// ones (revisits reuse the result).
type Loader struct {
	cache   map[string]*LoadedFile
	loading map[string]bool
	chain   []string

	// Registry accumulates module binding tables from loaded files.
	Registry *Registry
}

func NewLoader() *Loader {
	return &Loader{
		cache:    make(map[string]*LoadedFile),
		loading:  make(map[string]bool),
		Registry: NewRegistry(),
	}
}

// ResolvePath resolves a #load path relative to the loading file's
// directory; absolute paths are taken verbatim. The pkg: prefix is
// reserved for a future package resolver.
func (l *Loader) ResolvePath(path, fromDir string) (string, error) {
	if strings.HasPrefix(path, "pkg:") {
		return "", &LoadError{Kind: DownstreamError, Path: path,
			Err: fmt.Errorf("pkg: paths are reserved for the package resolver")}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(fromDir, path)
	}
	canonical, err := filepath.Abs(path)
	if err != nil {
		return "", &LoadError{Kind: IoError, Path: path, Err: err}
	}
	return filepath.Clean(canonical), nil
}

// Load parses a file and, transitively, everything it #loads, returning
// the files in dependency order (dependencies first). A path already in
// the cache contributes its memoized entry; a path still loading is a
// cycle.
func (l *Loader) Load(path, fromDir string) ([]*LoadedFile, error) {
	canonical, err := l.ResolvePath(path, fromDir)
	if err != nil {
		return nil, err
	}

	if l.loading[canonical] {
		chain := append(append([]string(nil), l.chain...), canonical)
		return nil, &LoadError{Kind: CircularDependency, Path: canonical, Chain: chain}
	}
	if cached, ok := l.cache[canonical]; ok {
		return []*LoadedFile{cached}, nil
	}

	l.loading[canonical] = true
	l.chain = append(l.chain, canonical)
	defer func() {
		delete(l.loading, canonical)
		l.chain = l.chain[:len(l.chain)-1]
	}()

	content, err := os.ReadFile(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Kind: FileNotFound, Path: canonical}
		}
		return nil, &LoadError{Kind: IoError, Path: canonical, Err: err}
	}

	file, deps, err := l.parse(canonical, string(content))
	if err != nil {
		return nil, err
	}

	// Directives resolve in textual order before the file's own
	// declarations, so loaded names are visible to them.
	var ordered []*LoadedFile
	for _, dep := range deps {
		depFiles, depErr := l.Load(dep, filepath.Dir(canonical))
		if depErr != nil {
			return nil, depErr
		}
		ordered = append(ordered, depFiles...)
	}

	l.cache[canonical] = file
	return append(ordered, file), nil
}

// ParseSource parses an in-memory source (REPL, eval) without touching
// the cache, still registering its module tables.
func (l *Loader) ParseSource(name, source string) (*LoadedFile, []string, error) {
	file, deps, err := l.parse(name, source)
	if err != nil {
		return nil, nil, err
	}
	return file, deps, nil
}

func (l *Loader) parse(path, source string) (*LoadedFile, []string, error) {
	lex := lexer.New(source)
	p := parser.New(lex)
	prog := p.ParseProgram()
	prog.File = path
	if errs := p.Errors(); len(errs) > 0 {
		return nil, nil, &LoadError{Kind: DownstreamError, Path: path, Err: errs[0]}
	}

	for _, decl := range prog.Decls {
		if mod := buildModule(decl); mod != nil {
			l.Registry.Register(mod)
		}
	}

	deps := make([]string, 0, len(prog.Directives))
	for _, d := range prog.Directives {
		deps = append(deps, d.Path)
	}
	return &LoadedFile{Path: path, Source: source, Program: prog}, deps, nil
}

// buildModule extracts a binding table from a module declaration.
func buildModule(decl ast.Decl) *Module {
	md, ok := decl.(*ast.ModuleDecl)
	if !ok {
		return nil
	}
	m := &Module{Name: md.Name}
	for _, inner := range md.Decls {
		switch d := inner.(type) {
		case *ast.LetDecl:
			for _, b := range d.Bindings {
				m.Bindings = append(m.Bindings, b.Name)
			}
		case *ast.ModuleDecl:
			if nested := buildModule(d); nested != nil {
				m.Nested = append(m.Nested, nested)
			}
		}
	}
	return m
}
