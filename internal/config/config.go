// Package config holds compile-time constants and the optional fusabi.yml
// project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source and bytecode file extensions.
const (
	SourceFileExt   = ".fz"
	BytecodeFileExt = ".fzb"
)

// ProjectFileName is the optional per-project configuration file.
const ProjectFileName = "fusabi.yml"

// Defaults for the engine configuration surface.
const (
	DefaultMaxStackDepth = 1024
)

// Project is the fusabi.yml schema.
type Project struct {
	// Engine tunes the VM resource limits.
	Engine EngineSection `yaml:"engine,omitempty"`

	// Async tunes the async runtime.
	Async AsyncSection `yaml:"async,omitempty"`
}

type EngineSection struct {
	// MaxStackDepth bounds the call depth (default 1024).
	MaxStackDepth uint32 `yaml:"max_stack_depth,omitempty"`

	// MaxInstructions bounds instructions per execution; 0 is unbounded.
	MaxInstructions uint64 `yaml:"max_instructions,omitempty"`

	// StrictMatches makes non-exhaustive matches a compile error.
	StrictMatches bool `yaml:"strict_matches,omitempty"`

	// DebugInfo keeps per-instruction source spans in emitted bytecode.
	DebugInfo bool `yaml:"debug_info,omitempty"`
}

type AsyncSection struct {
	// Enabled toggles the async runtime (default true).
	Enabled *bool `yaml:"enabled,omitempty"`

	// WorkerThreads bounds the join concurrency of the parallel combinators (default: logical CPUs).
	WorkerThreads uint32 `yaml:"worker_threads,omitempty"`
}

// DefaultProject returns the built-in defaults.
func DefaultProject() Project {
	return Project{
		Engine: EngineSection{MaxStackDepth: DefaultMaxStackDepth},
		Async:  AsyncSection{WorkerThreads: uint32(runtime.NumCPU())},
	}
}

// AsyncEnabled resolves the tri-state enabled flag.
func (p Project) AsyncEnabled() bool {
	return p.Async.Enabled == nil || *p.Async.Enabled
}

// LoadProject reads fusabi.yml from dir, walking up to the filesystem
// root; missing files yield the defaults.
func LoadProject(dir string) (Project, error) {
	project := DefaultProject()
	for {
		path := filepath.Join(dir, ProjectFileName)
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &project); err != nil {
				return project, fmt.Errorf("%s: %w", path, err)
			}
			if project.Engine.MaxStackDepth == 0 {
				project.Engine.MaxStackDepth = DefaultMaxStackDepth
			}
			if project.Async.WorkerThreads == 0 {
				project.Async.WorkerThreads = uint32(runtime.NumCPU())
			}
			return project, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return project, nil
		}
		dir = parent
	}
}

// IsSourceFile reports whether a path has the source extension.
func IsSourceFile(path string) bool {
	return strings.HasSuffix(path, SourceFileExt)
}

// IsBytecodeFile reports whether a path has the bytecode extension.
func IsBytecodeFile(path string) bool {
	return strings.HasSuffix(path, BytecodeFileExt)
}

// TrimSourceExt drops the source extension for display.
func TrimSourceExt(path string) string {
	return strings.TrimSuffix(path, SourceFileExt)
}
