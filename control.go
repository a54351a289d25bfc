package cogmem

import (
	"path/filepath"
	"strings"
	"sync"
)

// ProjectSkipList names directories that never count as a project root when
// auto-detecting scope from a working directory (vendored/tooling dirs a
// caller might accidentally invoke from).
var ProjectSkipList = []string{
	"src", "lib", "dist", "node_modules", ".git", "tests", "test",
	"bin", "scripts", "config", "public", "static",
}

// ProjectContext resolves the active project scope for memory operations,
// from either an explicit override or a working-directory guess, and guards
// it behind a mutex so SetProject/GetProject are safe to call concurrently
// with the worker loop and adapters.
type ProjectContext struct {
	mu      sync.RWMutex
	project string // "" = unset, "*" = global-only
}

// NewProjectContext seeds the context from config (Config.Project).
func NewProjectContext(initial string) *ProjectContext {
	return &ProjectContext{project: initial}
}

// Get returns the current project scope.
func (p *ProjectContext) Get() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.project
}

// Set overrides the project scope explicitly.
func (p *ProjectContext) Set(project string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.project = project
}

// ResolveFromPath derives a project name from a working directory path: the
// nearest ancestor directory name that isn't on ProjectSkipList. Returns ""
// if path is empty or every component is skip-listed.
func ResolveFromPath(path string) string {
	path = filepath.Clean(path)
	for path != "." && path != string(filepath.Separator) && path != "" {
		base := filepath.Base(path)
		if !isSkipped(base) {
			return base
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}
	return ""
}

func isSkipped(name string) bool {
	lower := strings.ToLower(name)
	for _, skip := range ProjectSkipList {
		if lower == skip {
			return true
		}
	}
	return false
}

// PauseGate is a mutex-guarded flag that blocks write operations (Remember,
// Forget, consolidation) while set, per spec.md's pause/resume control.
// Reads (Recall, GetMemory) are never blocked by the gate.
type PauseGate struct {
	mu     sync.RWMutex
	paused bool
}

// NewPauseGate creates a gate starting in the resumed state.
func NewPauseGate() *PauseGate {
	return &PauseGate{}
}

// Pause blocks future write operations until Resume is called.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
}

// Resume re-enables write operations.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
}

// IsPaused reports the current gate state.
func (g *PauseGate) IsPaused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// Check returns a PausedError naming op if the gate is paused, else nil.
func (g *PauseGate) Check(op string) error {
	if g.IsPaused() {
		return &PausedError{Op: op}
	}
	return nil
}
