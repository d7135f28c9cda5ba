// Package locator resolves the absolute path of the external codec tools.
package locator

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/afero"
)

// ToolsDirName is the directory next to the executable searched first
const ToolsDirName = "tools"

// ErrToolNotFound is matched by every NotFoundError
var ErrToolNotFound = errors.New("tool not found")

// NotFoundError is returned when neither the tools directory nor PATH
// contains the requested executable
type NotFoundError struct {
	Tool string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s executable not found; place it in the '%s' folder or ensure it is in PATH", e.Tool, ToolsDirName)
}

// Is makes errors.Is(err, ErrToolNotFound) work
func (e *NotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// Locator finds tools and remembers what it found. Each Locator has its own
// cache, so independent sessions never share lookups.
type Locator struct {
	fs       afero.Fs
	toolsDir string
	goos     string
	lookPath func(string) (string, error)

	mu    sync.Mutex
	cache map[string]string
}

// New creates a locator that searches toolsDir before PATH
func New(fs afero.Fs, toolsDir string) *Locator {
	return &Locator{
		fs:       fs,
		toolsDir: toolsDir,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		cache:    make(map[string]string),
	}
}

// NewDefault creates a locator on the real filesystem. An empty toolsDir
// means the "tools" directory next to the running executable.
func NewDefault(toolsDir string) (*Locator, error) {
	if toolsDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable path: %w", err)
		}
		toolsDir = filepath.Join(filepath.Dir(exe), ToolsDirName)
	}
	return New(afero.NewOsFs(), toolsDir), nil
}

// ToolsDir returns the directory searched before PATH
func (l *Locator) ToolsDir() string {
	return l.toolsDir
}

// Locate returns the path of tool, searching the tools directory and then
// PATH. A local candidate without the executable bit gets mode 0755 on
// unix-like systems before it is returned.
func (l *Locator) Locate(tool string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.cache[tool]; ok {
		return p, nil
	}

	if p, ok := l.findLocal(tool); ok {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		l.cache[tool] = p
		return p, nil
	}

	name := tool
	if l.goos == "windows" {
		name += ".exe"
	}
	if p, err := l.lookPath(name); err == nil {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		l.cache[tool] = p
		return p, nil
	}

	return "", &NotFoundError{Tool: tool}
}

// Forget drops a cached lookup, e.g. after a spawn failure
func (l *Locator) Forget(tool string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, tool)
}

func (l *Locator) findLocal(tool string) (string, bool) {
	if l.toolsDir == "" {
		return "", false
	}

	name := tool
	if l.goos == "windows" {
		name += ".exe"
	}
	candidate := filepath.Join(l.toolsDir, name)

	info, err := l.fs.Stat(candidate)
	if err != nil || info.IsDir() {
		return "", false
	}

	if l.goos != "windows" && info.Mode().Perm()&0o111 == 0 {
		if err := l.fs.Chmod(candidate, 0o755); err != nil {
			return "", false
		}
	}

	return candidate, true
}
