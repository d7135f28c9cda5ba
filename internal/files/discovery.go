package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// ErrSymlinkCycle marks a directory link that points back into its own
// ancestor chain
var ErrSymlinkCycle = errors.New("symbolic link cycle")

var encodeExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff", "tif", "webp", "ppm", "pgm", "pnm"}

var decodeExtensions = []string{"jxl"}

// AcceptedExtensions returns the lower-case extensions (without dot) a run
// in the given direction picks up
func AcceptedExtensions(d types.Direction) map[string]bool {
	exts := encodeExtensions
	if d == types.DirectionDecode {
		exts = decodeExtensions
	}

	accepted := make(map[string]bool, len(exts))
	for _, ext := range exts {
		accepted[ext] = true
	}
	return accepted
}

// Warning is a non-fatal problem hit during discovery
type Warning struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.Path, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Result is the outcome of Discover
type Result struct {
	Files    []types.SourceFile
	Warnings []Warning
}

// Discover expands inputs into the ordered, de-duplicated list of eligible
// files. Directory symlinks are followed; every real directory is entered
// once. Problems are collected as warnings and never stop the walk.
func Discover(inputs []types.InputEntry, recursive bool, accepted map[string]bool) Result {
	d := &discoverer{
		recursive: recursive,
		accepted:  accepted,
		visited:   make(map[string]bool),
		seen:      make(map[string]bool),
	}

	paths := make([]string, 0, len(inputs))
	for _, in := range inputs {
		paths = append(paths, in.Path)
	}
	commonRoot := CommonRoot(paths)

	for _, in := range inputs {
		root := in.Root
		if root == "" {
			root = commonRoot
		}
		d.expand(in, root)
	}

	return d.result
}

type discoverer struct {
	recursive bool
	accepted  map[string]bool
	visited   map[string]bool
	seen      map[string]bool
	result    Result
}

func (d *discoverer) warn(path string, err error) {
	d.result.Warnings = append(d.result.Warnings, Warning{Path: path, Err: err})
}

func (d *discoverer) expand(in types.InputEntry, root string) {
	abs, err := filepath.Abs(in.Path)
	if err != nil {
		d.warn(in.Path, err)
		return
	}

	info, err := os.Stat(abs)
	if err != nil {
		d.warn(abs, err)
		return
	}

	if info.IsDir() {
		d.walk(abs, root, in.Format, nil)
		return
	}

	d.addFile(abs, root, in.Format)
}

// walk lists dir. ancestors holds the canonical paths of the directories
// above dir in the current descent.
func (d *discoverer) walk(dir, root string, format types.OutputFormat, ancestors []string) {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		d.warn(dir, err)
		return
	}

	if slices.Contains(ancestors, canonical) {
		d.warn(dir, ErrSymlinkCycle)
		return
	}
	if d.visited[canonical] {
		return
	}
	d.visited[canonical] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		d.warn(dir, err)
		return
	}

	chain := append(slices.Clip(ancestors), canonical)
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		// Stat follows links so symlinked directories are traversed too
		info, err := os.Stat(path)
		if err != nil {
			d.warn(path, err)
			continue
		}

		if info.IsDir() {
			if d.recursive {
				d.walk(path, root, format, chain)
			}
			continue
		}

		d.addFile(path, root, format)
	}
}

func (d *discoverer) addFile(path, root string, format types.OutputFormat) {
	if !d.accepted[extension(path)] {
		return
	}

	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		d.warn(path, err)
		return
	}
	if d.seen[canonical] {
		return
	}
	d.seen[canonical] = true

	d.result.Files = append(d.result.Files, types.SourceFile{
		Path:   path,
		Root:   root,
		Format: format,
	})
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// CommonRoot returns the deepest directory containing every path. A file
// contributes its parent directory, a directory contributes itself.
func CommonRoot(paths []string) string {
	root := ""
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}

		dir := abs
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			dir = filepath.Dir(abs)
		}

		if root == "" {
			root = dir
			continue
		}
		root = commonAncestor(root, dir)
	}
	return root
}

func commonAncestor(a, b string) string {
	for {
		if isWithin(b, a) {
			return a
		}
		parent := filepath.Dir(a)
		if parent == a {
			return a
		}
		a = parent
	}
}

// isWithin reports whether path equals dir or lies below it
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
