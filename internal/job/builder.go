// Package job turns discovered source files and conversion options into
// fully resolved ConversionTasks.
package job

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// ErrNoOutputDir is returned when options carry no output directory
var ErrNoOutputDir = errors.New("output directory not set")

const jxlExtension = "jxl"

// Builder creates tasks and the output directories they write into
type Builder struct {
	fs afero.Fs
}

// NewBuilder creates a builder that creates directories on fs
func NewBuilder(fs afero.Fs) *Builder {
	return &Builder{fs: fs}
}

// Build returns one task per source, in source order. tool is the
// executable name recorded on each task; empty means the direction's
// default. Output directories that do not exist yet are created before
// Build returns.
func (b *Builder) Build(sources []types.SourceFile, opts types.ConversionOptions, tool string) ([]types.ConversionTask, error) {
	if opts.OutputDir == "" {
		return nil, ErrNoOutputDir
	}

	if tool == "" {
		tool = opts.Direction.Tool()
	}
	tasks := make([]types.ConversionTask, 0, len(sources))
	created := make(map[string]bool)

	for i, src := range sources {
		format := src.Format
		if format == "" {
			format = opts.OutputFormat
		}
		if opts.Direction == types.DirectionEncode {
			format = ""
		}

		output := OutputPath(src, opts, format)

		dir := filepath.Dir(output)
		if !created[dir] {
			if err := b.fs.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
			}
			created[dir] = true
		}

		tasks = append(tasks, types.ConversionTask{
			Index:  i,
			Tool:   tool,
			Input:  src.Path,
			Output: output,
			Args:   Args(src.Path, output, opts),
			Format: format,
		})
	}

	return tasks, nil
}

// OutputPath computes where src is written.
//
//	flat:      <OutputDir>/<stem>.<ext>
//	preserved: <OutputDir>/<dir of src relative to its root>/<stem>.<ext>
//
// A source outside its root falls back to the flat layout.
func OutputPath(src types.SourceFile, opts types.ConversionOptions, format types.OutputFormat) string {
	ext := jxlExtension
	if opts.Direction == types.DirectionDecode {
		if format == "" {
			format = types.FormatPNG
		}
		ext = format.Extension()
	}

	base := filepath.Base(src.Path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := stem + "." + ext

	if opts.PreserveStructure && src.Root != "" {
		if rel, err := filepath.Rel(src.Root, filepath.Dir(src.Path)); err == nil && rel != "." && !escapes(rel) {
			return filepath.Join(opts.OutputDir, rel, name)
		}
	}
	return filepath.Join(opts.OutputDir, name)
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Args builds the tool argument vector for one file
func Args(input, output string, opts types.ConversionOptions) []string {
	args := []string{input, output}

	if opts.Direction == types.DirectionDecode {
		return args
	}

	if opts.Lossless {
		if isJPEG(input) {
			return append(args, "--lossless_jpeg=1")
		}
		return append(args, "-d", "0")
	}

	return append(args,
		"-q", strconv.Itoa(opts.Quality),
		"-e", strconv.Itoa(opts.Effort),
	)
}

func isJPEG(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}

// ArgSummary is what an argument vector says about the options it was
// built from
type ArgSummary struct {
	Direction types.Direction
	Lossless  bool
	Quality   int
	Effort    int
}

// ParseArgs reads an argument vector produced by Args back into the
// options that matter to the tool
func ParseArgs(args []string) (ArgSummary, error) {
	if len(args) < 2 {
		return ArgSummary{}, fmt.Errorf("argument vector too short: %d", len(args))
	}

	var s ArgSummary
	s.Direction = types.DirectionDecode
	if strings.EqualFold(filepath.Ext(args[1]), "."+jxlExtension) {
		s.Direction = types.DirectionEncode
	}

	flags := args[2:]
	for i := 0; i < len(flags); i++ {
		switch flags[i] {
		case "--lossless_jpeg=1":
			s.Lossless = true
		case "-d", "-q", "-e":
			if i+1 >= len(flags) {
				return ArgSummary{}, fmt.Errorf("missing value for %s", flags[i])
			}
			v, err := strconv.Atoi(flags[i+1])
			if err != nil {
				return ArgSummary{}, fmt.Errorf("invalid value for %s: %w", flags[i], err)
			}
			switch flags[i] {
			case "-d":
				s.Lossless = v == 0
			case "-q":
				s.Quality = v
			case "-e":
				s.Effort = v
			}
			i++
		default:
			return ArgSummary{}, fmt.Errorf("unknown argument %q", flags[i])
		}
	}

	return s, nil
}
