package job

import (
	"strings"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// Preview renders the command line a task runs. It has no side effects.
func Preview(task types.ConversionTask) string {
	parts := make([]string, 0, len(task.Args)+1)
	parts = append(parts, quote(task.Tool))
	for _, arg := range task.Args {
		parts = append(parts, quote(arg))
	}
	return strings.Join(parts, " ")
}

// PreviewOptions renders the command for placeholder file names, as shown
// next to the option controls before any input is chosen. An empty tool
// means the direction's default.
func PreviewOptions(tool string, opts types.ConversionOptions, jpegInput bool) string {
	if tool == "" {
		tool = opts.Direction.Tool()
	}
	input, output := "input.png", "output.jxl"
	if jpegInput {
		input = "input.jpg"
	}
	if opts.Direction == types.DirectionDecode {
		format := opts.OutputFormat
		if format == "" {
			format = types.FormatPNG
		}
		input, output = "input.jxl", "output."+format.Extension()
	}

	return Preview(types.ConversionTask{
		Tool: tool,
		Args: Args(input, output, opts),
	})
}

// quote wraps an argument in single quotes when a shell would split or
// reinterpret it
func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
