package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// optionFlags are the conversion settings shared by convert and preview.
// Only flags the user set override the configured defaults.
type optionFlags struct {
	output    string
	decode    bool
	lossless  bool
	quality   int
	effort    int
	format    string
	recursive bool
	preserve  bool
}

func (f *optionFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "output directory")
	flags.BoolVarP(&f.decode, "decode", "d", false, "decode JPEG XL files instead of encoding")
	flags.BoolVar(&f.lossless, "lossless", false, "encode losslessly")
	flags.IntVarP(&f.quality, "quality", "q", types.DefaultQuality, "encode quality (1-100)")
	flags.IntVarP(&f.effort, "effort", "e", types.DefaultEffort, "encode effort (1-9)")
	flags.StringVarP(&f.format, "format", "f", string(types.FormatPNG), "decode output format (png, jpeg, ppm, pgm, pbm)")
	flags.BoolVarP(&f.recursive, "recursive", "r", true, "descend into subdirectories")
	flags.BoolVarP(&f.preserve, "preserve-structure", "p", false, "recreate the input folder layout under the output directory")
}

// apply overlays the flags the user set onto base
func (f *optionFlags) apply(cmd *cobra.Command, base types.ConversionOptions) (types.ConversionOptions, error) {
	opts := base
	flags := cmd.Flags()

	if flags.Changed("output") {
		opts.OutputDir = f.output
	}
	if flags.Changed("decode") {
		opts.Direction = types.DirectionEncode
		if f.decode {
			opts.Direction = types.DirectionDecode
		}
	}
	if flags.Changed("lossless") {
		opts.Lossless = f.lossless
	}
	if flags.Changed("quality") {
		opts.Quality = f.quality
	}
	if flags.Changed("effort") {
		opts.Effort = f.effort
	}
	if flags.Changed("format") {
		format, err := types.ParseOutputFormat(f.format)
		if err != nil {
			return opts, err
		}
		opts.OutputFormat = format
	}
	if flags.Changed("recursive") {
		opts.Recursive = f.recursive
	}
	if flags.Changed("preserve-structure") {
		opts.PreserveStructure = f.preserve
	}

	return opts.Normalize(), nil
}
