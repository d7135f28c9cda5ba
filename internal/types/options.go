package types

import (
	"fmt"
	"strings"
)

// Direction selects whether a run encodes into JPEG XL or decodes out of it
type Direction string

const (
	DirectionEncode Direction = "encode"
	DirectionDecode Direction = "decode"
)

// Tool returns the name of the external executable serving this direction
func (d Direction) Tool() string {
	if d == DirectionDecode {
		return "djxl"
	}
	return "cjxl"
}

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionEncode || d == DirectionDecode
}

// OutputFormat is the raster format written by a decode task
type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatPPM  OutputFormat = "ppm"
	FormatPGM  OutputFormat = "pgm"
	FormatPBM  OutputFormat = "pbm"
)

// OutputFormats lists every decode output format in display order
var OutputFormats = []OutputFormat{FormatPNG, FormatJPEG, FormatPPM, FormatPGM, FormatPBM}

// Extension returns the canonical file extension, without the dot
func (f OutputFormat) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// ParseOutputFormat accepts a format name case-insensitively. "jpg" is an
// alias for jpeg.
func ParseOutputFormat(s string) (OutputFormat, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "jpg" {
		return FormatJPEG, nil
	}
	for _, f := range OutputFormats {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Valid ranges for the numeric encoder knobs
const (
	QualityMin = 1
	QualityMax = 100
	EffortMin  = 1
	EffortMax  = 9

	DefaultQuality = 90
	DefaultEffort  = 7
)

// ConversionOptions holds the user's settings for one run
type ConversionOptions struct {
	Direction         Direction    `json:"direction" mapstructure:"direction" yaml:"direction"`
	Lossless          bool         `json:"lossless" mapstructure:"lossless" yaml:"lossless"`
	Quality           int          `json:"quality" mapstructure:"quality" yaml:"quality"`
	Effort            int          `json:"effort" mapstructure:"effort" yaml:"effort"`
	OutputFormat      OutputFormat `json:"output_format" mapstructure:"output_format" yaml:"output_format"`
	Recursive         bool         `json:"recursive" mapstructure:"recursive" yaml:"recursive"`
	PreserveStructure bool         `json:"preserve_structure" mapstructure:"preserve_structure" yaml:"preserve_structure"`
	OutputDir         string       `json:"output_dir" mapstructure:"output_dir" yaml:"output_dir"`
}

// DefaultOptions returns the settings a fresh session starts with
func DefaultOptions() ConversionOptions {
	return ConversionOptions{
		Direction:    DirectionEncode,
		Quality:      DefaultQuality,
		Effort:       DefaultEffort,
		OutputFormat: FormatPNG,
		Recursive:    true,
	}
}

// Normalize clamps quality and effort into range and fills in an empty
// direction or output format. It is applied wherever options enter the core.
func (o ConversionOptions) Normalize() ConversionOptions {
	if !o.Direction.Valid() {
		o.Direction = DirectionEncode
	}
	o.Quality = Clamp(o.Quality, QualityMin, QualityMax)
	o.Effort = Clamp(o.Effort, EffortMin, EffortMax)
	if o.OutputFormat == "" {
		o.OutputFormat = FormatPNG
	}
	return o
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
