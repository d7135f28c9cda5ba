package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/jxlconverter/internal/config"
	"github.com/lepinkainen/jxlconverter/internal/types"
)

func parseOptions(t *testing.T, base types.ConversionOptions, args ...string) (types.ConversionOptions, error) {
	t.Helper()

	var f optionFlags
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))

	return f.apply(cmd, base)
}

func TestOptionFlagsKeepDefaults(t *testing.T) {
	base := types.DefaultOptions()
	base.Quality = 75
	base.OutputDir = "/configured"

	opts, err := parseOptions(t, base)
	require.NoError(t, err)
	assert.Equal(t, base, opts)
}

func TestOptionFlagsOverride(t *testing.T) {
	opts, err := parseOptions(t, types.DefaultOptions(),
		"-o", "/out", "--decode", "--format", "jpg", "--recursive=false", "-p", "-q", "150")
	require.NoError(t, err)

	assert.Equal(t, "/out", opts.OutputDir)
	assert.Equal(t, types.DirectionDecode, opts.Direction)
	assert.Equal(t, types.FormatJPEG, opts.OutputFormat)
	assert.False(t, opts.Recursive)
	assert.True(t, opts.PreserveStructure)
	assert.Equal(t, types.QualityMax, opts.Quality, "quality is clamped")
}

func TestOptionFlagsBadFormat(t *testing.T) {
	_, err := parseOptions(t, types.DefaultOptions(), "--format", "webp")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		configFile = ""
		configForce = false
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	// A second init refuses to overwrite
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  concurrency: 2\n"), 0o644))
	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	assert.Error(t, rootCmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "concurrency: 2")
}
