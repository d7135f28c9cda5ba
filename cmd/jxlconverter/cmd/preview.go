package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	previewFlags     optionFlags
	previewJPEGInput bool
)

func init() {
	previewCmd := &cobra.Command{
		Use:   "preview [paths...]",
		Short: "Print the commands a conversion would run",
		Long: `Print the command line of every task a conversion of the given paths
would run. Without paths, print the command for placeholder file names.
Output directories are created, nothing else is written.`,
		RunE: runPreview,
	}

	previewFlags.register(previewCmd)
	previewCmd.Flags().BoolVar(&previewJPEGInput, "jpeg", false, "use a JPEG placeholder input when no paths are given")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := previewFlags.apply(cmd, a.cfg.Defaults)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if len(args) == 0 {
		fmt.Fprintln(out, a.manager.PreviewOptions(opts, previewJPEGInput))
		return nil
	}

	for _, path := range args {
		if _, err := a.manager.AddInput(path); err != nil {
			return fmt.Errorf("failed to add input: %w", err)
		}
	}

	preview, err := a.manager.PreviewRun(nil, opts)
	if err != nil {
		return err
	}

	for _, w := range preview.Warnings {
		fmt.Fprintf(out, "# warning: %s\n", w)
	}
	for _, t := range preview.Tasks {
		fmt.Fprintln(out, t.Command)
	}
	return nil
}
