package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether cjxl and djxl can be found",
		RunE:  runCheck,
	}

	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tools directory: %s\n", a.locator.ToolsDir())

	missing := 0
	for _, st := range a.manager.Tools() {
		if st.Available {
			fmt.Fprintf(out, "%-6s %-5s %s\n", st.Direction, st.Name, st.Path)
			continue
		}
		missing++
		fmt.Fprintf(out, "%-6s %-5s missing: %s\n", st.Direction, st.Name, st.Error)
	}

	if missing > 0 {
		return fmt.Errorf("%d tool(s) not found", missing)
	}
	return nil
}
