package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lepinkainen/jxlconverter/internal/progress"
	"github.com/lepinkainen/jxlconverter/internal/types"
)

var convertFlags optionFlags

func init() {
	convertCmd := &cobra.Command{
		Use:   "convert [paths...]",
		Short: "Convert files and folders in the foreground",
		Long: `Convert the given files and folders and report progress as each task
finishes. Interrupting the command cancels the run: the running task is
stopped and the remaining ones are reported as cancelled.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runConvert,
	}

	convertFlags.register(convertCmd)
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := convertFlags.apply(cmd, a.cfg.Defaults)
	if err != nil {
		return err
	}

	for _, path := range args {
		if _, err := a.manager.AddInput(path); err != nil {
			return fmt.Errorf("failed to add input: %w", err)
		}
	}

	events := a.manager.Subscribe()
	defer a.manager.Unsubscribe(events)

	record, err := a.manager.StartRun(cmd.Context(), nil, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, w := range record.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	fmt.Fprintf(out, "converting %d file(s) with %s\n", record.State.Total, opts.Direction.Tool())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan types.RunRecord, 1)
	go func() {
		final, err := a.manager.Wait(context.Background())
		if err != nil {
			a.logger.Error("failed to wait for run", "error", err)
		}
		done <- final
	}()

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, "cancelling...")
			if err := a.manager.RequestCancel(); err != nil {
				a.logger.Debug("nothing to cancel", "error", err)
			}
		case ev := <-events:
			printEvent(out, ev)
		case final := <-done:
			drain(out, events)
			return summarize(out, final)
		}
	}
}

// drain prints the events already delivered. Every task event is
// broadcast before the run is marked finished.
func drain(w io.Writer, events <-chan progress.Event) {
	for {
		select {
		case ev := <-events:
			printEvent(w, ev)
		default:
			return
		}
	}
}

func printEvent(w io.Writer, ev progress.Event) {
	if ev.Kind != progress.KindTaskFinished || ev.Result == nil {
		return
	}

	r := ev.Result
	fmt.Fprintf(w, "[%d] %s: %s\n", r.Task.Index+1, r.Outcome, r.Message)
	if r.Diagnostics != "" {
		fmt.Fprintln(w, r.Diagnostics)
	}
}

func summarize(w io.Writer, rec types.RunRecord) error {
	s := rec.State
	fmt.Fprintf(w, "%s: %d succeeded, %d failed, %d skipped, %d cancelled of %d\n",
		s.Outcome, s.Succeeded, s.Failed, s.Skipped, s.Cancelled, s.Total)

	if s.Outcome != types.RunCompleted {
		return fmt.Errorf("run %s", s.Outcome)
	}
	return nil
}
