package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/muse/pkg/types"
)

// NewReplayCmd creates the replay command.
func NewReplayCmd(opts *globalOptions) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Redeliver dead-lettered operations",
		Long: `Replays DLQ entries whose operation contains --filter as a substring (all
entries when empty). Delivered and abandoned entries are removed; failed ones
stay queued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts.configPath, filter, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "replay only operations containing this substring, e.g. insert: or translate:de")
	return cmd
}

func runReplay(ctx context.Context, path, filter string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, path)
	if err != nil {
		return err
	}
	defer closeApp(a)

	res, err := a.Replay(ctx, filter)
	if err != nil {
		return fmt.Errorf("replaying dlq: %w", err)
	}
	printReplay(out, res)
	if res.Failed > 0 {
		return fmt.Errorf("%d entries failed to redeliver", res.Failed)
	}
	return nil
}

func printReplay(w io.Writer, res types.ReplayResult) {
	_, _ = color.New(color.Bold).Fprintln(w, "DLQ replay:")
	_, _ = color.New(color.FgGreen).Fprintf(w, "  succeeded: %d\n", res.Succeeded)
	if res.Failed > 0 {
		_, _ = color.New(color.FgRed).Fprintf(w, "  failed:    %d\n", res.Failed)
	} else {
		fmt.Fprintf(w, "  failed:    %d\n", res.Failed)
	}
	fmt.Fprintf(w, "  abandoned: %d\n", res.Abandoned)
	fmt.Fprintf(w, "  skipped:   %d\n", res.Skipped)
}
