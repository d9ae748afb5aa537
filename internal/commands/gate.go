package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/muse/pkg/types"
)

// NewGateCmd creates the gate command.
func NewGateCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate feed freshness and update the gate flag",
		Long:  "Evaluates both feeds once. Exits non-zero unless the verdict is VALID or DEGRADED.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(cmd.Context(), opts.configPath, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	return cmd
}

func runGate(ctx context.Context, path string, asJSON bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, path)
	if err != nil {
		return err
	}
	defer closeApp(a)

	v := a.EvaluateGate(ctx)
	if asJSON {
		if err := printJSON(out, v); err != nil {
			return err
		}
	} else {
		printVerdict(out, v)
	}
	if !v.State.Passes() {
		return fmt.Errorf("gate %s", v.State)
	}
	return nil
}

func printVerdict(w io.Writer, v types.GateVerdict) {
	state := string(v.State)
	switch v.State {
	case types.GateValid:
		state = color.GreenString(state)
	case types.GateDegraded:
		state = color.YellowString(state)
	default:
		state = color.RedString(state)
	}
	_, _ = color.New(color.Bold).Fprintf(w, "Gate: ")
	fmt.Fprintln(w, state)
	fmt.Fprintf(w, "  Feed A:    %d rows  %s\n", v.FeedARows, v.FeedAIdentifier)
	fmt.Fprintf(w, "  Feed B:    %d rows  %s\n", v.FeedBRows, v.FeedBIdentifier)
	fmt.Fprintf(w, "  Lag:       %ds\n", v.LagSeconds)
	fmt.Fprintf(w, "  Evaluated: %s\n", v.EvaluatedAt.Format(time.RFC3339))
	if v.Reason != "" {
		fmt.Fprintf(w, "  Reason:    %s\n", v.Reason)
	}
}
