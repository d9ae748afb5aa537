package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/muse/pkg/types"
)

// NewRunCmd creates the run command.
func NewRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full gate, ingest, score, publish and translate pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), opts.configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runPipeline(ctx context.Context, path string, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, path)
	if err != nil {
		return err
	}
	defer closeApp(a)

	report := a.Run(ctx)
	summarizeReport(errOut, report)
	if err := printJSON(out, report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if report.StoppedEarly {
		return fmt.Errorf("run %s stopped early: %s", report.RunID, report.StopReason)
	}
	return nil
}

// summarizeReport writes one colored line per stage.
func summarizeReport(w io.Writer, report types.RunReport) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Run %s\n", report.RunID)
	for _, s := range report.Stages {
		switch s.Status {
		case types.StageSucceeded:
			_, _ = color.New(color.FgGreen).Fprintf(w, "  ✓ %-10s %s\n", s.Stage, s.Duration)
		default:
			_, _ = color.New(color.FgRed).Fprintf(w, "  ✗ %-10s %s\n", s.Stage, s.Detail)
		}
	}
	if report.StoppedEarly {
		_, _ = color.New(color.FgYellow).Fprintf(w, "  stopped early: %s\n", report.StopReason)
	}
}
