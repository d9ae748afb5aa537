package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/muse/internal/confidence"
	"github.com/dwsmith1983/muse/pkg/types"
)

// NewScoreCmd creates the score command.
func NewScoreCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute confidence over the configured correlation window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), opts.configPath, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func runScore(ctx context.Context, path string, asJSON bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, path)
	if err != nil {
		return err
	}
	defer closeApp(a)

	res, err := a.Score(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(out, map[string]interface{}{
			"result": res,
			"track":  confidence.Route(res),
			"status": confidence.Decide(res),
		})
	}
	printScore(out, res)
	return nil
}

func printScore(w io.Writer, res types.ConfidenceResult) {
	status := confidence.Decide(res)
	statusStr := string(status)
	if status == types.EpisodePublished {
		statusStr = color.GreenString(statusStr)
	} else {
		statusStr = color.YellowString(statusStr)
	}

	_, _ = color.New(color.Bold).Fprintf(w, "Confidence: %.3f\n", res.Score)
	fmt.Fprintf(w, "  Days:          %d\n", res.Days)
	fmt.Fprintf(w, "  Completeness:  %.3f\n", res.Breakdown.Completeness)
	fmt.Fprintf(w, "  Correlation:   %.3f\n", res.Breakdown.CorrelationStrength)
	fmt.Fprintf(w, "  Recency:       %.3f\n", res.Breakdown.Recency)
	fmt.Fprintf(w, "  Data quality:  %.3f\n", res.Breakdown.DataQuality)
	fmt.Fprintf(w, "  Track:         %s\n", confidence.Route(res))
	fmt.Fprintf(w, "  Status:        %s\n", statusStr)
}
