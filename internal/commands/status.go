package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/muse/internal/gate"
	"github.com/dwsmith1983/muse/internal/provider/local"
)

// NewStatusCmd creates the status command.
func NewStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the gate flag and backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts.configPath, cmd.OutOrStdout())
		},
	}
}

func runStatus(ctx context.Context, path string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a, err := buildApp(ctx, path)
	if err != nil {
		return err
	}
	defer closeApp(a)

	fs, err := a.FlagStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading gate flag: %w", err)
	}
	printFlagStatus(out, fs)

	var flagPath string
	if ff, ok := a.Flag.(*local.FlagFile); ok {
		flagPath = ff.Path()
	}
	var languages []string
	if a.Translator != nil {
		languages = a.Translator.Languages()
	}
	printSetup(out, flagPath, languages)

	if err := a.Ping(ctx); err != nil {
		_, _ = color.New(color.FgRed).Fprintf(out, "  Backends:  unavailable (%v)\n", err)
	} else {
		_, _ = color.New(color.FgGreen).Fprintln(out, "  Backends:  ok")
	}
	return nil
}

func printFlagStatus(w io.Writer, fs gate.FlagStatus) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(w, "Gate flag:")
	if !fs.Present {
		_, _ = color.New(color.FgYellow).Fprintln(w, "  Flag:      absent")
		fmt.Fprintf(w, "  TTL:       %s\n", fs.TTL)
		return
	}
	if fs.Open {
		_, _ = color.New(color.FgGreen).Fprintln(w, "  Flag:      OPEN ✓")
	} else {
		_, _ = color.New(color.FgRed).Fprintln(w, "  Flag:      EXPIRED ✗")
	}
	fmt.Fprintf(w, "  Written:   %s\n", fs.WrittenAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Age:       %s\n", fs.Age.Truncate(time.Second))
	fmt.Fprintf(w, "  TTL:       %s\n", fs.TTL)
}


// printSetup shows where the local flag lives and which languages a run
// translates into.
func printSetup(w io.Writer, flagPath string, languages []string) {
	if flagPath != "" {
		fmt.Fprintf(w, "  File:      %s\n", flagPath)
	}
	if len(languages) == 0 {
		fmt.Fprintln(w, "  Translate: disabled")
		return
	}
	fmt.Fprintf(w, "  Translate: %s\n", strings.Join(languages, ", "))
}
