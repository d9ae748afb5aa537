// Package commands implements the CLI subcommands for the muse binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/muse/internal/config"
)

type globalOptions struct {
	configPath string
}

// NewRootCmd creates the muse root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "muse",
		Short: "Gate, score and publish episodes built from two data feeds",
		Long: `muse checks that its two input feeds are fresh, ingests their records,
scores confidence in the joined correlation window and publishes an episode
when the score clears the bar. Failed writes are dead-lettered for replay.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to muse.yaml")

	root.AddCommand(
		NewInitCmd(),
		NewRunCmd(opts),
		NewGateCmd(opts),
		NewStatusCmd(opts),
		NewScoreCmd(opts),
		NewReplayCmd(opts),
		NewServeCmd(opts),
	)
	return root
}
