package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/muse/internal/app"
	"github.com/dwsmith1983/muse/internal/config"
	"github.com/dwsmith1983/muse/internal/scheduler"
	"github.com/dwsmith1983/muse/internal/server"
	"github.com/dwsmith1983/muse/internal/server/handlers"
	"github.com/dwsmith1983/muse/pkg/types"
)

const (
	defaultAddr     = ":3000"
	shutdownTimeout = 10 * time.Second
)

var _ handlers.Service = (*app.App)(nil)

// NewServeCmd creates the serve command.
func NewServeCmd(opts *globalOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the muse HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.configPath, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload gate thresholds when the config file changes")
	return cmd
}

func runServe(parent context.Context, path string, watch bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, path)
	if err != nil {
		return err
	}
	defer closeApp(a)

	addr := defaultAddr
	srvOpts := server.Options{Registry: a.Registry, Logger: a.Logger}
	if sc := a.Config.Server; sc != nil {
		if sc.Addr != "" {
			addr = sc.Addr
		}
		srvOpts.APIKey = sc.APIKey
		srvOpts.MaxRequestBody = sc.MaxRequestBody
	}
	srv := server.New(addr, a, srvOpts)

	var sched *scheduler.Scheduler
	if a.Config.Run.Interval != "" {
		interval, err := time.ParseDuration(a.Config.Run.Interval)
		if err != nil {
			return fmt.Errorf("run.interval: %w", err)
		}
		sched = scheduler.New(a, interval, a.Logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	if sched != nil {
		sched.Start(gctx)
	}
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if watch {
		g.Go(func() error {
			return config.Watch(gctx, path, a.Logger, func(cfg *types.ProjectConfig) {
				reloadGate(a, cfg)
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		color.Yellow("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if sched != nil {
			sched.Stop(shutdownCtx)
		}
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	color.Green("Server stopped gracefully")
	return nil
}

// reloadGate applies new gate settings from a changed config file.
func reloadGate(a *app.App, cfg *types.ProjectConfig) {
	if a.Gate.Reload(cfg.Gate) {
		a.Logger.Info("gate configuration reloaded",
			"allowDegraded", cfg.Gate.AllowDegraded,
			"feedAMaxLag", cfg.Gate.FeedA.MaxLag,
			"feedBMaxLag", cfg.Gate.FeedB.MaxLag)
		return
	}
	a.Logger.Warn("gate reload skipped: feed names and identifier source need a restart")
}
