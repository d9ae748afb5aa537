package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/dwsmith1983/muse/internal/app"
	"github.com/dwsmith1983/muse/internal/config"
	"github.com/dwsmith1983/muse/internal/logging"
	"github.com/dwsmith1983/muse/pkg/types"
)

// loadConfig reads the config file, resolves secret references and builds
// the process logger. The logger also becomes slog's default.
func loadConfig(ctx context.Context, path string) (*types.ProjectConfig, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ResolveSecrets(ctx, cfg); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("configuring logger: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// buildApp loads config and wires every backend. Callers must Close the app.
func buildApp(ctx context.Context, path string) (*app.App, error) {
	cfg, logger, err := loadConfig(ctx, path)
	if err != nil {
		return nil, err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building app: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("closing backends", "error", err)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
