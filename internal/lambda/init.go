package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/muse/internal/app"
	"github.com/dwsmith1983/muse/internal/config"
	"github.com/dwsmith1983/muse/internal/logging"
	"github.com/dwsmith1983/muse/pkg/types"
)

const defaultConfigPath = "/var/task/muse.yaml"

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	Service Service
	Logger  *slog.Logger
	App     *app.App
}

// Init builds the application from the bundled config file.
// Reads: MUSE_CONFIG, TABLE_NAME, AWS_REGION, DLQ_QUEUE_URL
//
// TABLE_NAME and DLQ_QUEUE_URL override the file so one bundle can be
// deployed per stage.
func Init(ctx context.Context) (*Deps, error) {
	path := envOrDefault("MUSE_CONFIG", defaultConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := applyLambdaEnv(cfg); err != nil {
		return nil, err
	}
	if err := config.ResolveSecrets(ctx, cfg); err != nil {
		return nil, err
	}

	// CloudWatch wants JSON lines regardless of the file's format.
	cfg.Logging.Format = "json"
	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	slog.SetDefault(logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building app: %w", err)
	}
	return &Deps{Service: a, Logger: logger, App: a}, nil
}

func applyLambdaEnv(cfg *types.ProjectConfig) error {
	if table := os.Getenv("TABLE_NAME"); table != "" {
		if cfg.DynamoDB == nil {
			cfg.DynamoDB = &types.DynamoDBConfig{}
		}
		cfg.DynamoDB.TableName = table
		if region := os.Getenv("AWS_REGION"); region != "" && cfg.DynamoDB.Region == "" {
			cfg.DynamoDB.Region = region
		}
	}
	if queue := os.Getenv("DLQ_QUEUE_URL"); queue != "" {
		cfg.DLQ = types.StoreConfig{Type: "sqs", QueueURL: queue}
	}
	if cfg.DynamoDB != nil && cfg.DynamoDB.Region == "" && os.Getenv("AWS_REGION") == "" {
		return fmt.Errorf("AWS_REGION environment variable required for dynamodb")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
