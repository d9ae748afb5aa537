// Package config handles loading and validation of muse.yaml project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/muse/internal/logging"
	"github.com/dwsmith1983/muse/pkg/types"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "muse.yaml"

// Default local store locations.
const (
	DefaultFlagPath = ".muse/gate_flag"
	DefaultDLQPath  = ".muse/dlq"
)

// Load reads muse.yaml at path. A .env file next to it is loaded first
// without overriding variables already set; environment overrides are then
// applied, defaults filled and the result validated.
func Load(path string) (*types.ProjectConfig, error) {
	if path == "" {
		path = DefaultPath
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes, overrides, defaults and validates raw YAML.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays the supported environment variables.
func applyEnv(cfg *types.ProjectConfig) error {
	for _, key := range []string{"WATCHER_ALLOW_DEGRADED", "MUSE_ALLOW_DEGRADED"} {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			cfg.Gate.AllowDegraded = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MUSE_RUN_TIMEOUT"); v != "" {
		cfg.Run.Timeout = v
	}
	if v := os.Getenv("MUSE_POSTGRES_DSN"); v != "" {
		if cfg.Postgres == nil {
			cfg.Postgres = &types.PostgresConfig{}
		}
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("MUSE_REDIS_ADDR"); v != "" {
		if cfg.Redis == nil {
			cfg.Redis = &types.RedisConfig{}
		}
		cfg.Redis.Addr = v
	}
	return nil
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Gate.FeedA.Name == "" {
		cfg.Gate.FeedA.Name = "feedA"
	}
	if cfg.Gate.FeedB.Name == "" {
		cfg.Gate.FeedB.Name = "feedB"
	}
	if cfg.Gate.FeedA.Table == "" {
		cfg.Gate.FeedA.Table = cfg.Gate.FeedA.Name
	}
	if cfg.Gate.FeedB.Table == "" {
		cfg.Gate.FeedB.Table = cfg.Gate.FeedB.Name
	}
	if cfg.Gate.Identifiers == "" {
		cfg.Gate.Identifiers = "postgres"
	}
	if cfg.Flag.Type == "" {
		cfg.Flag.Type = "file"
	}
	if cfg.Flag.Type == "file" && cfg.Flag.Path == "" {
		cfg.Flag.Path = DefaultFlagPath
	}
	if cfg.DLQ.Type == "" {
		cfg.DLQ.Type = "file"
	}
	if cfg.DLQ.Type == "file" && cfg.DLQ.Path == "" {
		cfg.DLQ.Path = DefaultDLQPath
	}
	if cfg.Sink.Type == "" {
		cfg.Sink.Type = "postgres"
	}
	if cfg.Publish.Type == "" {
		cfg.Publish.Type = "http"
	}
	if cfg.Translate.Type == "" {
		cfg.Translate.Type = "http"
	}
	if cfg.Telemetry.Type == "" {
		cfg.Telemetry.Type = "log"
	}
}

func validate(cfg *types.ProjectConfig) error {
	var errs []error

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Gate.FeedA.Name == cfg.Gate.FeedB.Name {
		errs = append(errs, fmt.Errorf("gate feeds must have distinct names"))
	}
	switch cfg.Gate.Identifiers {
	case "postgres":
	case "git":
		if cfg.Gate.FeedA.RepoDir == "" || cfg.Gate.FeedB.RepoDir == "" {
			errs = append(errs, fmt.Errorf("git identifiers require repoDir on both feeds"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown gate.identifiers %q", cfg.Gate.Identifiers))
	}

	durations := map[string]string{
		"gate.flagTtl":        cfg.Gate.FlagTTL,
		"gate.feedA.maxLag":   cfg.Gate.FeedA.MaxLag,
		"gate.feedB.maxLag":   cfg.Gate.FeedB.MaxLag,
		"run.timeout":         cfg.Run.Timeout,
		"run.interval":        cfg.Run.Interval,
		"breaker.openTimeout": cfg.Breaker.OpenTimeout,
		"publish.timeout":     cfg.Publish.Timeout,
		"translate.timeout":   cfg.Translate.Timeout,
	}
	for field, v := range durations {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", field, v))
		}
	}

	if cfg.Postgres == nil || cfg.Postgres.DSN == "" {
		errs = append(errs, fmt.Errorf("postgres.dsn is required for feed queries"))
	}

	needRedis, needDynamo := false, false
	switch cfg.Flag.Type {
	case "file":
	case "redis":
		needRedis = true
	case "dynamodb":
		needDynamo = true
	default:
		errs = append(errs, fmt.Errorf("unknown flag store type %q", cfg.Flag.Type))
	}
	switch cfg.DLQ.Type {
	case "file":
	case "redis":
		needRedis = true
	case "dynamodb":
		needDynamo = true
	case "sqs":
		if cfg.DLQ.QueueURL == "" {
			errs = append(errs, fmt.Errorf("dlq.queueUrl is required for sqs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dlq store type %q", cfg.DLQ.Type))
	}
	switch cfg.Sink.Type {
	case "postgres":
	case "dynamodb":
		needDynamo = true
	default:
		errs = append(errs, fmt.Errorf("unknown sink type %q", cfg.Sink.Type))
	}
	if needRedis && (cfg.Redis == nil || cfg.Redis.Addr == "") {
		errs = append(errs, fmt.Errorf("redis.addr is required"))
	}
	if needDynamo && (cfg.DynamoDB == nil || cfg.DynamoDB.TableName == "") {
		errs = append(errs, fmt.Errorf("dynamodb.tableName is required"))
	}

	if err := validateBackend("publish", cfg.Publish); err != nil {
		errs = append(errs, err)
	}
	if len(cfg.Translate.Languages) > 0 {
		if err := validateBackend("translate", cfg.Translate.BackendConfig); err != nil {
			errs = append(errs, err)
		}
	}

	switch cfg.Telemetry.Type {
	case "nop", "log", "otel", "prometheus":
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry type %q", cfg.Telemetry.Type))
	}
	return errors.Join(errs...)
}

func validateBackend(name string, b types.BackendConfig) error {
	switch b.Type {
	case "http":
		if b.URL == "" {
			return fmt.Errorf("%s.url is required for http backends", name)
		}
	case "lambda":
		if b.FunctionName == "" {
			return fmt.Errorf("%s.functionName is required for lambda backends", name)
		}
	default:
		return fmt.Errorf("unknown %s backend type %q", name, b.Type)
	}
	return nil
}
