package types

// FeedConfig describes one upstream feed watched by the freshness gate.
type FeedConfig struct {
	Name    string `yaml:"name" json:"name"`
	RepoDir string `yaml:"repoDir,omitempty" json:"repoDir,omitempty"` // git checkout used for identifiers
	Table   string `yaml:"table,omitempty" json:"table,omitempty"`      // source table in the feed store
	MaxLag  string `yaml:"maxLag,omitempty" json:"maxLag,omitempty"`    // e.g. "5m", "90m"
}

// GateConfig configures the freshness gate.
type GateConfig struct {
	FeedA         FeedConfig `yaml:"feedA" json:"feedA"`
	FeedB         FeedConfig `yaml:"feedB" json:"feedB"`
	AllowDegraded bool       `yaml:"allowDegraded" json:"allowDegraded"`
	FlagTTL       string     `yaml:"flagTtl,omitempty" json:"flagTtl,omitempty"`         // default "30m"
	Identifiers   string     `yaml:"identifiers,omitempty" json:"identifiers,omitempty"` // "git" or "postgres"
}

// StoreConfig selects a storage backend for the gate flag or the DLQ.
type StoreConfig struct {
	Type     string `yaml:"type" json:"type"`                             // file, redis, dynamodb, sqs
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`         // file flag path or DLQ directory
	QueueURL string `yaml:"queueUrl,omitempty" json:"queueUrl,omitempty"` // sqs only
}

// SinkConfig selects the durable sink backend.
type SinkConfig struct {
	Type string `yaml:"type" json:"type"` // postgres, dynamodb
}

// IngestConfig points each ingestion stage at its collected records.
type IngestConfig struct {
	FeedADir string `yaml:"feedADir" json:"feedADir"`
	FeedBDir string `yaml:"feedBDir" json:"feedBDir"`
}

// ScoringConfig tunes the confidence scorer.
type ScoringConfig struct {
	LookbackDays       int `yaml:"lookbackDays,omitempty" json:"lookbackDays,omitempty"`             // default 7
	ExpectedRowsPerDay int `yaml:"expectedRowsPerDay,omitempty" json:"expectedRowsPerDay,omitempty"` // default 10
}

// BackendConfig configures an external publish or translation backend.
type BackendConfig struct {
	Type         string            `yaml:"type" json:"type"` // http, lambda
	URL          string            `yaml:"url,omitempty" json:"url,omitempty"`
	Method       string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	FunctionName string            `yaml:"functionName,omitempty" json:"functionName,omitempty"`
	Timeout      string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// TranslateConfig configures the translation stage.
type TranslateConfig struct {
	BackendConfig `yaml:",inline"`
	Languages     []string `yaml:"languages,omitempty" json:"languages,omitempty"`
}

// BreakerConfig configures the circuit breaker guarding external backends.
type BreakerConfig struct {
	MaxFailures uint32 `yaml:"maxFailures,omitempty" json:"maxFailures,omitempty"` // default 5
	OpenTimeout string `yaml:"openTimeout,omitempty" json:"openTimeout,omitempty"` // default "60s"
}

// RunSettings holds orchestration-level settings.
type RunSettings struct {
	Timeout  string `yaml:"timeout,omitempty" json:"timeout,omitempty"`   // default "10m"
	Interval string `yaml:"interval,omitempty" json:"interval,omitempty"` // serve only; empty disables scheduled runs
}

// TelemetryConfig selects the telemetry sink.
type TelemetryConfig struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty"` // nop, log, otel, prometheus
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" json:"format,omitempty"` // json, text
}

// AlertConfig defines an alert sink configuration.
type AlertConfig struct {
	Type         AlertType `yaml:"type" json:"type"`
	URL          string    `yaml:"url,omitempty" json:"url,omitempty"`
	Path         string    `yaml:"path,omitempty" json:"path,omitempty"`
	EventBusName string    `yaml:"eventBusName,omitempty" json:"eventBusName,omitempty"`
	Source       string    `yaml:"source,omitempty" json:"source,omitempty"`
}

// ProjectConfig represents the top-level muse.yaml configuration.
type ProjectConfig struct {
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Gate      GateConfig      `yaml:"gate"`
	Flag      StoreConfig     `yaml:"flag"`
	DLQ       StoreConfig     `yaml:"dlq"`
	Sink      SinkConfig      `yaml:"sink"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Scoring   ScoringConfig   `yaml:"scoring,omitempty"`
	Publish   BackendConfig   `yaml:"publish"`
	Translate TranslateConfig `yaml:"translate"`
	Breaker   BreakerConfig   `yaml:"breaker,omitempty"`
	Run       RunSettings     `yaml:"run,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Alerts    []AlertConfig   `yaml:"alerts,omitempty"`
	Redis     *RedisConfig    `yaml:"redis,omitempty"`
	DynamoDB  *DynamoDBConfig `yaml:"dynamodb,omitempty"`
	Postgres  *PostgresConfig `yaml:"postgres,omitempty"`
	Server    *ServerConfig   `yaml:"server,omitempty"`
}

// RedisConfig holds Redis/Valkey connection settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password,omitempty"`
	DB           int    `yaml:"db,omitempty"`
	KeyPrefix    string `yaml:"keyPrefix"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"` // DLQ entry expiry; empty keeps entries until replayed
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName    string `yaml:"tableName" json:"tableName"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"` // DLQ item ttl; empty keeps entries until replayed
	CreateTable  bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// PostgresConfig holds the feed store and sink connection settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn" json:"dsn"`
	MaxConns int32  `yaml:"maxConns,omitempty" json:"maxConns,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}
