package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/muse/pkg/types"
)

// SecretPrefix marks a config value as a Secrets Manager reference, in the
// form "secretsmanager:<secret-id>" or "secretsmanager:<secret-id>#<json-key>".
const SecretPrefix = "secretsmanager:"

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretResolver resolves secretsmanager: references in a loaded config.
type SecretResolver struct {
	client SecretsManagerAPI
	cache  map[string]string
}

// NewSecretResolver wraps a Secrets Manager client.
func NewSecretResolver(client SecretsManagerAPI) *SecretResolver {
	return &SecretResolver{client: client, cache: make(map[string]string)}
}

// HasSecretRefs reports whether any supported field holds a secret reference.
func HasSecretRefs(cfg *types.ProjectConfig) bool {
	for _, f := range secretFields(cfg) {
		if strings.HasPrefix(f.value, SecretPrefix) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces secret references in cfg using the default AWS
// credential chain. It does nothing when the config holds no references.
func ResolveSecrets(ctx context.Context, cfg *types.ProjectConfig) error {
	if !HasSecretRefs(cfg) {
		return nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSecretResolver(secretsmanager.NewFromConfig(awsCfg)).Resolve(ctx, cfg)
}

// Resolve replaces every secret reference in cfg with its value.
func (r *SecretResolver) Resolve(ctx context.Context, cfg *types.ProjectConfig) error {
	var errs []error
	for _, f := range secretFields(cfg) {
		if !strings.HasPrefix(f.value, SecretPrefix) {
			continue
		}
		v, err := r.Lookup(ctx, strings.TrimPrefix(f.value, SecretPrefix))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		f.set(v)
	}
	return errors.Join(errs...)
}

// Lookup fetches "<secret-id>" or "<secret-id>#<json-key>".
func (r *SecretResolver) Lookup(ctx context.Context, ref string) (string, error) {
	id, key, _ := strings.Cut(ref, "#")
	if id == "" {
		return "", fmt.Errorf("empty secret reference")
	}

	raw, ok := r.cache[id]
	if !ok {
		out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(id),
		})
		if err != nil {
			return "", fmt.Errorf("getting secret %q: %w", id, err)
		}
		raw = aws.ToString(out.SecretString)
		r.cache[id] = raw
	}
	if key == "" {
		return raw, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("secret %q is not a JSON object: %w", id, err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("secret %q has no key %q", id, key)
	}
	return fmt.Sprint(v), nil
}

type secretField struct {
	name  string
	value string
	set   func(string)
}

// secretFields lists every config value that may hold a reference.
func secretFields(cfg *types.ProjectConfig) []secretField {
	var fields []secretField
	if cfg.Postgres != nil {
		fields = append(fields, secretField{"postgres.dsn", cfg.Postgres.DSN, func(v string) { cfg.Postgres.DSN = v }})
	}
	if cfg.Redis != nil {
		fields = append(fields, secretField{"redis.password", cfg.Redis.Password, func(v string) { cfg.Redis.Password = v }})
	}
	if cfg.Server != nil {
		fields = append(fields, secretField{"server.apiKey", cfg.Server.APIKey, func(v string) { cfg.Server.APIKey = v }})
	}
	headerSets := map[string]map[string]string{
		"publish.headers":   cfg.Publish.Headers,
		"translate.headers": cfg.Translate.Headers,
	}
	for section, headers := range headerSets {
		for k, v := range headers {
			fields = append(fields, secretField{section + "." + k, v, func(nv string) { headers[k] = nv }})
		}
	}
	return fields
}
