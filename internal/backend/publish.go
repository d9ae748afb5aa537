package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/pkg/types"
)

// Dead-letter operation names used by the publish and translate stages.
const (
	OpPublish         = "publish"
	OpTranslatePrefix = "translate:"
)

// PublishRequest is the episode decision handed to the publish backend.
type PublishRequest struct {
	RunID               string                    `json:"runId"`
	Track               types.Track               `json:"track"`
	Status              types.EpisodeStatus       `json:"status"`
	Score               float64                   `json:"score"`
	CorrelationStrength float64                   `json:"correlationStrength"`
	Breakdown           types.ConfidenceBreakdown `json:"breakdown"`
	Days                int                       `json:"days"`
	FeedAIdentifier     string                    `json:"feedAIdentifier,omitempty"`
	FeedBIdentifier     string                    `json:"feedBIdentifier,omitempty"`
}

// PublishResult identifies the published (or drafted) episode.
type PublishResult struct {
	EpisodeID string `json:"episodeId"`
	URL       string `json:"url,omitempty"`
}

// Publisher sends episode decisions under the external API retry profile.
type Publisher struct {
	invoker Invoker
	policy  *retry.Policy
}

// NewPublisher creates a Publisher. A nil policy selects retry.API without
// dead-lettering.
func NewPublisher(inv Invoker, policy *retry.Policy) *Publisher {
	if policy == nil {
		policy = retry.API(nil)
	}
	return &Publisher{invoker: inv, policy: policy}
}

// Publish sends req. The final failure is dead-lettered under OpPublish.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	payload, err := toPayload(req)
	if err != nil {
		return PublishResult{}, err
	}

	resp, err := retry.Do(ctx, p.policy, OpPublish, payload, func(ctx context.Context) (map[string]interface{}, error) {
		return p.invoker.Invoke(ctx, payload)
	})
	if err != nil {
		return PublishResult{}, fmt.Errorf("publishing episode: %w", err)
	}

	res := PublishResult{}
	res.EpisodeID, _ = resp["episodeId"].(string)
	res.URL, _ = resp["url"].(string)
	if res.EpisodeID == "" {
		res.EpisodeID = req.RunID
	}
	return res, nil
}

// Redeliver re-sends a dead-lettered publish payload once.
func (p *Publisher) Redeliver(ctx context.Context, payload map[string]interface{}) error {
	_, err := p.invoker.Invoke(ctx, payload)
	return err
}

// TranslateRequest asks for an episode to be translated.
type TranslateRequest struct {
	RunID     string `json:"runId"`
	EpisodeID string `json:"episodeId"`
	Language  string `json:"language"`
}

// Translator fans an episode out to each configured language sequentially.
type Translator struct {
	invoker   Invoker
	policy    *retry.Policy
	languages []string
}

// NewTranslator creates a Translator. A nil policy selects retry.API without
// dead-lettering.
func NewTranslator(inv Invoker, policy *retry.Policy, languages []string) *Translator {
	if policy == nil {
		policy = retry.API(nil)
	}
	return &Translator{invoker: inv, policy: policy, languages: languages}
}

// Languages returns the configured target languages.
func (t *Translator) Languages() []string {
	return append([]string(nil), t.languages...)
}

// Translate requests a translation per language. Each language fails
// independently and is dead-lettered as "translate:<lang>". The returned map
// holds "ok" or the error text per language.
func (t *Translator) Translate(ctx context.Context, runID, episodeID string) (map[string]string, error) {
	results := make(map[string]string, len(t.languages))
	var errs []error

	for _, lang := range t.languages {
		req := TranslateRequest{RunID: runID, EpisodeID: episodeID, Language: lang}
		payload, err := toPayload(req)
		if err != nil {
			return results, err
		}
		err = retry.Exec(ctx, t.policy, OpTranslatePrefix+lang, payload, func(ctx context.Context) error {
			_, err := t.invoker.Invoke(ctx, payload)
			return err
		})
		if err != nil {
			results[lang] = err.Error()
			errs = append(errs, fmt.Errorf("translating to %s: %w", lang, err))
			continue
		}
		results[lang] = "ok"
	}
	return results, errors.Join(errs...)
}

// Redeliver re-sends a dead-lettered translation payload once.
func (t *Translator) Redeliver(ctx context.Context, payload map[string]interface{}) error {
	_, err := t.invoker.Invoke(ctx, payload)
	return err
}

// LanguageFromOp extracts the language from a "translate:<lang>" operation.
func LanguageFromOp(op string) (string, bool) {
	lang, ok := strings.CutPrefix(op, OpTranslatePrefix)
	return lang, ok && lang != ""
}
