package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dwsmith1983/muse/internal/retry"
	"github.com/dwsmith1983/muse/pkg/types"
)

// HTTPInvoker posts payloads to an HTTP endpoint.
type HTTPInvoker struct {
	client  *http.Client
	url     string
	method  string
	headers map[string]string
}

// NewHTTPInvoker creates an HTTPInvoker. Header values are expanded from the
// environment.
func NewHTTPInvoker(cfg types.BackendConfig) *HTTPInvoker {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	return &HTTPInvoker{
		client:  &http.Client{Timeout: parseTimeout(cfg.Timeout)},
		url:     cfg.URL,
		method:  method,
		headers: cfg.Headers,
	}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, h.method, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, os.ExpandEnv(v))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("reading backend response: %w", err))
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("backend returned status %d: %s", resp.StatusCode, truncate(respBody, 512))
		if classifyHTTPStatus(resp.StatusCode) == types.FailureTransient {
			return nil, retry.Transient(err)
		}
		return nil, retry.Permanent(err)
	}

	out, err := decodeResponse(respBody)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return out, nil
}

// classifyHTTPStatus treats throttling and server errors as transient, every
// other 4xx as permanent.
func classifyHTTPStatus(code int) types.FailureCategory {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return types.FailureTransient
	}
	if code >= 400 && code < 500 {
		return types.FailurePermanent
	}
	return types.FailureTransient
}
