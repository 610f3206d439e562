package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// Remote talks to a capability gateway service over HTTP. One value
// implements LLMGateway, Retriever and ContextSource:
//
//	POST {base}/v1/complete           {prompt, config} -> Completion
//	POST {base}/v1/retrieve           {query}          -> {chunks}
//	GET  {base}/v1/content/{kind}/{id}                 -> raw bytes
//
// Error statuses map to capability errors: 404 to ErrNotFound, 429 and 5xx
// to ErrTransient, and an error body with code "all_models_exhausted" to
// ErrAllModelsExhausted.
type Remote struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) RemoteOption {
	return func(r *Remote) {
		r.token = token
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRemote creates a client for the gateway at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) (*Remote, error) {
	if baseURL == "" {
		return nil, errors.New("capability: gateway base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("capability: gateway base URL: %w", err)
	}
	r := &Remote{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type completeRequest struct {
	Prompt Prompt     `json:"prompt"`
	Config CallConfig `json:"config"`
}

// Complete implements LLMGateway.
func (r *Remote) Complete(ctx context.Context, prompt Prompt, cfg CallConfig) (Completion, error) {
	var out Completion
	err := r.do(ctx, http.MethodPost, "/v1/complete", "complete", completeRequest{prompt, cfg}, func(body io.Reader) error {
		return json.NewDecoder(body).Decode(&out)
	})
	return out, err
}

// Query implements Retriever.
func (r *Remote) Query(ctx context.Context, text string) ([]RankedChunk, error) {
	var out struct {
		Chunks []RankedChunk `json:"chunks"`
	}
	err := r.do(ctx, http.MethodPost, "/v1/retrieve", "retrieve", map[string]string{"query": text}, func(body io.Reader) error {
		return json.NewDecoder(body).Decode(&out)
	})
	return out.Chunks, err
}

// Fetch implements ContextSource.
func (r *Remote) Fetch(ctx context.Context, kind ContentKind, id string) ([]byte, error) {
	var out []byte
	path := "/v1/content/" + url.PathEscape(string(kind)) + "/" + url.PathEscape(id)
	err := r.do(ctx, http.MethodGet, path, "fetch", nil, func(body io.Reader) error {
		var err error
		out, err = io.ReadAll(body)
		return err
	})
	return out, err
}

func (r *Remote) do(ctx context.Context, method, path, op string, payload any, decode func(io.Reader) error) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	defer resp.Body.Close()

	r.logger.DebugContext(ctx, "capability response", "operation", op, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return r.statusError(op, path, resp)
	}
	if err := decode(resp.Body); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (r *Remote) statusError(op, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	if msg == "" {
		msg = resp.Status
	}
	httpErr := &agerrors.HTTPError{StatusCode: resp.StatusCode, Message: msg, Endpoint: path}

	switch {
	case apiErr.Code == "all_models_exhausted":
		return fmt.Errorf("%s: %w: %w", op, ErrAllModelsExhausted, httpErr)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, httpErr)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, httpErr)
	}
	return fmt.Errorf("%s: %w", op, httpErr)
}
