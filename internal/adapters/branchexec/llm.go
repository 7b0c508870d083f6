package branchexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/target/mmk-mentions-api/config"
	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
)

const (
	// maxResponseBytes caps how much of a provider response is read.
	maxResponseBytes = 4 << 20
	retryBaseDelay   = 350 * time.Millisecond
)

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// LLMOptions groups dependencies for LLMExecutor.
type LLMOptions struct {
	Config  config.LLMConfig // Required: provider settings
	Catalog *Catalog         // Required: branch instructions
	Deps    LLMDeps          // Optional: transport, limiter and logger
}

// LLMDeps holds the optional collaborators of LLMExecutor.
type LLMDeps struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     *slog.Logger
}

// LLMExecutor runs a branch as one call to an OpenAI-compatible responses endpoint.
type LLMExecutor struct {
	cfg     config.LLMConfig
	catalog *Catalog
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

var _ core.BranchExecutor = (*LLMExecutor)(nil)

// NewLLMExecutor constructs an LLMExecutor.
func NewLLMExecutor(opts LLMOptions) (*LLMExecutor, error) {
	if opts.Catalog == nil {
		return nil, errors.New("branch catalog is required")
	}
	if strings.TrimSpace(opts.Config.BaseURL) == "" {
		return nil, errors.New("provider base URL is required")
	}
	if strings.TrimSpace(opts.Config.Model) == "" {
		return nil, errors.New("provider model is required")
	}
	if strings.TrimSpace(opts.Config.ResponsePath) == "" {
		opts.Config.ResponsePath = "output_text"
	}
	if _, err := jmespath.Compile(opts.Config.ResponsePath); err != nil {
		return nil, fmt.Errorf("invalid response path: %w", err)
	}

	client := opts.Deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Config.Timeout}
	}
	logger := opts.Deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExecutor{
		cfg:     opts.Config,
		catalog: opts.Catalog,
		client:  client,
		limiter: opts.Deps.Limiter,
		log:     logger.With("component", "llm_executor"),
	}, nil
}

// NewProviderHTTPClient returns the HTTP client used to reach the provider. With OAuth
// configured, requests carry a client-credentials token; otherwise a plain client is used
// and the API key is sent by the executor.
func NewProviderHTTPClient(ctx context.Context, cfg config.BranchExecutorConfig) *http.Client {
	base := &http.Client{Timeout: cfg.LLM.Timeout}
	if !cfg.OAuth.Enabled() {
		return base
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		TokenURL:     cfg.OAuth.TokenURL,
		Scopes:       cfg.OAuth.Scopes,
	}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	client.Timeout = cfg.LLM.Timeout
	return client
}

type responsesRequest struct {
	Model        string `json:"model"`
	Instructions string `json:"instructions,omitempty"`
	Input        string `json:"input"`
}

// Execute implements core.BranchExecutor.
func (e *LLMExecutor) Execute(ctx context.Context, branchID, query string) (core.BranchOutput, error) {
	br, ok := e.catalog.Get(branchID)
	if !ok {
		return core.BranchOutput{}, fmt.Errorf("unknown branch %q", branchID)
	}

	rid := uuid.NewString()
	start := time.Now()
	e.log.DebugContext(ctx, "llm.branch.start", "req_id", rid, "branch", branchID, "model", e.cfg.Model)

	raw, err := e.postWithRetry(ctx, rid, responsesRequest{
		Model:        e.cfg.Model,
		Instructions: br.Instructions,
		Input:        buildInput(br, query),
	})
	if err != nil {
		e.log.WarnContext(ctx, "llm.branch.http_error",
			"req_id", rid, "branch", branchID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return core.BranchOutput{}, err
	}

	text, err := e.extract(raw)
	if err != nil {
		e.log.WarnContext(ctx, "llm.branch.extract_failed",
			"req_id", rid, "branch", branchID, "error", err, "raw_bytes", len(raw))
		return core.BranchOutput{}, err
	}

	e.log.InfoContext(ctx, "llm.branch.ok",
		"req_id", rid, "branch", branchID, "text_len", len(text),
		"elapsed_ms", time.Since(start).Milliseconds())
	return core.BranchOutput{Raw: []byte(text)}, nil
}

func (e *LLMExecutor) postWithRetry(ctx context.Context, rid string, body responsesRequest) ([]byte, error) {
	attempts := e.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		raw, err := e.post(ctx, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == attempts-1 {
			break
		}

		delay := retryBaseDelay * time.Duration(attempt+1)
		e.log.DebugContext(ctx, "llm.branch.retry", "req_id", rid, "attempt", attempt+1, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (e *LLMExecutor) post(ctx context.Context, body responsesRequest) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/responses", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	if e.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", e.cfg.Organization)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if cerr := Body.Close(); cerr != nil {
			e.log.Warn("provider response body close error", "error", cerr)
		}
	}(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, nil
}

// extract applies the configured JMESPath expression to the response body.
func (e *LLMExecutor) extract(raw []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	res, err := jmespath.Search(e.cfg.ResponsePath, doc)
	if err != nil {
		return "", fmt.Errorf("evaluate response path: %w", err)
	}
	switch v := res.(type) {
	case nil:
		return "", fmt.Errorf("response path %q matched nothing", e.cfg.ResponsePath)
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode response path result: %w", err)
		}
		return string(b), nil
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// Transport failures are worth another try.
	return true
}

// buildInput renders the analysis query for the model. Structured brand queries are
// spelled out; anything else is passed through.
func buildInput(br Branch, query string) string {
	var q model.BrandQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil || strings.TrimSpace(q.BrandName) == "" {
		return "Platform: " + br.Platform + "\nQuery: " + query
	}
	var sb strings.Builder
	sb.WriteString("Platform: ")
	sb.WriteString(br.Platform)
	sb.WriteString("\nBrand: ")
	sb.WriteString(q.BrandName)
	if q.Category != "" {
		sb.WriteString("\nCategory: ")
		sb.WriteString(q.Category)
	}
	if q.Location != "" {
		sb.WriteString("\nLocation: ")
		sb.WriteString(q.Location)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
