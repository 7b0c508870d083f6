package config

import (
	"fmt"
	"strings"
	"time"
)

const staleRunningMargin = time.Minute

// FailedRetryPolicy controls how failed analyses are retried.
type FailedRetryPolicy string

const (
	// FailedRetryManual requires an explicit re-submission for failed analyses.
	FailedRetryManual FailedRetryPolicy = "manual"
	// FailedRetryAuto lets the reaper re-submit failed analyses up to MaxAutoRetries times.
	FailedRetryAuto FailedRetryPolicy = "auto"
)

// UnmarshalText implements encoding.TextUnmarshaler for FailedRetryPolicy.
func (p *FailedRetryPolicy) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch FailedRetryPolicy(v) {
	case FailedRetryManual, FailedRetryAuto:
		*p = FailedRetryPolicy(v)
		return nil
	default:
		return fmt.Errorf("invalid FailedRetryPolicy: %q (valid options: manual, auto)", v)
	}
}

// RegistryKind selects the dispatch registry implementation.
type RegistryKind string

const (
	// RegistryLocal keeps in-flight owner keys in process memory.
	RegistryLocal RegistryKind = "local"
	// RegistryRedis keeps in-flight owner keys in Redis so several replicas share them.
	RegistryRedis RegistryKind = "redis"
)

// UnmarshalText implements encoding.TextUnmarshaler for RegistryKind.
func (k *RegistryKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch RegistryKind(v) {
	case RegistryLocal, RegistryRedis:
		*k = RegistryKind(v)
		return nil
	default:
		return fmt.Errorf("invalid RegistryKind: %q (valid options: local, redis)", v)
	}
}

// OrchestratorConfig controls analysis dispatch, fan-out and retries.
type OrchestratorConfig struct {
	// Branches lists the branch ids fanned out for every analysis.
	Branches []string `env:"ORCHESTRATOR_BRANCHES" envDefault:"twitter,linkedin,reddit,news"`

	// BranchTimeout is the hard deadline shared by all branches of one analysis.
	BranchTimeout time.Duration `env:"ORCHESTRATOR_BRANCH_TIMEOUT" envDefault:"5m"`

	// StaleRunningAfter marks running analyses with no progress for this long as orphaned.
	// Zero disables reclaim of running analyses.
	StaleRunningAfter time.Duration `env:"ORCHESTRATOR_STALE_RUNNING_AFTER" envDefault:"30m"`

	// FailedRetry selects manual or automatic retry of failed analyses.
	FailedRetry FailedRetryPolicy `env:"ORCHESTRATOR_FAILED_RETRY" envDefault:"manual"`

	// MaxAutoRetries caps automatic re-submissions when FailedRetry=auto.
	MaxAutoRetries int `env:"ORCHESTRATOR_MAX_AUTO_RETRIES" envDefault:"2"`

	// FinalWriteAttempts is the number of tries for the terminal store write.
	FinalWriteAttempts int `env:"ORCHESTRATOR_FINAL_WRITE_RETRIES" envDefault:"3"`

	// FinalWriteBackoff is the base delay between terminal write attempts.
	FinalWriteBackoff time.Duration `env:"ORCHESTRATOR_FINAL_WRITE_BACKOFF" envDefault:"500ms"`

	// Registry selects the dispatch registry implementation.
	Registry RegistryKind `env:"ORCHESTRATOR_REGISTRY" envDefault:"local"`

	// RegistryTTL is the lease lifetime of a Redis registry entry; it is refreshed while the job runs.
	RegistryTTL time.Duration `env:"ORCHESTRATOR_REGISTRY_TTL" envDefault:"10m"`
}

// Sanitize applies guardrails to orchestrator configuration values.
func (o *OrchestratorConfig) Sanitize() {
	o.Branches = normalizeList(o.Branches)
	if o.BranchTimeout < time.Second {
		o.BranchTimeout = time.Second
	}
	if o.StaleRunningAfter < 0 {
		o.StaleRunningAfter = 0
	}
	if o.FailedRetry == "" {
		o.FailedRetry = FailedRetryManual
	}
	if o.MaxAutoRetries < 0 {
		o.MaxAutoRetries = 0
	}
	// At least one retry after the first attempt.
	if o.FinalWriteAttempts < 2 {
		o.FinalWriteAttempts = 2
	}
	if o.FinalWriteBackoff <= 0 {
		o.FinalWriteBackoff = 500 * time.Millisecond
	}
	if o.Registry == "" {
		o.Registry = RegistryLocal
	}
	if o.RegistryTTL < 10*time.Second {
		o.RegistryTTL = 10 * time.Second
	}
}

// ExecutorKind selects the branch executor implementation.
type ExecutorKind string

const (
	// ExecutorLLM calls an OpenAI-compatible responses endpoint per branch.
	ExecutorLLM ExecutorKind = "llm"
	// ExecutorStatic returns canned reports (local development and demos).
	ExecutorStatic ExecutorKind = "static"
)

// UnmarshalText implements encoding.TextUnmarshaler for ExecutorKind.
func (k *ExecutorKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch ExecutorKind(v) {
	case ExecutorLLM, ExecutorStatic:
		*k = ExecutorKind(v)
		return nil
	default:
		return fmt.Errorf("invalid ExecutorKind: %q (valid options: llm, static)", v)
	}
}

// LLMConfig configures the OpenAI-compatible provider used by the llm executor.
type LLMConfig struct {
	BaseURL      string        `env:"BASE_URL"      envDefault:"https://api.openai.com/v1"`
	APIKey       string        `env:"API_KEY"`
	Organization string        `env:"ORGANIZATION"`
	Model        string        `env:"MODEL"         envDefault:"gpt-4.1-mini"`
	Timeout      time.Duration `env:"TIMEOUT"       envDefault:"90s"`
	MaxRetries   int           `env:"MAX_RETRIES"   envDefault:"2"`
	// ResponsePath is a JMESPath expression selecting the report text from the provider response.
	ResponsePath string `env:"RESPONSE_PATH" envDefault:"output_text || output[0].content[0].text"`
}

// ProviderOAuthConfig enables OAuth2 client-credentials auth towards the provider.
type ProviderOAuthConfig struct {
	TokenURL     string   `env:"TOKEN_URL"`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES"        envSeparator:" "`
}

// Enabled reports whether client-credentials auth is configured.
func (c *ProviderOAuthConfig) Enabled() bool {
	return c.TokenURL != "" && c.ClientID != ""
}

// BranchExecutorConfig configures how branch work is executed.
type BranchExecutorConfig struct {
	Executor ExecutorKind `env:"BRANCH_EXECUTOR" envDefault:"static"`

	// CatalogFile overrides the embedded branch catalog (YAML).
	CatalogFile string `env:"BRANCH_CATALOG_FILE"`

	LLM   LLMConfig           `envPrefix:"BRANCH_LLM_"`
	OAuth ProviderOAuthConfig `envPrefix:"BRANCH_OAUTH_"`

	// RateLimitRPS bounds outbound provider calls across all branches; 0 disables limiting.
	RateLimitRPS   float64 `env:"BRANCH_RATE_LIMIT_RPS"   envDefault:"2"`
	RateLimitBurst int     `env:"BRANCH_RATE_LIMIT_BURST" envDefault:"4"`

	// StaticFail lists branch ids the static executor fails on purpose.
	StaticFail []string `env:"BRANCH_STATIC_FAIL"`
}

// Sanitize applies guardrails to branch executor configuration values.
func (b *BranchExecutorConfig) Sanitize() {
	if b.Executor == "" {
		b.Executor = ExecutorStatic
	}
	b.CatalogFile = strings.TrimSpace(b.CatalogFile)
	b.LLM.BaseURL = strings.TrimSuffix(strings.TrimSpace(b.LLM.BaseURL), "/")
	b.LLM.APIKey = strings.TrimSpace(b.LLM.APIKey)
	b.LLM.ResponsePath = strings.TrimSpace(b.LLM.ResponsePath)
	if b.LLM.Timeout <= 0 {
		b.LLM.Timeout = 90 * time.Second
	}
	if b.LLM.MaxRetries < 0 {
		b.LLM.MaxRetries = 0
	}
	if b.RateLimitRPS < 0 {
		b.RateLimitRPS = 0
	}
	if b.RateLimitBurst < 1 {
		b.RateLimitBurst = 1
	}
	b.StaticFail = normalizeList(b.StaticFail)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
