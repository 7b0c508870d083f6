package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// RateLimitRPS is the sustained per-client request rate; 0 disables rate limiting.
	RateLimitRPS float64 `env:"HTTP_RATE_LIMIT_RPS" envDefault:"20"`

	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `env:"HTTP_RATE_LIMIT_BURST" envDefault:"40"`

	// MaxBodyBytes caps request bodies accepted by the API.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"65536"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.RateLimitRPS < 0 {
		h.RateLimitRPS = 0
	}
	if h.RateLimitBurst < 1 {
		h.RateLimitBurst = 1
	}
	if h.MaxBodyBytes < 1024 {
		h.MaxBodyBytes = 1024
	}
}

// RateLimitEnabled reports whether per-client rate limiting is active.
func (h *HTTPConfig) RateLimitEnabled() bool {
	return h.RateLimitRPS > 0
}
