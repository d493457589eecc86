// Package httputil provides per-provider pooled HTTP clients for the
// pipeline's outbound adapters (LLM providers, the workspace API), the
// same dedicated-pool-per-provider shape the teacher uses for its
// Gmail/Outlook/OpenAI adapters.
package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// ClientConfig tunes a provider-specific *http.Client's transport pool.
type ClientConfig struct {
	Name                string
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
}

// DefaultClientConfig returns conservative pool sizes suitable for any
// single-destination outbound client.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:                name,
		Timeout:             30 * time.Second,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// OpenAIClientConfig, AnthropicClientConfig, GeminiClientConfig tune pools
// for the three LLM provider adapters (§4.5): a single destination host
// per provider, moderate concurrency, and a generous timeout to cover
// slow completions — the retry policy's own Timeout bounds the overall
// call, this is the transport-level floor.
func OpenAIClientConfig() ClientConfig {
	cfg := DefaultClientConfig("openai")
	cfg.Timeout = 60 * time.Second
	cfg.MaxIdleConnsPerHost = 5
	return cfg
}

func AnthropicClientConfig() ClientConfig {
	cfg := DefaultClientConfig("anthropic")
	cfg.Timeout = 60 * time.Second
	cfg.MaxIdleConnsPerHost = 5
	return cfg
}

func GeminiClientConfig() ClientConfig {
	cfg := DefaultClientConfig("gemini")
	cfg.Timeout = 60 * time.Second
	cfg.MaxIdleConnsPerHost = 5
	return cfg
}

// WorkspaceClientConfig tunes the pool for the workspace API client
// (C7/C10), which is rate-limited to a few requests/sec so a small pool
// is sufficient.
func WorkspaceClientConfig() ClientConfig {
	cfg := DefaultClientConfig("workspace")
	cfg.Timeout = 30 * time.Second
	cfg.MaxIdleConnsPerHost = 4
	cfg.MaxConnsPerHost = 8
	return cfg
}

// PoolStats is a point-in-time snapshot of a client's transport pool
// configuration.
type PoolStats struct {
	Name                string
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
}

// Registry owns one pooled *http.Client per named provider, created
// lazily, so adapters share a single transport per destination instead
// of paying a fresh TLS handshake per call.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*http.Client
	cfgs    map[string]ClientConfig
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*http.Client),
		cfgs:    make(map[string]ClientConfig),
	}
}

// Get returns the pooled client for cfg.Name, creating it on first use.
func (r *Registry) Get(cfg ClientConfig) *http.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[cfg.Name]; ok {
		return c
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		DialContext: (&net.Dialer{
			Timeout: cfg.DialTimeout,
		}).DialContext,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	r.clients[cfg.Name] = client
	r.cfgs[cfg.Name] = cfg
	return client
}

// DoWithContext performs req using the named provider's pooled client,
// attaching ctx so a caller's timeout/cancellation bounds the call.
func (r *Registry) DoWithContext(ctx context.Context, cfg ClientConfig, req *http.Request) (*http.Response, error) {
	client := r.Get(cfg)
	req = req.WithContext(ctx)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	return resp, nil
}

// AllPoolStats returns a snapshot of every registered client's pool
// configuration, keyed by provider name.
func (r *Registry) AllPoolStats() map[string]PoolStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]PoolStats, len(r.cfgs))
	for name, cfg := range r.cfgs {
		out[name] = PoolStats{
			Name:                name,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.MaxConnsPerHost,
		}
	}
	return out
}
