// Package secrets resolves credentials the embedder backends need, from
// environment variables or a local file.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// EmbedAPIKey is the key under which the remote embedding API credential is
// stored.
const EmbedAPIKey = "embed_api_key"

// aliases maps a key to well-known environment variable names checked when
// the prefixed lookup misses.
var aliases = map[string][]string{
	EmbedAPIKey: {"OPENAI_API_KEY"},
}

// Provider is one secret backend.
type Provider interface {
	// Get retrieves a secret by key. An empty value is treated as missing.
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config configures the secrets manager.
type Config struct {
	// Provider selects the backend: "env" (default) or "file".
	Provider string
	// FilePath is the secrets file for the file backend.
	FilePath string
	// EnvPrefix for environment variable names (default: "REPOVEC_").
	EnvPrefix string
}

// DefaultConfig returns the env-based default configuration.
func DefaultConfig() *Config {
	return &Config{Provider: "env", EnvPrefix: "REPOVEC_"}
}

// Manager resolves secrets through a primary backend with the environment as
// fallback. Resolved values are cached for the life of the manager.
type Manager struct {
	primary  Provider
	fallback Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager creates a secrets manager for the given configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var primary Provider
	switch cfg.Provider {
	case "env", "":
		primary = NewEnvProvider(cfg.EnvPrefix)
	case "file":
		fp, err := NewFileProvider(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		primary = fp
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	return &Manager{
		primary:  primary,
		fallback: NewEnvProvider(cfg.EnvPrefix),
		cache:    make(map[string]string),
	}, nil
}

// Get resolves a secret, trying the primary backend then the environment.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	if val, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return val, nil
	}
	m.mu.RUnlock()

	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		val, err := p.Get(ctx, key)
		if err == nil && val != "" {
			m.mu.Lock()
			m.cache[key] = val
			m.mu.Unlock()
			return val, nil
		}
	}
	return "", fmt.Errorf("secret not found: %s", key)
}

// GetOrDefault resolves a secret or returns defaultVal when it is missing.
func (m *Manager) GetOrDefault(ctx context.Context, key, defaultVal string) string {
	val, err := m.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

// EnvProvider reads secrets from environment variables. A key "embed_api_key"
// with prefix "REPOVEC_" resolves REPOVEC_EMBED_API_KEY, then any registered
// alias such as OPENAI_API_KEY.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "REPOVEC_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	for _, alias := range aliases[key] {
		if val := os.Getenv(alias); val != "" {
			return val, nil
		}
	}
	return "", fmt.Errorf("env var not found: %s", envKey)
}
