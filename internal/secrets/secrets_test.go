package secrets

import (
	"context"
	"path/filepath"
	"testing"
)

func TestEnvProvider_PrefixAndAlias(t *testing.T) {
	ctx := context.Background()
	p := NewEnvProvider("REPOVEC_")

	t.Setenv("REPOVEC_EMBED_API_KEY", "prefixed")
	t.Setenv("OPENAI_API_KEY", "alias")
	val, err := p.Get(ctx, EmbedAPIKey)
	if err != nil || val != "prefixed" {
		t.Fatalf("Get = (%q, %v), want prefixed", val, err)
	}

	t.Setenv("REPOVEC_EMBED_API_KEY", "")
	val, err = p.Get(ctx, EmbedAPIKey)
	if err != nil || val != "alias" {
		t.Fatalf("alias fallback = (%q, %v), want alias", val, err)
	}

	t.Setenv("OPENAI_API_KEY", "")
	if _, err := p.Get(ctx, EmbedAPIKey); err == nil {
		t.Fatal("expected error when no env var is set")
	}
}

func TestFileProvider_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.json")

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, EmbedAPIKey); err == nil {
		t.Fatal("empty store should miss")
	}
	if err := p.Set(EmbedAPIKey, "sk-test"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	val, err := reloaded.Get(ctx, EmbedAPIKey)
	if err != nil || val != "sk-test" {
		t.Fatalf("Get after reload = (%q, %v), want sk-test", val, err)
	}
}

func TestManager_FallbackAndCache(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.json")

	m, err := NewManager(&Config{Provider: "file", FilePath: path, EnvPrefix: "REPOVEC_"})
	if err != nil {
		t.Fatal(err)
	}

	// File store is empty, env fallback answers.
	t.Setenv("REPOVEC_EMBED_API_KEY", "from-env")
	val, err := m.Get(ctx, EmbedAPIKey)
	if err != nil || val != "from-env" {
		t.Fatalf("Get = (%q, %v), want from-env", val, err)
	}

	// Cached value survives the env var disappearing.
	t.Setenv("REPOVEC_EMBED_API_KEY", "")
	val, err = m.Get(ctx, EmbedAPIKey)
	if err != nil || val != "from-env" {
		t.Fatalf("cached Get = (%q, %v), want from-env", val, err)
	}

	if m.GetOrDefault(ctx, "missing_key", "fallback") != "fallback" {
		t.Fatal("GetOrDefault must return the default for missing keys")
	}
}

func TestNewManager_UnknownProvider(t *testing.T) {
	if _, err := NewManager(&Config{Provider: "vault"}); err == nil {
		t.Fatal("unknown provider must fail")
	}
}
