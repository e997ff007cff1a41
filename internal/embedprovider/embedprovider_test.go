package embedprovider

import (
	"context"
	"testing"
)

func TestNewStubClient(t *testing.T) {
	c, err := New(context.Background(), Config{Provider: "stub", Dim: 32})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Provider() != "stub" {
		t.Errorf("expected provider 'stub', got %q", c.Provider())
	}
	if c.Dim() != 32 {
		t.Errorf("expected dim 32, got %d", c.Dim())
	}
}

func TestStubClientEmbedReturnsOneVectorPerText(t *testing.T) {
	c, _ := New(context.Background(), Config{Provider: "stub", Dim: 8})
	texts := []string{"a", "b", "c"}

	vecs, _, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 8 {
			t.Errorf("vector %d has length %d, want 8", i, len(v))
		}
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "nonexistent"}); err == nil {
		t.Fatal("expected an error for an unsupported provider")
	}
}

func TestNewOpenAIDefaults(t *testing.T) {
	c, err := New(context.Background(), Config{Provider: "openai"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Dim() != 1536 {
		t.Errorf("expected default dim 1536, got %d", c.Dim())
	}
	if c.Provider() != "openai" {
		t.Errorf("expected provider 'openai', got %q", c.Provider())
	}
}

func TestOpenAIEmbedRequiresAPIKey(t *testing.T) {
	c, _ := New(context.Background(), Config{Provider: "openai"})
	if _, _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected an error when PROVIDER_API_KEY is unset")
	}
}

func TestLimitsAreWithinBounds(t *testing.T) {
	providers := []string{"stub", "openai", "ollama", "huggingface", "cohere"}
	for _, p := range providers {
		c, err := New(context.Background(), Config{Provider: p, APIKey: "k"})
		if err != nil {
			t.Fatalf("New(%q) failed: %v", p, err)
		}
		lim := c.Limits()
		if lim.MinBatchSize < 1 || lim.MaxBatchSize < lim.MinBatchSize {
			t.Errorf("provider %q has invalid batch bounds: %+v", p, lim)
		}
		if lim.MaxConcurrency < 1 {
			t.Errorf("provider %q has invalid max concurrency: %d", p, lim.MaxConcurrency)
		}
	}
}
