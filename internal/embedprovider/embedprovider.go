// Package embedprovider is the pluggable, batch-oriented embedding
// provider surface this module needs: one Embed call per batch of
// texts, provider-declared limits for the adaptive batcher, and a
// retry/backoff curve tuned per provider via cenkalti/backoff/v5.
package embedprovider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Limits describes a provider's batching and concurrency constraints,
// consumed by the adaptive batcher and the concurrency gate.
type Limits struct {
	RecommendedBatchSize int
	MinBatchSize         int
	MaxBatchSize         int
	MaxTokensPerRequest  int
	MaxConcurrency       int
}

// Client is the uniform embedding provider surface. Embed takes a
// batch of chunk texts and returns one vector per text, in order,
// along with the number of retry attempts the call needed.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
	Limits() Limits
	Provider() string
	Dim() int
}

// Config carries the fields any of the supported providers need.
type Config struct {
	Provider   string
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Location   string
	BaseURL    string
}

// New constructs the Client named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg), nil
	case "ollama":
		return newOllamaClient(cfg), nil
	case "huggingface":
		return newHuggingFaceClient(cfg), nil
	case "cohere":
		return newCohereClient(cfg), nil
	case "vertexai":
		return newVertexAIClient(ctx, cfg)
	case "stub", "":
		return newStubClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{}
	if skip, _ := strconv.ParseBool(os.Getenv("ZIRI_SKIP_TLS_VERIFY")); skip {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Timeout: 30 * time.Second, Transport: transport}
}

// errKind buckets an embedding-call failure into the categories a
// retry policy reacts to differently.
type errKind int

const (
	errKindNetwork errKind = iota
	errKindTimeout
	errKindAuth
	errKindRateLimit
	errKindServer
	errKindClientInput
)

// classify inspects err (an *httpStatusError for every HTTP-backed
// client here) and buckets it into an errKind.
func classify(err error) errKind {
	var he *httpStatusError
	if errors.As(err, &he) {
		switch {
		case he.status == http.StatusTooManyRequests:
			return errKindRateLimit
		case he.status == http.StatusUnauthorized, he.status == http.StatusForbidden:
			return errKindAuth
		case he.status >= 500:
			return errKindServer
		case he.status >= 400:
			return errKindClientInput
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errKindTimeout
	}
	return errKindNetwork
}

// retryPolicy tunes one provider's retry/backoff curve: the
// exponential base/max delay and multiplier used for transient
// failures, and the fixed delay to sleep once on a rate-limit
// response before falling back into the exponential curve.
type retryPolicy struct {
	maxTries       int
	baseDelay      time.Duration
	maxDelay       time.Duration
	multiplier     float64
	jitter         bool
	rateLimitDelay time.Duration
}

func (p retryPolicy) randomization() float64 {
	if p.jitter {
		return 0.5
	}
	return 0
}

var retryPolicies = map[string]retryPolicy{
	"openai": {
		maxTries: 5, baseDelay: 1000 * time.Millisecond, maxDelay: 60_000 * time.Millisecond,
		multiplier: 2.0, jitter: true, rateLimitDelay: 60_000 * time.Millisecond,
	},
	"ollama": {
		maxTries: 3, baseDelay: 500 * time.Millisecond, maxDelay: 5_000 * time.Millisecond,
		multiplier: 1.5, jitter: false,
	},
	"huggingface": {
		maxTries: 4, baseDelay: 2_000 * time.Millisecond, maxDelay: 120_000 * time.Millisecond,
		multiplier: 2.5, jitter: true, rateLimitDelay: 3_600_000 * time.Millisecond,
	},
	"cohere": {
		maxTries: 4, baseDelay: 1_500 * time.Millisecond, maxDelay: 45_000 * time.Millisecond,
		multiplier: 2.0, jitter: true, rateLimitDelay: 60_000 * time.Millisecond,
	},
}

// defaultRetryPolicy covers providers the table above doesn't name
// (vertexai, stub): vertexai is a hosted API like openai, so it
// borrows openai's curve rather than inventing an untested one.
var defaultRetryPolicy = retryPolicies["openai"]

func policyFor(provider string) retryPolicy {
	if p, ok := retryPolicies[provider]; ok {
		return p
	}
	return defaultRetryPolicy
}

// retryEmbed wraps an embedding attempt with cenkalti/backoff/v5's
// exponential policy tuned per provider, sleeping the provider's fixed
// rate-limit delay once before the exponential curve takes over for
// any further attempt, and reports how many retries the call needed.
func retryEmbed(ctx context.Context, provider string, fn func() ([][]float32, error)) ([][]float32, int, error) {
	policy := policyFor(provider)
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(policy.baseDelay),
		backoff.WithMaxInterval(policy.maxDelay),
		backoff.WithMultiplier(policy.multiplier),
		backoff.WithRandomizationFactor(policy.randomization()),
	)

	retries := 0
	rateLimitSlept := false
	op := func() ([][]float32, error) {
		vecs, err := fn()
		if err == nil {
			return vecs, nil
		}
		retries++

		switch classify(err) {
		case errKindAuth, errKindClientInput:
			return nil, backoff.Permanent(err)
		case errKindRateLimit:
			if policy.rateLimitDelay > 0 && !rateLimitSlept {
				rateLimitSlept = true
				sleepCtx(ctx, policy.rateLimitDelay)
			}
		}
		return nil, err
	}

	vecs, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(policy.maxTries)),
	)
	return vecs, retries, err
}

// sleepCtx sleeps d, returning early if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.status, e.body)
}

// --- stub ---

type stubClient struct{ dim int }

func newStubClient(cfg Config) *stubClient {
	dim := cfg.Dim
	if dim == 0 {
		dim = 128
	}
	return &stubClient{dim: dim}
}

func (s *stubClient) Embed(_ context.Context, texts []string) ([][]float32, int, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, 0, nil
}

func (s *stubClient) Limits() Limits {
	return Limits{RecommendedBatchSize: 64, MinBatchSize: 1, MaxBatchSize: 256, MaxTokensPerRequest: 1 << 20, MaxConcurrency: 8}
}
func (s *stubClient) Provider() string { return "stub" }
func (s *stubClient) Dim() int         { return s.dim }

// --- openai ---

type openAIClient struct {
	cfg  Config
	http *http.Client
}

func newOpenAIClient(cfg Config) *openAIClient {
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-3-small"
	}
	if cfg.Dim == 0 {
		switch cfg.EmbedModel {
		case "text-embedding-3-large":
			cfg.Dim = 3072
		default:
			cfg.Dim = 1536
		}
	}
	return &openAIClient{cfg: cfg, http: newHTTPClient()}
}

func (c *openAIClient) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if c.cfg.APIKey == "" {
		return nil, 0, errors.New("PROVIDER_API_KEY unset")
	}
	return retryEmbed(ctx, c.Provider(), func() ([][]float32, error) {
		payload := map[string]any{"input": texts, "model": c.cfg.EmbedModel}
		b, _ := json.Marshal(payload)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if strings.HasPrefix(c.cfg.APIKey, "sk-proj-") && c.cfg.ProjectID != "" {
			req.Header.Set("OpenAI-Project", c.cfg.ProjectID)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("close openai response body")
			}
		}()

		if resp.StatusCode != http.StatusOK {
			return nil, &httpStatusError{status: resp.StatusCode}
		}

		var out struct {
			Data []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		vecs := make([][]float32, len(texts))
		for _, d := range out.Data {
			if d.Index >= 0 && d.Index < len(vecs) {
				vecs[d.Index] = d.Embedding
			}
		}
		return vecs, nil
	})
}

func (c *openAIClient) Limits() Limits {
	return Limits{RecommendedBatchSize: 64, MinBatchSize: 1, MaxBatchSize: 2048, MaxTokensPerRequest: 300_000, MaxConcurrency: 4}
}
func (c *openAIClient) Provider() string { return "openai" }
func (c *openAIClient) Dim() int         { return c.cfg.Dim }

// --- ollama ---

type ollamaClient struct {
	cfg  Config
	http *http.Client
}

func newOllamaClient(cfg Config) *ollamaClient {
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "nomic-embed-text"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Dim == 0 {
		cfg.Dim = 768
	}
	return &ollamaClient{cfg: cfg, http: newHTTPClient()}
}

func (c *ollamaClient) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	return retryEmbed(ctx, c.Provider(), func() ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		for i, text := range texts {
			payload := map[string]any{"model": c.cfg.EmbedModel, "prompt": text}
			b, _ := json.Marshal(payload)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/embeddings", bytes.NewReader(b))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			var out struct {
				Embedding []float32 `json:"embedding"`
			}
			decErr := json.NewDecoder(resp.Body).Decode(&out)
			closeErr := resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, &httpStatusError{status: resp.StatusCode}
			}
			if decErr != nil {
				return nil, decErr
			}
			if closeErr != nil {
				log.Warn().Err(closeErr).Msg("close ollama response body")
			}
			vecs[i] = out.Embedding
		}
		return vecs, nil
	})
}

func (c *ollamaClient) Limits() Limits {
	return Limits{RecommendedBatchSize: 16, MinBatchSize: 1, MaxBatchSize: 64, MaxTokensPerRequest: 8192, MaxConcurrency: 2}
}
func (c *ollamaClient) Provider() string { return "ollama" }
func (c *ollamaClient) Dim() int         { return c.cfg.Dim }

// --- huggingface ---

type huggingFaceClient struct {
	cfg  Config
	http *http.Client
}

func newHuggingFaceClient(cfg Config) *huggingFaceClient {
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Dim == 0 {
		cfg.Dim = 384
	}
	return &huggingFaceClient{cfg: cfg, http: newHTTPClient()}
}

func (c *huggingFaceClient) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if c.cfg.APIKey == "" {
		return nil, 0, errors.New("PROVIDER_API_KEY unset")
	}
	return retryEmbed(ctx, c.Provider(), func() ([][]float32, error) {
		url := "https://api-inference.huggingface.co/pipeline/feature-extraction/" + c.cfg.EmbedModel
		payload := map[string]any{"inputs": texts, "options": map[string]bool{"wait_for_model": true}}
		b, _ := json.Marshal(payload)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &httpStatusError{status: resp.StatusCode}
		}
		var vecs [][]float32
		if err := json.NewDecoder(resp.Body).Decode(&vecs); err != nil {
			return nil, err
		}
		return vecs, nil
	})
}

func (c *huggingFaceClient) Limits() Limits {
	return Limits{RecommendedBatchSize: 8, MinBatchSize: 1, MaxBatchSize: 32, MaxTokensPerRequest: 4096, MaxConcurrency: 2}
}
func (c *huggingFaceClient) Provider() string { return "huggingface" }
func (c *huggingFaceClient) Dim() int         { return c.cfg.Dim }

// --- cohere ---

type cohereClient struct {
	cfg  Config
	http *http.Client
}

func newCohereClient(cfg Config) *cohereClient {
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "embed-english-v3.0"
	}
	if cfg.Dim == 0 {
		cfg.Dim = 1024
	}
	return &cohereClient{cfg: cfg, http: newHTTPClient()}
}

func (c *cohereClient) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if c.cfg.APIKey == "" {
		return nil, 0, errors.New("PROVIDER_API_KEY unset")
	}
	return retryEmbed(ctx, c.Provider(), func() ([][]float32, error) {
		payload := map[string]any{
			"texts":      texts,
			"model":      c.cfg.EmbedModel,
			"input_type": "search_document",
		}
		b, _ := json.Marshal(payload)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.cohere.com/v1/embed", bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &httpStatusError{status: resp.StatusCode}
		}
		var out struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return out.Embeddings, nil
	})
}

func (c *cohereClient) Limits() Limits {
	return Limits{RecommendedBatchSize: 96, MinBatchSize: 1, MaxBatchSize: 96, MaxTokensPerRequest: 100_000, MaxConcurrency: 4}
}
func (c *cohereClient) Provider() string { return "cohere" }
func (c *cohereClient) Dim() int         { return c.cfg.Dim }

// --- vertexai ---

type vertexAIClient struct {
	cfg    Config
	client *genai.Client
}

func newVertexAIClient(ctx context.Context, cfg Config) (*vertexAIClient, error) {
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-005"
	}
	if cfg.Dim == 0 {
		cfg.Dim = 768
	}
	if cfg.Location == "" && strings.TrimSpace(cfg.APIKey) == "" {
		cfg.Location = "us-central1"
	}

	cc := genai.ClientConfig{Backend: genai.BackendVertexAI}
	if strings.TrimSpace(cfg.APIKey) != "" {
		cc.APIKey = cfg.APIKey
	}
	if strings.TrimSpace(cfg.ProjectID) != "" {
		cc.Project = cfg.ProjectID
	}
	if strings.TrimSpace(cfg.Location) != "" {
		cc.Location = cfg.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("create vertexai client: %w", err)
	}
	return &vertexAIClient{cfg: cfg, client: client}, nil
}

func (c *vertexAIClient) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	return retryEmbed(ctx, c.Provider(), func() ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		ecfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
		for i, text := range texts {
			res, err := c.client.Models.EmbedContent(ctx, c.cfg.EmbedModel, genai.Text(text), &ecfg)
			if err != nil {
				return nil, fmt.Errorf("embedding failed: %w", err)
			}
			if res == nil || len(res.Embeddings) == 0 {
				return nil, errors.New("no embedding returned")
			}
			vecs[i] = res.Embeddings[0].Values
		}
		return vecs, nil
	})
}

func (c *vertexAIClient) Limits() Limits {
	return Limits{RecommendedBatchSize: 32, MinBatchSize: 1, MaxBatchSize: 250, MaxTokensPerRequest: 20_000, MaxConcurrency: 4}
}
func (c *vertexAIClient) Provider() string { return "vertexai" }
func (c *vertexAIClient) Dim() int         { return c.cfg.Dim }
