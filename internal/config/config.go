// Package config loads ziri's configuration with defaults < YAML file <
// environment < command-line flags precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Specification holds every tunable the CLI, environment, and config
// file recognize.
type Specification struct {
	Provider    string `yaml:"provider" split_words:"true"`
	APIKey      string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel  string `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ProjectID   string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location    string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim         int    `yaml:"providerDim" envconfig:"EMBED_DIM"`
	GithubToken string `yaml:"githubToken" envconfig:"GITHUB_TOKEN"`

	Home     string `yaml:"home" envconfig:"HOME"`
	RepoRoot string `yaml:"repoRoot" split_words:"true"`
	RepoURL  string `yaml:"repoURL" split_words:"true"`
	GitRef   string `yaml:"gitRef" split_words:"true"`

	Concurrency int    `yaml:"concurrency" split_words:"true"`
	BatchSize   int    `yaml:"batchSize" split_words:"true"`
	MemoryLimit int    `yaml:"memoryLimit" split_words:"true"`
	Exclude     string `yaml:"exclude" split_words:"true"`
	Force       bool   `yaml:"force" split_words:"true"`

	LogLevel string `yaml:"logLevel" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "ZIRI"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load resolves configuration in defaults < YAML < env < flags order.
// configPath may be ""; if so, discovery falls back to ZIRI_CONFIG and a
// small set of conventional filenames.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{"config/ziri.yaml", "config/config.yaml", "./ziri.yaml", "./config.yaml"} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Concurrency <= 0 {
		return Specification{}, fmt.Errorf("concurrency must be a positive integer, got %d", cfg.Concurrency)
	}
	if cfg.BatchSize <= 0 {
		return Specification{}, fmt.Errorf("batch-size must be a positive integer, got %d", cfg.BatchSize)
	}
	if cfg.MemoryLimit <= 0 {
		return Specification{}, fmt.Errorf("memory-limit must be a positive integer (MB), got %d", cfg.MemoryLimit)
	}
	return cfg, nil
}

// ExcludeGlobs splits the comma-separated --exclude value into patterns.
func (s *Specification) ExcludeGlobs() []string {
	if strings.TrimSpace(s.Exclude) == "" {
		return nil
	}
	parts := strings.Split(s.Exclude, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			if parts := strings.SplitN(a, "=", 2); len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Embedding provider (openai|ollama|huggingface|cohere|vertexai|stub)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("home", c.Home, "Base directory for repository stores (ZIRI_HOME)")
	fs.String("repo-root", c.RepoRoot, "Path to local repo root")
	fs.String("repo-url", c.RepoURL, "Git repository URL to clone before indexing")
	fs.String("github-token", c.GithubToken, "GitHub API token for cloning private repos")
	fs.String("git-ref", c.GitRef, "Git reference (branch/tag/sha)")

	fs.Int("concurrency", c.Concurrency, "Maximum in-flight embedding batches")
	fs.Int("batch-size", c.BatchSize, "Initial adaptive batch size")
	fs.Int("memory-limit", c.MemoryLimit, "Memory budget in megabytes")
	fs.String("exclude", c.Exclude, "Comma-separated glob exclude patterns")
	fs.Bool("force", c.Force, "Force a full re-index")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")

	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}

	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setInt("embed-dim", &c.Dim)

	setStr("home", &c.Home)
	setStr("repo-root", &c.RepoRoot)
	setStr("repo-url", &c.RepoURL)
	setStr("github-token", &c.GithubToken)
	setStr("git-ref", &c.GitRef)

	setInt("concurrency", &c.Concurrency)
	setInt("batch-size", &c.BatchSize)
	setInt("memory-limit", &c.MemoryLimit)
	setStr("exclude", &c.Exclude)
	setBool("force", &c.Force)

	setStr("log-level", &c.LogLevel)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.RepoRoot = "."
	c.GitRef = "main"
	c.Provider = "stub"
	c.Location = "us-central1"
	c.Concurrency = 4
	c.BatchSize = 64
	c.MemoryLimit = 1024
	if home, err := os.UserHomeDir(); err == nil {
		c.Home = home + "/.ziri"
	} else {
		c.Home = ".ziri"
	}
}
