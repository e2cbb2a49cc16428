package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/codereview/internal/cache"
	"github.com/joescharf/codereview/internal/llm"
	"github.com/joescharf/codereview/internal/retry"
	"github.com/joescharf/codereview/internal/review"
	"github.com/joescharf/codereview/internal/source"
)

// reviewSvc is the shared review service, built on first use.
var reviewSvc *review.Service

// repoResolver is the shared GitHub resolver, built on first use.
var repoResolver *source.RepoResolver

// firstNonEmpty returns the configured value or the first set env var.
func firstNonEmpty(configured string, envVars ...string) string {
	if configured != "" {
		return configured
	}
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// newProvider creates the LLM provider selected by llm.provider.
func newProvider(ctx context.Context) (llm.Provider, error) {
	switch name := viper.GetString("llm.provider"); name {
	case "gemini", "":
		apiKey := firstNonEmpty(viper.GetString("gemini.api_key"), "GEMINI_API_KEY", "GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("no Gemini API key: set gemini.api_key or GEMINI_API_KEY")
		}
		return llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey: apiKey,
			Model:  viper.GetString("gemini.model"),
		})
	case "anthropic":
		apiKey := firstNonEmpty(viper.GetString("anthropic.api_key"), "ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("no Anthropic API key: set anthropic.api_key or ANTHROPIC_API_KEY")
		}
		return llm.NewAnthropicProvider(apiKey, viper.GetString("anthropic.model"), ""), nil
	default:
		return nil, fmt.Errorf("unknown llm.provider %q (want gemini or anthropic)", name)
	}
}

// retryPolicy reads the retry.* keys.
func retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if n := viper.GetInt("retry.max_attempts"); n > 0 {
		p.MaxAttempts = n
	}
	if d := viper.GetDuration("retry.base_delay"); d > 0 {
		p.BaseDelay = d
	}
	if d := viper.GetDuration("retry.max_delay"); d > 0 {
		p.MaxDelay = d
	}
	p.Jitter = viper.GetBool("retry.jitter")
	p.Logger = logger
	return p
}

// getRepoResolver returns the GitHub-backed resolver for repository files.
// A missing token is fine for public repositories.
func getRepoResolver() (*source.RepoResolver, error) {
	if repoResolver != nil {
		return repoResolver, nil
	}
	fetcher, err := source.NewGitHubFetcher(source.GitHubConfig{
		Token:   firstNonEmpty(viper.GetString("github.token"), "GITHUB_TOKEN"),
		BaseURL: viper.GetString("github.api_url"),
	})
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	repoResolver = source.NewRepoResolver(fetcher, logger)
	return repoResolver, nil
}

// getService returns the shared review service, building it on first call.
func getService(ctx context.Context) (*review.Service, error) {
	if reviewSvc != nil {
		return reviewSvc, nil
	}

	s, err := getStore()
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := getRepoResolver()
	if err != nil {
		return nil, err
	}

	gate := llm.NewGate(provider, retryPolicy(), viper.GetDuration("retry.attempt_timeout"), logger)

	cfg := review.DefaultConfig()
	cfg.DedupeInFlight = viper.GetBool("review.dedupe_inflight")

	reviewSvc = review.NewService(review.Deps{
		LLM:     gate,
		Cache:   cache.New(s),
		Repo:    repo,
		History: s,
		Logger:  logger,
	}, cfg)

	logger.Debug("review service ready")
	return reviewSvc, nil
}
