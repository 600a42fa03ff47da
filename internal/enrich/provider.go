// Package enrich turns post text into topic, tags, summary, sentiment and
// keywords. A model provider is asked first; anything it gets wrong degrades
// to deterministic rules, so analysis never fails.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Provider is a text generation backend.
type Provider interface {
	// Generate sends one request and returns the raw model output.
	Generate(ctx context.Context, req Request) (string, error)
	// Name returns a human-readable provider name (e.g. "ollama/qwen2.5:0.5b").
	Name() string
	// Metered reports whether calls are billed or budgeted per token.
	Metered() bool
}

// Request is a single generation request.
type Request struct {
	System      string
	Prompt      string
	JSON        bool    // constrain output to a JSON object
	Temperature float64 // 0 = deterministic
	MaxTokens   int     // 0 = provider default
	TopP        float64 // 0 = provider default
}

// StatusError is a non-2xx provider answer.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Body)
}

// IsOverQuota reports whether err is a 429 from the provider.
func IsOverQuota(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == 429
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Provider string // "ollama", "openai", "anthropic"
	Model    string
	APIKey   string // empty = read from env
	BaseURL  string
}

// NewProvider creates a provider from cfg.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OLLAMA_API_KEY")
		}
		return newOllama(cfg.BaseURL, cfg.Model, key), nil

	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, eris.New("openai provider requires OPENAI_API_KEY")
		}
		return newOpenAI(cfg.BaseURL, cfg.Model, key), nil

	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, eris.New("anthropic provider requires ANTHROPIC_API_KEY")
		}
		return newAnthropic(cfg.BaseURL, cfg.Model, key), nil

	default:
		return nil, eris.Errorf("unknown provider %q (supported: ollama, openai, anthropic)", cfg.Provider)
	}
}
