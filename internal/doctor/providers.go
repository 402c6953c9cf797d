package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/config"
)

// probeTimeout bounds a single provider connectivity check.
const probeTimeout = 10 * time.Second

// ProbeResult is the outcome of one provider connectivity check.
type ProbeResult struct {
	Provider   string `json:"provider"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProbeOptions override the API endpoint and key, mainly for tests.
type ProbeOptions struct {
	APIKey  string
	BaseURL string
}

// ProbeProvider performs a cheap authenticated call against the named
// provider and reports whether it succeeded. Supported providers are
// "openai" and "anthropic".
func ProbeProvider(ctx context.Context, provider string, opts ProbeOptions) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch provider {
	case "openai":
		return probeOpenAI(ctx, opts)
	case "anthropic":
		return probeAnthropic(ctx, opts)
	default:
		return ProbeResult{Provider: provider, Error: fmt.Sprintf("unknown provider %q", provider)}
	}
}

func probeOpenAI(ctx context.Context, opts ProbeOptions) ProbeResult {
	result := ProbeResult{Provider: "openai"}

	key := opts.APIKey
	if key == "" {
		key = config.Secret("OPENAI_API_KEY")
	}
	if key == "" {
		result.Error = "OPENAI_API_KEY is not set"
		return result
	}

	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	if _, err := client.ListModels(ctx); err != nil {
		result.Error = err.Error()
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			result.StatusCode = apiErr.HTTPStatusCode
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			result.StatusCode = reqErr.HTTPStatusCode
		}
		return result
	}
	result.OK = true
	return result
}

func probeAnthropic(ctx context.Context, opts ProbeOptions) ProbeResult {
	result := ProbeResult{Provider: "anthropic"}

	key := opts.APIKey
	if key == "" {
		key = config.Secret("ANTHROPIC_API_KEY")
	}
	if key == "" {
		result.Error = "ANTHROPIC_API_KEY is not set"
		return result
	}

	options := []option.RequestOption{option.WithAPIKey(key)}
	if opts.BaseURL != "" {
		options = append(options, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(options...)

	if _, err := client.Models.List(ctx, anthropic.ModelListParams{Limit: anthropic.Int(1)}); err != nil {
		result.Error = err.Error()
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			result.StatusCode = apiErr.StatusCode
		}
		return result
	}
	result.OK = true
	return result
}
