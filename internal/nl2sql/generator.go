package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicsql/clinicsql/internal/config"
)

type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

type Completion struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Generator turns a prompt into raw model text. Implementations return
// *Error for every failure so callers can classify it.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (Completion, error)
}

// NewGenerator builds the configured provider client wrapped in transport
// retries. A missing API key is not an error here; Generate reports it.
func NewGenerator(cfg config.AIConfig, observer AttemptObserver) (Generator, error) {
	var client Generator
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case config.ProviderDashScope:
		client = NewDashScopeClient(DashScopeConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case config.ProviderOpenAI:
		client = NewChatClient(ChatConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}

	return &RetryingGenerator{
		Next:        client,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.RetryBackoff,
		Observer:    observer,
	}, nil
}
