package nl2sql

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderOpenAI     = "openai-compatible"
	defaultOpenAIURL   = "https://api.openai.com"
	defaultOpenAIModel = "gpt-4o-mini"
)

type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// ChatClient talks to any OpenAI-compatible chat completions endpoint,
// including DashScope's compatible mode.
type ChatClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	client      *http.Client
}

func NewChatClient(cfg ChatConfig) *ChatClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &ChatClient{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		client:      client,
	}
}

func (c *ChatClient) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, configError(ProviderOpenAI)
	}

	payload := map[string]any{
		"model":       c.model,
		"messages":    promptMessages(prompt),
		"temperature": c.temperature,
	}
	raw, err := postJSON(ctx, c.client, c.timeout, ProviderOpenAI, c.baseURL+"/v1/chat/completions", c.apiKey, payload)
	if err != nil {
		return Completion{}, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Completion{}, &Error{Kind: KindMalformedResponse, Provider: ProviderOpenAI, Message: "decode chat completion response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, &Error{Kind: KindEmptyResponse, Provider: ProviderOpenAI, Message: "no choices in chat completion"}
	}
	content := parsed.Choices[0].Message.Content
	if content == nil {
		return Completion{}, &Error{Kind: KindMalformedResponse, Provider: ProviderOpenAI, Message: "choice has no message content"}
	}
	if strings.TrimSpace(*content) == "" {
		return Completion{}, &Error{Kind: KindEmptyResponse, Provider: ProviderOpenAI, Message: "message content is empty"}
	}
	return Completion{Text: *content, Provider: ProviderOpenAI, Model: c.model}, nil
}
