package nl2sql

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderDashScope     = "dashscope"
	defaultDashScopeURL   = "https://dashscope.aliyuncs.com"
	defaultDashScopeModel = "qwen-max"
	dashScopeGeneratePath = "/api/v1/services/aigc/text-generation/generation"
)

type DashScopeConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// DashScopeClient calls the native DashScope text-generation API.
type DashScopeClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	client      *http.Client
}

func NewDashScopeClient(cfg DashScopeConfig) *DashScopeClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultDashScopeURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultDashScopeModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &DashScopeClient{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		client:      client,
	}
}

func (c *DashScopeClient) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, configError(ProviderDashScope)
	}

	payload := map[string]any{
		"model": c.model,
		"input": map[string]any{
			"messages": promptMessages(prompt),
		},
		"parameters": map[string]any{
			"temperature":   c.temperature,
			"result_format": "text",
		},
	}
	raw, err := postJSON(ctx, c.client, c.timeout, ProviderDashScope, c.baseURL+dashScopeGeneratePath, c.apiKey, payload)
	if err != nil {
		return Completion{}, err
	}

	var parsed struct {
		Output *struct {
			Text    *string `json:"text"`
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"output"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Completion{}, &Error{Kind: KindMalformedResponse, Provider: ProviderDashScope, Message: "decode generation response", Err: err}
	}
	if parsed.Output == nil {
		return Completion{}, &Error{Kind: KindMalformedResponse, Provider: ProviderDashScope, Message: "response has no output"}
	}

	var text string
	switch {
	case parsed.Output.Text != nil:
		text = *parsed.Output.Text
	case len(parsed.Output.Choices) > 0:
		text = parsed.Output.Choices[0].Message.Content
	default:
		return Completion{}, &Error{Kind: KindMalformedResponse, Provider: ProviderDashScope, Message: "output has neither text nor choices"}
	}
	if strings.TrimSpace(text) == "" {
		return Completion{}, &Error{Kind: KindEmptyResponse, Provider: ProviderDashScope, Message: "output text is empty"}
	}
	return Completion{Text: text, Provider: ProviderDashScope, Model: c.model}, nil
}
