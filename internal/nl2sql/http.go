package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 4 << 20

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func promptMessages(prompt Prompt) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: prompt.System},
		{Role: "user", Content: prompt.User},
	}
}

// postJSON sends payload and returns the raw response body of a 2xx reply.
// Non-2xx replies become transport errors carrying the status code.
func postJSON(ctx context.Context, client *http.Client, timeout time.Duration, provider, url, apiKey string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Provider: provider, Message: "marshal request payload", Err: err}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Provider: provider, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyRequestError(provider, fmt.Errorf("request completion: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyRequestError(provider, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:       KindTransport,
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(rawRespBody),
		}
	}
	if len(bytes.TrimSpace(rawRespBody)) == 0 {
		return nil, &Error{Kind: KindEmptyResponse, Provider: provider, Message: "response body is empty"}
	}
	return rawRespBody, nil
}

// upstreamMessage pulls a readable message out of a provider error body.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Error != nil && parsed.Error.Message != "":
			return parsed.Error.Message
		case parsed.Message != "":
			if parsed.Code != nil {
				return fmt.Sprintf("%v: %s", parsed.Code, parsed.Message)
			}
			return parsed.Message
		}
	}
	text := string(bytes.TrimSpace(body))
	if len(text) > 512 {
		text = text[:512]
	}
	if text == "" {
		return "upstream request failed"
	}
	return text
}
