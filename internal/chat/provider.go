// Package chat is the OpenAI-compatible completion provider used for
// reasoning, vision description and query embedding.
package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roadbotai/roadbot/internal/faults"
)

// Provider talks to an OpenAI-compatible HTTP API. Safe for concurrent
// use; every task shares one pooled client.
type Provider struct {
	apiKey     string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvider creates a provider for the given API base URL.
func NewProvider(log *slog.Logger, apiBase, apiKey string, timeout time.Duration) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Provider{
		apiKey:     apiKey,
		apiBase:    strings.TrimSuffix(apiBase, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("service", "chat_provider")),
	}
}

// Chat sends a tools-enabled completion request.
func (p *Provider) Chat(ctx context.Context, req Request) (Response, error) {
	body := map[string]any{
		"model":       req.Model,
		"messages":    convertMessages(req.Messages),
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}

	var apiResp completionResponse
	if err := p.post(ctx, "/chat/completions", body, &apiResp); err != nil {
		return Response{}, err
	}
	return parseResponse(&apiResp)
}

// Describe sends raw media bytes as a base64 data URL together with an
// instruction prompt to a vision-capable model and returns the textual
// description.
func (p *Provider) Describe(ctx context.Context, model, mimeType string, data []byte, prompt string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	body := map[string]any{
		"model":       model,
		"temperature": 0,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				},
			},
		},
	}

	var apiResp completionResponse
	if err := p.post(ctx, "/chat/completions", body, &apiResp); err != nil {
		return "", err
	}
	parsed, err := parseResponse(&apiResp)
	if err != nil {
		return "", err
	}
	return parsed.Content, nil
}

// Embed generates an embedding vector for the input text.
func (p *Provider) Embed(ctx context.Context, model, input string) ([]float32, error) {
	body := map[string]any{
		"model": model,
		"input": input,
	}
	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := p.post(ctx, "/embeddings", body, &apiResp); err != nil {
		return nil, err
	}
	if len(apiResp.Data) == 0 {
		return nil, faults.Newf(faults.CodeLLMAPI, "no embedding data in response")
	}
	return apiResp.Data[0].Embedding, nil
}

func (p *Provider) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return faults.New(faults.CodeLLMTimeout, err)
		}
		return faults.New(faults.CodeNetwork, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return faults.New(faults.CodeNetwork, fmt.Errorf("read response: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return faults.Newf(faults.CodeLLMQuota, "provider rate limited: %s", string(respBody))
	case resp.StatusCode != http.StatusOK:
		return faults.Newf(faults.CodeLLMAPI, "API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return faults.New(faults.CodeLLMAPI, fmt.Errorf("parse response: %w", err))
	}
	return nil
}

func convertMessages(messages []Message) []map[string]any {
	result := make([]map[string]any, len(messages))
	for i, msg := range messages {
		m := map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if msg.ToolCallID != "" {
			m["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			toolCalls := make([]map[string]any, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				toolCalls[j] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(args),
					},
				}
			}
			m["tool_calls"] = toolCalls
		}
		result[i] = m
	}
	return result
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func parseResponse(resp *completionResponse) (Response, error) {
	if len(resp.Choices) == 0 {
		return Response{}, faults.Newf(faults.CodeLLMAPI, "no choices in response")
	}

	choice := resp.Choices[0]
	result := Response{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        resp.Usage,
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"raw": tc.Function.Arguments}
			}
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}
