package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RedPillProvider talks to an OpenAI-compatible /chat/completions endpoint.
type RedPillProvider struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

type completionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionReq struct {
	Model       string          `json:"model"`
	Messages    []completionMsg `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	N           int             `json:"n"`
	Stream      bool            `json:"stream"`
}

type completionResp struct {
	Choices []struct {
		Message completionMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewRedPillProvider(endpoint, apiKey, model string) *RedPillProvider {
	if endpoint == "" {
		endpoint = "https://api.red-pill.ai/v1/chat/completions"
	}
	return &RedPillProvider{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Model:    model,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *RedPillProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", errors.New("redpill: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("redpill: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", errors.New("redpill: model is required")
	}

	reqBody := completionReq{
		Model:       model,
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
		N:           1,
		Stream:      false,
		Messages:    make([]completionMsg, 0, len(messages)),
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, completionMsg{Role: m.Role, Content: m.Content})
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &StatusError{Provider: "redpill", Status: resp.StatusCode, Body: msg}
	}

	var decoded completionResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("redpill: decode: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New("redpill: " + decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("redpill: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// StatusError is a non-200 answer from an upstream model API.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: API Error: %d - %s", e.Provider, e.Status, e.Body)
}
