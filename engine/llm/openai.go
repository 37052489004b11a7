package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIGateway is a Gateway over any OpenAI-compatible chat completions
// endpoint. It carries no retry logic; the engine's own bounds decide how a
// failed call is handled.
type OpenAIGateway struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// NewOpenAIGateway creates a gateway for the given endpoint and model.
func NewOpenAIGateway(baseURL, apiKey, model string) *OpenAIGateway {
	return &OpenAIGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Gateway.
func (g *OpenAIGateway) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	payload := chatRequest{
		Model:       g.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode completion response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, msg)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("completion response contained no choices")
	}

	return &Completion{
		Content: decoded.Choices[0].Message.Content,
		Usage: Usage{
			TokensIn:  decoded.Usage.PromptTokens,
			TokensOut: decoded.Usage.CompletionTokens,
		},
	}, nil
}

var _ Gateway = (*OpenAIGateway)(nil)
