package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const claudeBaseURL = "https://api.anthropic.com/v1"

type claudeProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Temperature float64         `json:"temperature"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *claudeProvider) name() string {
	return "claude"
}

func (p *claudeProvider) complete(ctx context.Context, c completion) (string, error) {
	maxTokens := c.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	body, err := json.Marshal(claudeRequest{
		Model:       c.Model,
		MaxTokens:   maxTokens,
		System:      c.System,
		Temperature: c.Temperature,
		Messages:    []claudeMessage{{Role: "user", Content: c.User}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return "", &AnalysisError{
			Provider:   p.name(),
			Model:      c.Model,
			StatusCode: resp.StatusCode,
			Err:        errors.New(upstreamMessage(b)),
		}
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode claude response: %w", err)
	}

	var sb strings.Builder

	for _, block := range cr.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if sb.Len() == 0 {
		return "", errors.New("empty claude response")
	}

	return sb.String(), nil
}
