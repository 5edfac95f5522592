package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const openaiBaseURL = "https://api.openai.com/v1"

type openaiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type openaiRequest struct {
	Model          string              `json:"model"`
	Messages       []openaiMessage     `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *openaiResponseType `json:"response_format,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponseType struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *openaiProvider) name() string {
	return "openai"
}

func (p *openaiProvider) complete(ctx context.Context, c completion) (string, error) {
	reqBody := openaiRequest{
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Messages: []openaiMessage{
			{Role: "system", Content: c.System},
			{Role: "user", Content: c.User},
		},
	}

	if c.JSON {
		reqBody.ResponseFormat = &openaiResponseType{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
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

	var or openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}

	if or.Error != nil {
		return "", errors.New(or.Error.Message)
	}

	if len(or.Choices) == 0 {
		return "", errors.New("empty openai response")
	}

	return or.Choices[0].Message.Content, nil
}

// upstreamMessage extracts {"error":{"message"}} from an error body, or returns it raw.
func upstreamMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}

	return string(bytes.TrimSpace(body))
}
