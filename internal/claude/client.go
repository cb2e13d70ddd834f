// Package claude is the completion-service client: it forwards a note's
// prompt to the Anthropic Messages API and returns the reply text.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	defaultTimeout = 60 * time.Second
)

// ServiceError carries the human-readable reason a completion call failed.
// The navigation machine writes its message into the note in place of the
// reply, so failures surface to the end user instead of vanishing in a log.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion service: %d %s", e.StatusCode, e.Message)
	}
	return "completion service: " + e.Message
}

// Client calls the Messages API. API keys are per user and passed per call;
// model, token budget, and system prompt are process-wide configuration.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	model        string
	maxTokens    int
	systemPrompt string
}

// New creates a Client for the given model.
func New(model string, maxTokens int, systemPrompt string) *Client {
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	return &Client{
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		model:        model,
		maxTokens:    maxTokens,
		systemPrompt: systemPrompt,
	}
}

// NewWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewWithBaseURL(model string, maxTokens int, systemPrompt, baseURL string) *Client {
	c := New(model, maxTokens, systemPrompt)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
	System    string    `json:"system,omitempty"`
}

type completionResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends the prompt and returns the reply text. Non-2xx responses
// and malformed payloads come back as *ServiceError.
func (c *Client) Complete(ctx context.Context, prompt, apiKey string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
		System:    c.systemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ServiceError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &ServiceError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(detail)),
		}
	}

	var result completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ServiceError{Message: "malformed response: " + err.Error()}
	}
	if len(result.Content) == 0 || result.Content[0].Text == "" {
		return "", &ServiceError{Message: "response contained no text content"}
	}
	return result.Content[0].Text, nil
}
