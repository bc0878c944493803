package language

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

// ServiceError is a non-2xx answer from the completion endpoint.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion http %d: %s", e.StatusCode, e.Body)
}

// OpenAI is a Completer for OpenAI-compatible /chat/completions endpoints.
type OpenAI struct {
	base   string
	apiKey string
	model  string
	http   *http.Client
}

func NewOpenAI(base, apiKey, model string, timeout time.Duration) *OpenAI {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{Timeout: timeout},
	}
}

func (o *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	b, err := json.Marshal(map[string]any{
		"model":    o.model,
		"messages": messages,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &ServiceError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var cr struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("completion has no choices")
	}
	return cr.Choices[0].Message.Content, nil
}
