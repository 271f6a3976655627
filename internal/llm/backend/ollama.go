package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama talks to a local Ollama daemon through its /api/generate endpoint
// with streaming disabled.
type Ollama struct {
	baseURL string
	model   string
	opts    Options
	hc      *http.Client
}

// NewOllama builds an Ollama completer. baseURL is the daemon root, for
// example http://localhost:11434.
func NewOllama(baseURL string, model string, opts Options) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		opts:    opts,
		hc:      &http.Client{},
	}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Complete implements Completer. The system prompt and user message are
// joined into a single generate prompt, matching how the daemon treats
// non-chat completions.
func (o *Ollama) Complete(ctx context.Context, system string, user string) (string, error) {
	payload := ollamaRequest{
		Model:  o.model,
		Prompt: system + "\n\nUser: " + user + "\nAssistant:",
		Stream: false,
		Options: map[string]any{
			"temperature": o.opts.Temperature,
			"top_p":       o.opts.TopP,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded ollamaResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("ollama error: %s", decoded.Error)
	}
	return decoded.Response, nil
}
