package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every call unless the caller's context is tighter.
const DefaultTimeout = 120 * time.Second

// PipelineResult mirrors the orchestrator's aggregated response.
type PipelineResult struct {
	RequestID        string         `json:"request_id"`
	Status           string         `json:"status"`
	Transcription    string         `json:"transcription"`
	LLMOutput        map[string]any `json:"llm_output"`
	ValidationOutput map[string]any `json:"validation_output"`
	TTSAudioBase64   *string        `json:"tts_audio_base64"`
	Error            *string        `json:"error"`
}

// ChatResult mirrors the chat service response.
type ChatResult struct {
	Input     string         `json:"input"`
	Retrieved []string       `json:"retrieved"`
	LLMOutput map[string]any `json:"llm_output"`
	ModelRaw  string         `json:"model_raw"`
	Error     *string        `json:"error"`
}

// HealthResult mirrors the aggregated health response.
type HealthResult struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Stages  map[string]string `json:"stages"`
}

// APIError is a non-2xx server reply.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// Client calls a voice pipeline server.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New builds a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: DefaultTimeout},
	}
}

// ProcessAudio uploads audio and returns the aggregated pipeline result.
func (c *Client) ProcessAudio(ctx context.Context, filename string, audio []byte) (PipelineResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filename)
	if err == nil {
		_, err = part.Write(audio)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		return PipelineResult{}, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process_audio", &buf)
	if err != nil {
		return PipelineResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result PipelineResult
	if err := c.do(req, &result); err != nil {
		return PipelineResult{}, err
	}
	return result, nil
}

// Chat sends one message to the chat service.
func (c *Client) Chat(ctx context.Context, message string) (ChatResult, error) {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return ChatResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return ChatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result ChatResult
	if err := c.do(req, &result); err != nil {
		return ChatResult{}, err
	}
	return result, nil
}

// ExecuteCommand submits a command to the validation service.
func (c *Client) ExecuteCommand(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(map[string]any{"command": name, "command_params": params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute_command", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result map[string]any
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Health returns the server's aggregated stage health.
func (c *Client) Health(ctx context.Context) (HealthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthResult{}, err
	}

	var result HealthResult
	if err := c.do(req, &result); err != nil {
		return HealthResult{}, err
	}
	return result, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
