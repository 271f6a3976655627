// Package stage wraps the four external pipeline services behind typed
// clients with bounded timeouts and classified errors. There is no automatic
// retry below the orchestrator call boundary except the configured bounded
// retry for connection-level failures.
package stage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Default per-stage call budgets.
const (
	TranscribeTimeout = 60 * time.Second
	ChatTimeout       = 60 * time.Second
	ValidateTimeout   = 30 * time.Second
	SpeakTimeout      = 30 * time.Second

	healthTimeout = 5 * time.Second
)

// RetryPolicy bounds the orchestrator-to-stage retry. Only connection-level
// failures are retried; timeouts and 4xx rejections are not.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Endpoints holds the full URL of each stage operation.
type Endpoints struct {
	STT       string
	LLM       string
	Validator string
	TTS       string
}

// Clients is the set of stage clients sharing one transport and retry policy.
type Clients struct {
	endpoints Endpoints
	retry     RetryPolicy
	hc        *http.Client
	logger    *zap.Logger
}

// NewClients builds stage clients. The underlying http.Client carries no
// global timeout; each call applies its own stage budget through the context.
func NewClients(endpoints Endpoints, retry RetryPolicy, logger *zap.Logger) *Clients {
	return &Clients{
		endpoints: endpoints,
		retry:     retry,
		hc:        &http.Client{},
		logger:    logger,
	}
}

// ChatResult is the completion stage's partial result wrapper.
type ChatResult struct {
	LLMOutput map[string]any
	ModelRaw  string
	Retrieved []string
	Err       string
}

// ValidationResult is the validation stage's partial result wrapper. A 400
// rejection lands here as Err plus the decoded error body, not as a hard
// stage failure.
type ValidationResult struct {
	Data map[string]any
	Err  string
}

// Transcribe sends audio to the STT service and returns the transcription.
// Both the "text" and "transcribed_text" response fields are accepted.
func (c *Clients) Transcribe(ctx context.Context, filename string, audio []byte) (string, *Error) {
	body, err := c.postMultipart(ctx, "stt", c.endpoints.STT, filename, audio, TranscribeTimeout)
	if err != nil {
		return "", err
	}

	var payload struct {
		Text            string `json:"text"`
		TranscribedText string `json:"transcribed_text"`
		Error           string `json:"error"`
	}
	if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil {
		return "", &Error{Stage: "stt", Kind: ErrKindMalformed, Err: decodeErr}
	}

	text := payload.Text
	if text == "" {
		text = payload.TranscribedText
	}
	return text, nil
}

// Chat sends the transcription to the completion service.
func (c *Clients) Chat(ctx context.Context, message string) (ChatResult, *Error) {
	body, err := c.postJSON(ctx, "llm", c.endpoints.LLM, map[string]any{"message": message}, ChatTimeout)
	if err != nil {
		return ChatResult{}, err
	}

	var payload struct {
		LLMOutput map[string]any `json:"llm_output"`
		ModelRaw  string         `json:"model_raw"`
		Retrieved []string       `json:"retrieved"`
		Error     *string        `json:"error"`
	}
	if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil {
		return ChatResult{}, &Error{Stage: "llm", Kind: ErrKindMalformed, Err: decodeErr}
	}

	result := ChatResult{
		LLMOutput: payload.LLMOutput,
		ModelRaw:  payload.ModelRaw,
		Retrieved: payload.Retrieved,
	}
	if payload.Error != nil {
		result.Err = *payload.Error
	}
	return result, nil
}

// ExecuteCommand sends a candidate command to the validator service. A 400
// response is decoded into the result; other failures return a stage error.
func (c *Clients) ExecuteCommand(ctx context.Context, name string, params map[string]any) (ValidationResult, *Error) {
	payload := map[string]any{"command": name, "command_params": params}
	body, err := c.postJSON(ctx, "validator", c.endpoints.Validator, payload, ValidateTimeout)
	if err != nil {
		if err.Kind == ErrKindBadStatus && err.Status >= 400 && err.Status < 500 {
			return ValidationResult{Data: decodeLoose(err.Body), Err: err.Error()}, nil
		}
		return ValidationResult{}, err
	}

	data := decodeLoose(string(body))
	if data == nil {
		return ValidationResult{}, &Error{Stage: "validator", Kind: ErrKindMalformed, Err: io.ErrUnexpectedEOF}
	}
	return ValidationResult{Data: data}, nil
}

// Speak renders text to audio. The TTS service may answer with raw audio
// bytes or a JSON envelope carrying base64 audio.
func (c *Clients) Speak(ctx context.Context, text string, voice string) ([]byte, *Error) {
	payload := map[string]any{"text": text, "voice": voice}
	body, contentType, err := c.postJSONRaw(ctx, "tts", c.endpoints.TTS, payload, SpeakTimeout)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(contentType, "audio/") || strings.HasPrefix(contentType, "application/octet-stream") {
		return body, nil
	}

	var envelope struct {
		AudioBase64 string `json:"audio_base64"`
		AudioData   string `json:"audio_data"`
	}
	if decodeErr := json.Unmarshal(body, &envelope); decodeErr != nil {
		return nil, &Error{Stage: "tts", Kind: ErrKindMalformed, Err: decodeErr}
	}
	encoded := envelope.AudioBase64
	if encoded == "" {
		encoded = envelope.AudioData
	}
	audio, decodeErr := base64.StdEncoding.DecodeString(encoded)
	if decodeErr != nil {
		return nil, &Error{Stage: "tts", Kind: ErrKindMalformed, Err: decodeErr}
	}
	return audio, nil
}

// Ping probes the /health endpoint of the service behind endpoint and
// returns "healthy", "unhealthy" or "unreachable".
func (c *Clients) Ping(ctx context.Context, endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "unreachable"
	}
	parsed.Path = "/health"
	parsed.RawQuery = ""

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "unreachable"
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "unreachable"
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return "healthy"
	}
	return "unhealthy"
}

func (c *Clients) postJSON(ctx context.Context, stageName string, endpoint string, payload any, timeout time.Duration) ([]byte, *Error) {
	body, _, err := c.postJSONRaw(ctx, stageName, endpoint, payload, timeout)
	return body, err
}

func (c *Clients) postJSONRaw(ctx context.Context, stageName string, endpoint string, payload any, timeout time.Duration) ([]byte, string, *Error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, "", &Error{Stage: stageName, Kind: ErrKindMalformed, Err: err}
	}

	var (
		respBody    []byte
		contentType string
	)
	stageErr := c.withRetry(ctx, stageName, func(callCtx context.Context) *Error {
		req, reqErr := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(encoded))
		if reqErr != nil {
			return &Error{Stage: stageName, Kind: ErrKindUnreachable, Err: reqErr}
		}
		req.Header.Set("Content-Type", "application/json")

		body, ct, callErr := c.do(stageName, req)
		if callErr != nil {
			return callErr
		}
		respBody, contentType = body, ct
		return nil
	}, timeout)
	if stageErr != nil {
		return nil, "", stageErr
	}
	return respBody, contentType, nil
}

func (c *Clients) postMultipart(ctx context.Context, stageName string, endpoint string, filename string, data []byte, timeout time.Duration) ([]byte, *Error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		return nil, &Error{Stage: stageName, Kind: ErrKindMalformed, Err: err}
	}

	var respBody []byte
	stageErr := c.withRetry(ctx, stageName, func(callCtx context.Context) *Error {
		req, reqErr := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
		if reqErr != nil {
			return &Error{Stage: stageName, Kind: ErrKindUnreachable, Err: reqErr}
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		body, _, callErr := c.do(stageName, req)
		if callErr != nil {
			return callErr
		}
		respBody = body
		return nil
	}, timeout)
	if stageErr != nil {
		return nil, stageErr
	}
	return respBody, nil
}

func (c *Clients) do(stageName string, req *http.Request) ([]byte, string, *Error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", classifyTransport(stageName, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, "", &Error{Stage: stageName, Kind: ErrKindMalformed, Err: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &Error{
			Stage:  stageName,
			Kind:   ErrKindBadStatus,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// withRetry runs call with the stage budget, repeating only on
// connection-level failures up to the configured attempt count.
func (c *Clients) withRetry(ctx context.Context, stageName string, call func(context.Context) *Error, timeout time.Duration) *Error {
	attempts := c.retry.attempts()
	var lastErr *Error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if err.Kind != ErrKindUnreachable {
			return err
		}
		if attempt < attempts {
			c.logger.Warn("stage call failed; retrying",
				zap.String("stage", stageName),
				zap.Int("attempt", attempt),
				zap.Duration("delay", c.retry.Delay),
				zap.Error(err),
			)
			select {
			case <-time.After(c.retry.Delay):
			case <-ctx.Done():
				return lastErr
			}
		}
	}
	return lastErr
}

func decodeLoose(body string) map[string]any {
	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return nil
	}
	return data
}
