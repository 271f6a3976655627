// Package pipeline runs one voice request through its stages in strict order:
// transcription, completion, validation, synthesis. Only a failed or empty
// transcription aborts a run; every later failure is recorded and the pipeline
// continues with its best partial result.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shato-ai/voice-server/internal/stage"
)

// fallbackUtterance is spoken when neither the validator nor the model
// produced any usable text.
const fallbackUtterance = "Request processed."

// StageCaller is the stage client surface the orchestrator depends on.
type StageCaller interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, *stage.Error)
	Chat(ctx context.Context, message string) (stage.ChatResult, *stage.Error)
	ExecuteCommand(ctx context.Context, name string, params map[string]any) (stage.ValidationResult, *stage.Error)
	Speak(ctx context.Context, text string, voice string) ([]byte, *stage.Error)
}

// Options toggle the soft stages and select the synthesis voice.
type Options struct {
	ValidatorEnabled bool
	TTSEnabled       bool
	Voice            string
}

// Response is the aggregated pipeline result. Error is nil only when every
// stage succeeded; a degraded run still carries transcription and an
// utterance.
type Response struct {
	RequestID        string         `json:"request_id"`
	Status           string         `json:"status"`
	Transcription    string         `json:"transcription"`
	LLMOutput        map[string]any `json:"llm_output"`
	ValidationOutput map[string]any `json:"validation_output"`
	TTSAudioBase64   *string        `json:"tts_audio_base64"`
	Error            *string        `json:"error"`
}

// HardError aborts a run before any useful work was done. The transport layer
// maps it to a 502.
type HardError struct {
	Stage string
	Err   error
}

func (e *HardError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *HardError) Unwrap() error {
	return e.Err
}

// Orchestrator drives the stage sequence. It holds no per-request state, so
// one instance serves concurrent requests.
type Orchestrator struct {
	stages StageCaller
	opts   Options
	sinks  []Sink
	logger *zap.Logger
}

// New builds an orchestrator publishing stage events to sinks.
func New(stages StageCaller, opts Options, logger *zap.Logger, sinks ...Sink) *Orchestrator {
	return &Orchestrator{stages: stages, opts: opts, sinks: sinks, logger: logger}
}

// Run processes one audio upload end to end.
func (o *Orchestrator) Run(ctx context.Context, filename string, audio []byte) (Response, *HardError) {
	requestID := uuid.NewString()
	log := o.logger.With(zap.String("request_id", requestID))
	log.Info("pipeline started", zap.String("filename", filename), zap.Int("audio_bytes", len(audio)))

	o.emit(requestID, "stt", StateStarted, "")
	transcription, sttErr := o.stages.Transcribe(ctx, filename, audio)
	if sttErr != nil {
		o.emit(requestID, "stt", StateFailed, sttErr.Error())
		log.Error("transcription failed", zap.Error(sttErr))
		return Response{}, &HardError{Stage: "STT", Err: sttErr}
	}
	if strings.TrimSpace(transcription) == "" {
		o.emit(requestID, "stt", StateFailed, "empty transcription")
		log.Error("transcription empty")
		return Response{}, &HardError{Stage: "STT", Err: fmt.Errorf("no transcription text returned")}
	}
	o.emit(requestID, "stt", StateOK, transcription)

	var stageErrs []string

	o.emit(requestID, "llm", StateStarted, "")
	var llmOutput map[string]any
	chatResult, llmErr := o.stages.Chat(ctx, transcription)
	switch {
	case llmErr != nil:
		stageErrs = append(stageErrs, "LLM: "+llmErr.Error())
		o.emit(requestID, "llm", StateFailed, llmErr.Error())
		log.Warn("completion failed", zap.Error(llmErr))
	case chatResult.Err != "":
		llmOutput = chatResult.LLMOutput
		stageErrs = append(stageErrs, "LLM: "+chatResult.Err)
		o.emit(requestID, "llm", StateFailed, chatResult.Err)
		log.Warn("completion degraded", zap.String("error", chatResult.Err))
	default:
		llmOutput = chatResult.LLMOutput
		o.emit(requestID, "llm", StateOK, "")
	}

	commandName, commandParams := extractCommand(llmOutput)

	var (
		validationOutput map[string]any
		validationErr    string
	)
	switch {
	case !o.opts.ValidatorEnabled:
		validationOutput = map[string]any{"status": "skipped", "reason": "validator disabled"}
		o.emit(requestID, "validator", StateSkipped, "validator disabled")
	case commandName == "":
		validationOutput = map[string]any{"status": "skipped", "reason": "no command to validate"}
		o.emit(requestID, "validator", StateSkipped, "no command")
	default:
		o.emit(requestID, "validator", StateStarted, commandName)
		result, valErr := o.stages.ExecuteCommand(ctx, commandName, commandParams)
		switch {
		case valErr != nil:
			stageErrs = append(stageErrs, "Validator: "+valErr.Error())
			o.emit(requestID, "validator", StateFailed, valErr.Error())
			log.Warn("validation failed", zap.String("command", commandName), zap.Error(valErr))
		case result.Err != "":
			validationOutput = result.Data
			validationErr = result.Err
			stageErrs = append(stageErrs, "Validator: "+result.Err)
			o.emit(requestID, "validator", StateFailed, result.Err)
			log.Warn("command rejected", zap.String("command", commandName), zap.String("reason", result.Err))
		default:
			validationOutput = result.Data
			o.emit(requestID, "validator", StateOK, commandName)
		}
	}

	utterance := chooseUtterance(validationOutput, validationErr, llmOutput)

	var audioBase64 *string
	switch {
	case !o.opts.TTSEnabled:
		o.emit(requestID, "tts", StateSkipped, "tts disabled")
	default:
		o.emit(requestID, "tts", StateStarted, "")
		speech, ttsErr := o.stages.Speak(ctx, utterance, o.opts.Voice)
		if ttsErr != nil {
			stageErrs = append(stageErrs, "TTS: "+ttsErr.Error())
			o.emit(requestID, "tts", StateFailed, ttsErr.Error())
			log.Warn("synthesis failed", zap.Error(ttsErr))
		} else {
			encoded := base64.StdEncoding.EncodeToString(speech)
			audioBase64 = &encoded
			o.emit(requestID, "tts", StateOK, "")
		}
	}

	response := Response{
		RequestID:        requestID,
		Status:           "success",
		Transcription:    transcription,
		LLMOutput:        llmOutput,
		ValidationOutput: validationOutput,
		TTSAudioBase64:   audioBase64,
	}
	if len(stageErrs) > 0 {
		joined := strings.Join(stageErrs, "; ")
		response.Status = "degraded"
		response.Error = &joined
	}

	log.Info("pipeline finished",
		zap.String("status", response.Status),
		zap.Int("stage_errors", len(stageErrs)),
	)
	return response, nil
}

// extractCommand pulls the candidate command out of the completion output.
func extractCommand(llmOutput map[string]any) (string, map[string]any) {
	if llmOutput == nil {
		return "", nil
	}
	name, _ := llmOutput["command"].(string)
	params, _ := llmOutput["command_params"].(map[string]any)
	return name, params
}

// chooseUtterance picks the text to synthesize. Validator output outranks the
// model's text; a fixed fallback guarantees something is always spoken.
func chooseUtterance(validation map[string]any, validationErr string, llmOutput map[string]any) string {
	if validation != nil && validation["status"] != "skipped" {
		if data, ok := validation["data"].(map[string]any); ok {
			if msg, ok := data["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := validation["message"].(string); ok && msg != "" {
			return msg
		}
		if resp, ok := validation["response"].(string); ok && resp != "" {
			return resp
		}
		if validation["status"] == "success" {
			if name, ok := validation["command"].(string); ok && name != "" {
				return fmt.Sprintf("Command %s executed successfully.", name)
			}
			return "Command executed successfully."
		}
		if reason, ok := validation["reason"].(string); ok && reason != "" {
			return reason
		}
		if detail, ok := validation["detail"].(string); ok && detail != "" {
			return detail
		}
	}
	if validationErr != "" {
		return "Command validation failed."
	}
	if llmOutput != nil {
		if resp, ok := llmOutput["response"].(string); ok && resp != "" {
			return resp
		}
		if msg, ok := llmOutput["message"].(string); ok && msg != "" {
			return msg
		}
		if text, ok := llmOutput["text"].(string); ok && text != "" {
			return text
		}
	}
	return fallbackUtterance
}
