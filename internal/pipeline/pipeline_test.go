package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/shato-ai/voice-server/internal/stage"
)

type fakeStages struct {
	transcription string
	sttErr        *stage.Error

	chatResult stage.ChatResult
	chatErr    *stage.Error

	valResult stage.ValidationResult
	valErr    *stage.Error

	speech []byte
	ttsErr *stage.Error

	chatCalls  int
	valCalls   int
	speakCalls int
	spokenText string
}

func (f *fakeStages) Transcribe(context.Context, string, []byte) (string, *stage.Error) {
	return f.transcription, f.sttErr
}

func (f *fakeStages) Chat(context.Context, string) (stage.ChatResult, *stage.Error) {
	f.chatCalls++
	return f.chatResult, f.chatErr
}

func (f *fakeStages) ExecuteCommand(context.Context, string, map[string]any) (stage.ValidationResult, *stage.Error) {
	f.valCalls++
	return f.valResult, f.valErr
}

func (f *fakeStages) Speak(_ context.Context, text string, _ string) ([]byte, *stage.Error) {
	f.speakCalls++
	f.spokenText = text
	return f.speech, f.ttsErr
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func allEnabled() Options {
	return Options{ValidatorEnabled: true, TTSEnabled: true, Voice: "af_heart"}
}

func TestRunFullSuccess(t *testing.T) {
	stages := &fakeStages{
		transcription: "go to the kitchen",
		chatResult: stage.ChatResult{
			LLMOutput: map[string]any{
				"response":       "Moving to the kitchen.",
				"command":        "move_to",
				"command_params": map[string]any{"x": 4.0, "y": 2.0},
			},
		},
		valResult: stage.ValidationResult{Data: map[string]any{
			"status": "success",
			"data": map[string]any{
				"command": "move_to",
				"message": "Command 'move_to' validated successfully",
			},
		}},
		speech: []byte("RIFFaudio"),
	}

	orch := New(stages, allEnabled(), zap.NewNop())
	resp, hardErr := orch.Run(context.Background(), "in.wav", []byte("RIFF"))
	if hardErr != nil {
		t.Fatalf("Run returned hard error: %v", hardErr)
	}
	if resp.Status != "success" || resp.Error != nil {
		t.Fatalf("status=%q error=%v, want clean success", resp.Status, resp.Error)
	}
	if resp.RequestID == "" {
		t.Fatal("request_id empty")
	}
	if resp.Transcription != "go to the kitchen" {
		t.Fatalf("transcription=%q", resp.Transcription)
	}
	if stages.spokenText != "Command 'move_to' validated successfully" {
		t.Fatalf("spoken=%q, want the validator message", stages.spokenText)
	}
	want := base64.StdEncoding.EncodeToString([]byte("RIFFaudio"))
	if resp.TTSAudioBase64 == nil || *resp.TTSAudioBase64 != want {
		t.Fatalf("tts_audio_base64=%v", resp.TTSAudioBase64)
	}
}

func TestRunEmptyTranscriptionIsHard(t *testing.T) {
	stages := &fakeStages{transcription: "   "}

	orch := New(stages, allEnabled(), zap.NewNop())
	_, hardErr := orch.Run(context.Background(), "in.wav", []byte("RIFF"))
	if hardErr == nil || hardErr.Stage != "STT" {
		t.Fatalf("hardErr=%v, want STT hard failure", hardErr)
	}
	if stages.chatCalls != 0 || stages.valCalls != 0 || stages.speakCalls != 0 {
		t.Fatalf("downstream stages ran after hard failure: %+v", stages)
	}
}

func TestRunTranscriptionErrorIsHard(t *testing.T) {
	stages := &fakeStages{sttErr: &stage.Error{Stage: "stt", Kind: stage.ErrKindUnreachable, Err: errors.New("refused")}}

	orch := New(stages, allEnabled(), zap.NewNop())
	_, hardErr := orch.Run(context.Background(), "in.wav", []byte("RIFF"))
	if hardErr == nil || hardErr.Stage != "STT" {
		t.Fatalf("hardErr=%v, want STT hard failure", hardErr)
	}
}

func TestRunNoCommandSkipsValidation(t *testing.T) {
	stages := &fakeStages{
		transcription: "how are you",
		chatResult: stage.ChatResult{
			LLMOutput: map[string]any{"response": "I am fine, thank you."},
		},
		speech: []byte("audio"),
	}

	orch := New(stages, allEnabled(), zap.NewNop())
	resp, hardErr := orch.Run(context.Background(), "in.wav", []byte("RIFF"))
	if hardErr != nil {
		t.Fatalf("Run returned hard error: %v", hardErr)
	}
	if stages.valCalls != 0 {
		t.Fatal("validator called without a command")
	}
	if resp.ValidationOutput["status"] != "skipped" {
		t.Fatalf("validation_output=%v, want skipped marker", resp.ValidationOutput)
	}
	if stages.spokenText != "I am fine, thank you." {
		t.Fatalf("spoken=%q, want the model response", stages.spokenText)
	}
	if resp.Status != "success" || resp.Error != nil {
		t.Fatalf("status=%q error=%v", resp.Status, resp.Error)
	}
}

func TestRunRejectedCommandIsSoft(t *testing.T) {
	stages := &fakeStages{
		transcription: "rotate sideways",
		chatResult: stage.ChatResult{
			LLMOutput: map[string]any{
				"response":       "Rotating.",
				"command":        "rotate",
				"command_params": map[string]any{"angle": 90.0, "direction": "sideways"},
			},
		},
		valResult: stage.ValidationResult{
			Data: map[string]any{"status": "error", "reason": "invalid direction"},
			Err:  "validator service returned 400",
		},
		speech: []byte("audio"),
	}

	orch := New(stages, allEnabled(), zap.NewNop())
	resp, hardErr := orch.Run(context.Background(), "in.wav", []byte("RIFF"))
	if hardErr != nil {
		t.Fatalf("Run returned hard error: %v", hardErr)
	}
	if resp.Status != "degraded" || resp.Error == nil {
		t.Fatalf("status=%q error=%v, want degraded with error", resp.Status, resp.Error)
	}
	if !strings.Contains(*resp.Error, "Validator:") {
		t.Fatalf("error=%q, want Validator prefix", *resp.Error)
	}
	if stages.speakCalls != 1 {
		t.Fatal("synthesis skipped after soft validation failure")
	}
	if stages.spokenText != "invalid direction" {
		t.Fatalf("spoken=%q, want the rejection reason", stages.spokenText)
	}
}

func TestRunCombinesStageErrors(t *testing.T) {
	stages := &fakeStages{
		transcription: "go somewhere",
		chatErr:       &stage.Error{Stage: "llm", Kind: stage.ErrKindUnreachable, Err: errors.New("refused")},
		ttsErr:        &stage.Error{Stage: "tts", Kind: stage.ErrKindTimeout, Err: errors.New("deadline")},
	}

	orch := New(stages, allEnabled(), zap.NewNop())
	resp, hardErr := orch.Run(context.Background(), "in.wav", []byte("RIFF"))
	if hardErr != nil {
		t.Fatalf("Run returned hard error: %v", hardErr)
	}
	if resp.Error == nil {
		t.Fatal("error=nil, want combined stage errors")
	}
	parts := strings.Split(*resp.Error, "; ")
	if len(parts) != 2 {
		t.Fatalf("error=%q, want two joined parts", *resp.Error)
	}
	if !strings.HasPrefix(parts[0], "LLM:") || !strings.HasPrefix(parts[1], "TTS:") {
		t.Fatalf("error=%q, want LLM then TTS prefixes", *resp.Error)
	}
	if stages.valCalls != 0 {
		t.Fatal("validator called with no completion output")
	}
	if resp.TTSAudioBase64 != nil {
		t.Fatalf("tts_audio_base64=%v, want nil after synthesis failure", resp.TTSAudioBase64)
	}
	if stages.spokenText != fallbackUtterance {
		t.Fatalf("spoken=%q, want fixed fallback", stages.spokenText)
	}
}

func TestRunDisabledStages(t *testing.T) {
	stages := &fakeStages{
		transcription: "go to the kitchen",
		chatResult: stage.ChatResult{
			LLMOutput: map[string]any{
				"response":       "Moving.",
				"command":        "move_to",
				"command_params": map[string]any{"x": 1.0, "y": 1.0},
			},
		},
	}

	orch := New(stages, Options{}, zap.NewNop())
	resp, hardErr := orch.Run(context.Background(), "in.wav", []byte("RIFF"))
	if hardErr != nil {
		t.Fatalf("Run returned hard error: %v", hardErr)
	}
	if stages.valCalls != 0 || stages.speakCalls != 0 {
		t.Fatalf("disabled stages ran: %+v", stages)
	}
	if resp.Status != "success" || resp.TTSAudioBase64 != nil {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestRunPublishesStageEvents(t *testing.T) {
	stages := &fakeStages{
		transcription: "hello",
		chatResult:    stage.ChatResult{LLMOutput: map[string]any{"response": "hi"}},
		speech:        []byte("audio"),
	}
	sink := &recordingSink{}

	orch := New(stages, allEnabled(), zap.NewNop(), sink)
	resp, hardErr := orch.Run(context.Background(), "in.wav", []byte("RIFF"))
	if hardErr != nil {
		t.Fatalf("Run returned hard error: %v", hardErr)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) == 0 {
		t.Fatal("no events published")
	}
	seen := map[string]bool{}
	for _, event := range sink.events {
		if event.Type != "pipeline-event" {
			t.Fatalf("event type=%q", event.Type)
		}
		if event.RequestID != resp.RequestID {
			t.Fatalf("event request_id=%q, want %q", event.RequestID, resp.RequestID)
		}
		seen[event.Stage+"/"+event.State] = true
	}
	for _, want := range []string{"stt/ok", "llm/ok", "validator/skipped", "tts/ok"} {
		if !seen[want] {
			t.Fatalf("missing event %s in %v", want, sink.events)
		}
	}
}
