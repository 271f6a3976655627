// Package llm is the in-process completion service: it retrieves grounding
// examples, prompts the configured backend and runs tolerant extraction over
// the raw model text.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shato-ai/voice-server/internal/extract"
	"github.com/shato-ai/voice-server/internal/llm/backend"
	"github.com/shato-ai/voice-server/internal/retrieval"
)

// DefaultTopK is the number of corpus examples retrieved per chat turn.
const DefaultTopK = 4

// ChatResponse is the full per-turn result, including the raw model text for
// debugging and the retrieval trace.
type ChatResponse struct {
	Input     string             `json:"input"`
	Retrieved []string           `json:"retrieved"`
	LLMOutput extract.ModelReply `json:"llm_output"`
	ModelRaw  string             `json:"model_raw"`
	Error     *string            `json:"error,omitempty"`
}

// Service answers chat turns. A backend failure degrades the turn instead of
// failing it; the caller always gets a well-formed ChatResponse.
type Service struct {
	index     *retrieval.Index
	completer backend.Completer
	topK      int
	logger    *zap.Logger
}

// NewService builds a chat service. topK values below one fall back to
// DefaultTopK.
func NewService(index *retrieval.Index, completer backend.Completer, topK int, logger *zap.Logger) *Service {
	if topK < 1 {
		topK = DefaultTopK
	}
	return &Service{index: index, completer: completer, topK: topK, logger: logger}
}

// Chat runs one completion turn for message.
func (s *Service) Chat(ctx context.Context, message string) ChatResponse {
	retrieved := s.index.TopK(message, s.topK)

	raw, err := s.completer.Complete(ctx, systemPrompt, BuildUserPrompt(retrieved, message))
	if err != nil {
		s.logger.Error("completion backend failed", zap.Error(err))
		detail := fmt.Sprintf("Failed to contact LLM: %v", err)
		errMsg := fmt.Sprintf("LLM request failed: %v", err)
		return ChatResponse{
			Input:     message,
			Retrieved: retrieved,
			LLMOutput: extract.ModelReply{Response: detail},
			ModelRaw:  fmt.Sprintf("Request error: %v", err),
			Error:     &errMsg,
		}
	}

	reply := extract.Extract(raw)
	s.logger.Info("completion turn",
		zap.String("tier", reply.Tier.String()),
		zap.Int("retrieved", len(retrieved)),
		zap.Bool("has_command", reply.Command != nil),
	)

	return ChatResponse{
		Input:     message,
		Retrieved: retrieved,
		LLMOutput: reply,
		ModelRaw:  raw,
	}
}
