package backend

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"
)

// OpenAI completes through the Chat Completions API. The client reads its
// credentials from the environment (OPENAI_API_KEY).
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
	opts   Options
}

// NewOpenAI builds an OpenAI completer for the given chat model name.
func NewOpenAI(model string, opts Options) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(),
		model:  openai.ChatModel(model),
		opts:   opts,
	}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, system string, user string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       o.model,
		Temperature: openai.Float(o.opts.Temperature),
		TopP:        openai.Float(o.opts.TopP),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty message content")
	}
	return content, nil
}
