package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
)

// Summariser compresses a slice of conversation messages into a compact
// textual summary, used by [ContextManager] to keep a session within its
// model's context window.
type Summariser interface {
	// Summarise returns a prose summary of messages. Implementations should
	// preserve names, decisions, and outstanding commitments; they may drop
	// small talk and redundant turns.
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

const summarisePrompt = "Summarise the following conversation turns in a few sentences. " +
	"Preserve names, facts, and any commitments made. Do not add commentary."

// LLMSummariser implements [Summariser] by asking an [llm.Provider] to
// condense the messages in a single non-streaming completion.
type LLMSummariser struct {
	provider llm.Provider
}

// NewLLMSummariser returns a [Summariser] backed by provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{provider: provider}
}

// Summarise implements [Summariser].
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisePrompt,
		Messages: []llm.Message{
			{Role: "user", Content: transcript.String()},
		},
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err != nil {
		return "", fmt.Errorf("session: summarise: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
