package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
)

// stubCompleteProvider is a test double for llm.Provider that only needs
// Complete to return a canned response or error.
type stubCompleteProvider struct {
	resp    *llm.CompletionResponse
	err     error
	lastReq llm.CompletionRequest
	calls   int
}

func (p *stubCompleteProvider) StreamCompletion(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (p *stubCompleteProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

func (p *stubCompleteProvider) CountTokens(_ []llm.Message) (int, error) { return 0, nil }

func (p *stubCompleteProvider) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }

func TestLLMSummariser_EmptyMessagesShortCircuits(t *testing.T) {
	p := &stubCompleteProvider{}
	s := NewLLMSummariser(p)

	got, err := s.Summarise(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
	if p.calls != 0 {
		t.Errorf("expected no provider calls, got %d", p.calls)
	}
}

func TestLLMSummariser_Summarise(t *testing.T) {
	p := &stubCompleteProvider{resp: &llm.CompletionResponse{Content: "  The party found the sword.  "}}
	s := NewLLMSummariser(p)

	got, err := s.Summarise(context.Background(), []llm.Message{
		{Role: "user", Content: "We entered the dungeon."},
		{Role: "assistant", Content: "You find a sword."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "The party found the sword." {
		t.Errorf("got %q, want trimmed content", got)
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", p.calls)
	}
	if p.lastReq.SystemPrompt != summarisePrompt {
		t.Errorf("SystemPrompt = %q, want %q", p.lastReq.SystemPrompt, summarisePrompt)
	}
	if len(p.lastReq.Messages) != 1 {
		t.Fatalf("expected 1 collapsed message, got %d", len(p.lastReq.Messages))
	}
	transcript := p.lastReq.Messages[0].Content
	if !strings.Contains(transcript, "user: We entered the dungeon.") {
		t.Errorf("transcript missing user turn: %q", transcript)
	}
	if !strings.Contains(transcript, "assistant: You find a sword.") {
		t.Errorf("transcript missing assistant turn: %q", transcript)
	}
}

func TestLLMSummariser_ProviderError(t *testing.T) {
	p := &stubCompleteProvider{err: errors.New("provider unavailable")}
	s := NewLLMSummariser(p)

	_, err := s.Summarise(context.Background(), []llm.Message{
		{Role: "user", Content: "hello"},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "provider unavailable") {
		t.Errorf("error %q does not wrap provider error", err.Error())
	}
}
