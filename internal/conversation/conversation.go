// Package conversation maintains the ordered list of input items and prior
// responses backing a generation request, trimming or summarising the
// oldest history once it approaches the active model's context window.
//
// State is purely in-process: nothing here persists across process restarts,
// matching the request-scoped lifetime of a Responses API conversation.
package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sauropod-io/sauropod-sub000/internal/session"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
)

// ItemRole mirrors the role tag of a conversation item.
type ItemRole string

const (
	RoleSystem    ItemRole = "system"
	RoleUser      ItemRole = "user"
	RoleAssistant ItemRole = "assistant"
	RoleTool      ItemRole = "tool"
)

// Item is a single entry in the conversation's ordered history: either a
// user/system input or a prior model response (including its tool calls).
type Item struct {
	ID         string
	Role       ItemRole
	Text       string
	ToolCalls  []llm.ToolCall
	ToolCallID string
}

// Config parameterizes a [State]'s context-window management. It embeds the
// same threshold/summariser knobs as [session.ContextManagerConfig] because
// State delegates all trimming decisions to an internal ContextManager.
type Config struct {
	MaxTokens      int
	ThresholdRatio float64
	Summariser     session.Summariser
}

// State holds one conversation's ordered items and produces the next
// generation request from them. It is not safe for concurrent use; callers
// needing concurrent access must serialize it externally (the realtime
// session's conversation lock does this).
type State struct {
	items []Item
	ctx   *session.ContextManager
}

// New creates an empty conversation State.
func New(cfg Config) *State {
	return &State{
		ctx: session.NewContextManager(session.ContextManagerConfig{
			MaxTokens:      cfg.MaxTokens,
			ThresholdRatio: cfg.ThresholdRatio,
			Summariser:     cfg.Summariser,
		}),
	}
}

// AddInputItem inserts a new input item (user or system message) into the
// conversation, assigning it a fresh ID. If previousItemID is non-empty, the
// item is inserted immediately after the item with that ID; otherwise it is
// appended. Returns the stored Item, whose ID is itself a valid
// previousItemID for a subsequent insertion.
func (s *State) AddInputItem(ctx context.Context, role ItemRole, text string, previousItemID string) (Item, error) {
	item := Item{ID: uuid.New().String(), Role: role, Text: text}
	if err := s.insertAndTrack(ctx, item, previousItemID); err != nil {
		return Item{}, err
	}
	return item, nil
}

// AddResponseItem appends a completed model response's message or tool-call
// content as a conversation item.
func (s *State) AddResponseItem(ctx context.Context, item Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	return s.insertAndTrack(ctx, item, "")
}

// insertAndTrack inserts item after previousItemID (or appends if empty),
// then re-derives the context manager's tracked messages from the full
// item list so token accounting and ordering stay consistent with s.items.
func (s *State) insertAndTrack(ctx context.Context, item Item, previousItemID string) error {
	if previousItemID == "" {
		s.items = append(s.items, item)
	} else {
		idx := -1
		for i, it := range s.items {
			if it.ID == previousItemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("conversation: previous_item_id %q not found", previousItemID)
		}
		s.items = append(s.items, Item{})
		copy(s.items[idx+2:], s.items[idx+1:])
		s.items[idx+1] = item
	}

	s.ctx.Reset()
	msgs := make([]llm.Message, len(s.items))
	for i, it := range s.items {
		msgs[i] = toLLMMessage(it)
	}
	if err := s.ctx.AddMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("conversation: track item: %w", err)
	}
	return nil
}

// Item returns the item with the given ID and true, or the zero Item and
// false if no such item exists.
func (s *State) Item(id string) (Item, bool) {
	for _, it := range s.items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// DeleteItem removes the item with the given ID from [State.Items], if
// present. It does not update the context manager: the deleted item's message
// and its token estimate stay in the history [State.MakeRequest] returns until
// the next AddInputItem or AddResponseItem rebuilds it from the item list.
func (s *State) DeleteItem(id string) {
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return
		}
	}
}

// TruncateItem shortens a prior assistant item's stored text to the given
// length in bytes. Conversation-item truncation is not exposed over the
// realtime client protocol (spec.md marks it unsupported), and nothing else
// in the server calls it. Like DeleteItem, it does not update the context
// manager's tracked history.
func (s *State) TruncateItem(id string, textLength int) {
	for i, it := range s.items {
		if it.ID == id {
			if textLength < len(it.Text) {
				s.items[i].Text = it.Text[:textLength]
			}
			return
		}
	}
}

// Items returns the conversation's current ordered items. The returned slice
// must not be mutated by the caller.
func (s *State) Items() []Item {
	return s.items
}

// MakeRequest builds the next [llm.CompletionRequest] from the conversation's
// trimmed/summarised history plus systemPrompt, for handoff to a generator.
func (s *State) MakeRequest(systemPrompt string, tools []llm.ToolDefinition) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     s.ctx.Messages(),
		Tools:        tools,
	}
}

func toLLMMessage(item Item) llm.Message {
	return llm.Message{
		Role:       string(item.Role),
		Content:    item.Text,
		ToolCalls:  item.ToolCalls,
		ToolCallID: item.ToolCallID,
	}
}
