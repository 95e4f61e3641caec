package responsestream_test

import (
	"testing"

	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
	"github.com/sauropod-io/sauropod-sub000/internal/responsestream"
)

func newTestAssembler() *responsestream.Assembler {
	return responsestream.New(outputparser.New(outputparser.Unknown), responsestream.Response{ID: "test_response"})
}

func TestAssembler_PushText_CreatesProperEvents(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()

	events := a.PushText("Hello")
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5: %+v", len(events), events)
	}

	if events[0].Type != responsestream.EventResponseCreated || events[0].Response.ID != "test_response" {
		t.Fatalf("events[0] = %+v, want ResponseCreated for test_response", events[0])
	}
	if events[1].Type != responsestream.EventResponseInProgress {
		t.Fatalf("events[1].Type = %v, want EventResponseInProgress", events[1].Type)
	}
	if events[2].Type != responsestream.EventOutputItemAdded || events[2].OutputIndex != 0 {
		t.Fatalf("events[2] = %+v, want OutputItemAdded at index 0", events[2])
	}
	if events[2].Item.Kind != responsestream.ItemMessage || events[2].Item.Status != responsestream.StatusInProgress {
		t.Fatalf("events[2].Item = %+v, want in-progress OutputMessage", events[2].Item)
	}
	if events[3].Type != responsestream.EventContentPartAdded || events[3].ContentIndex != 0 || events[3].OutputIndex != 0 {
		t.Fatalf("events[3] = %+v, want ContentPartAdded at (0,0)", events[3])
	}
	if events[4].Type != responsestream.EventTextDelta || events[4].Delta != "Hello" {
		t.Fatalf("events[4] = %+v, want TextDelta \"Hello\"", events[4])
	}

	events2 := a.PushText(" World")
	if len(events2) != 1 {
		t.Fatalf("got %d events on second push, want 1: %+v", len(events2), events2)
	}
	if events2[0].Type != responsestream.EventTextDelta || events2[0].Delta != " World" {
		t.Fatalf("events2[0] = %+v, want TextDelta \" World\"", events2[0])
	}

	resp := a.Response()
	if len(resp.Output) != 1 || resp.Output[0].Content[0].Text != "Hello World" {
		t.Fatalf("final response output = %+v, want accumulated text \"Hello World\"", resp.Output)
	}
}

func TestAssembler_Finish_ClosesContentAndOutputItems(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	a.PushText("Hello")

	events := a.Finish()
	if len(events) != 4 {
		t.Fatalf("got %d finish events, want 4: %+v", len(events), events)
	}

	if events[0].Type != responsestream.EventTextDone || events[0].Text != "Hello" {
		t.Fatalf("events[0] = %+v, want TextDone \"Hello\"", events[0])
	}
	if events[1].Type != responsestream.EventContentPartDone || events[1].Part.Text != "Hello" {
		t.Fatalf("events[1] = %+v, want ContentPartDone with text \"Hello\"", events[1])
	}
	if events[2].Type != responsestream.EventOutputItemDone || events[2].Item.Status != responsestream.StatusCompleted {
		t.Fatalf("events[2] = %+v, want completed OutputItemDone", events[2])
	}
	if events[3].Type != responsestream.EventResponseCompleted || events[3].Response.Status != responsestream.ResponseCompleted {
		t.Fatalf("events[3] = %+v, want completed ResponseCompleted", events[3])
	}
}

func TestAssembler_Finish_WithNoOpenItems(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	events := a.Finish()
	if len(events) != 1 {
		t.Fatalf("got %d finish events, want 1: %+v", len(events), events)
	}
	if events[0].Type != responsestream.EventResponseCompleted {
		t.Fatalf("events[0].Type = %v, want EventResponseCompleted", events[0].Type)
	}
}

func TestAssembler_TextDoneNotEmittedForEmptyText(t *testing.T) {
	t.Parallel()

	a := newTestAssembler()
	a.PushText("")

	events := a.CloseCurrentContentPart()
	if len(events) != 1 {
		t.Fatalf("got %d close events, want 1 (ContentPartDone only): %+v", len(events), events)
	}
	if events[0].Type != responsestream.EventContentPartDone || events[0].Part.Text != "" {
		t.Fatalf("events[0] = %+v, want ContentPartDone with empty text", events[0])
	}
}

func TestAssembler_ToolCall_OverridesArgumentsFromJSON(t *testing.T) {
	t.Parallel()

	a2 := responsestream.New(outputparser.New(outputparser.LlamaLike), responsestream.Response{ID: "r2"})
	allEvents := a2.PushText(`<tool_call>{"name":"roll_dice","arguments":{"sides":20}}</tool_call>`)

	var gotDone *responsestream.Event
	for i := range allEvents {
		if allEvents[i].Type == responsestream.EventFunctionCallArgumentsDone {
			gotDone = &allEvents[i]
		}
	}
	if gotDone == nil {
		t.Fatalf("no FunctionCallArgumentsDone event among %+v", allEvents)
	}
	if gotDone.Arguments != `{"sides":20}` {
		t.Fatalf("Arguments = %q, want override from JSON \"arguments\" field", gotDone.Arguments)
	}

	resp := a2.Response()
	if len(resp.Output) != 1 || resp.Output[0].Name != "roll_dice" {
		t.Fatalf("output item = %+v, want name \"roll_dice\"", resp.Output)
	}
}

func TestAssembler_ReasoningThenReasoning_OpensFreshItem(t *testing.T) {
	t.Parallel()

	a := responsestream.New(outputparser.New(outputparser.LlamaLike), responsestream.Response{ID: "r3"})
	a.PushText("<think>first</think>")
	events := a.PushText("<think>second</think>")

	var addedCount int
	for _, ev := range events {
		if ev.Type == responsestream.EventOutputItemAdded {
			addedCount++
			if ev.OutputIndex != 1 {
				t.Fatalf("second reasoning item OutputIndex = %d, want 1", ev.OutputIndex)
			}
		}
	}
	if addedCount != 1 {
		t.Fatalf("got %d OutputItemAdded events for second reasoning span, want 1", addedCount)
	}
}

func TestAssembler_Finish_FlushesPendingPartialDelimiter(t *testing.T) {
	t.Parallel()

	a := responsestream.New(outputparser.New(outputparser.LlamaLike), responsestream.Response{ID: "r4"})

	// "<" is a prefix of every LlamaLike delimiter ("<think>", "<tool_call>"),
	// so the parser holds it back as unresolved pending bytes instead of
	// emitting it as a TextDelta immediately.
	a.PushText("answer: <")

	events := a.Finish()

	var textDone string
	var sawTextDone bool
	for _, ev := range events {
		if ev.Type == responsestream.EventTextDone {
			sawTextDone = true
			textDone = ev.Text
		}
	}
	if !sawTextDone {
		t.Fatalf("Finish() events = %+v, want a TextDone event flushing the pending '<'", events)
	}
	if textDone != "answer: <" {
		t.Fatalf("TextDone.Text = %q, want %q (pending delimiter prefix must not be dropped)", textDone, "answer: <")
	}

	resp := a.Response()
	if len(resp.Output) != 1 || resp.Output[0].Content[0].Text != "answer: <" {
		t.Fatalf("final response output = %+v, want accumulated text %q", resp.Output, "answer: <")
	}
}
