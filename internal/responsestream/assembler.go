package responsestream

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
)

type reasoningState struct {
	itemID string
}

type toolCallState struct {
	itemID string
	buffer string
}

// Assembler tracks the state of a single in-flight response and turns raw
// classified output into the ordered Responses event stream. It is not safe
// for concurrent use; one Assembler belongs to exactly one response.
type Assembler struct {
	response Response

	outputIndex  int
	contentIndex int

	responseCreated bool
	contentPartOpen bool
	outputItemOpen  bool

	sequenceNumber int64

	parser *outputparser.Parser

	reasoning *reasoningState
	toolCall  *toolCallState

	finished bool
}

// New creates an Assembler that will classify raw model text with parser and
// accumulate it into a copy of initial (its Usage is reset to zero, matching
// the original always starting a fresh usage block regardless of what the
// caller passed in).
func New(parser *outputparser.Parser, initial Response) *Assembler {
	initial.Usage = Usage{}
	return &Assembler{
		response: initial,
		parser:   parser,
	}
}

// IsEmpty reports whether the response has produced no output items yet.
func (a *Assembler) IsEmpty() bool {
	return len(a.response.Output) == 0
}

// Response returns the live response state. Callers must not retain the
// returned value across further Assembler calls without cloning it, as later
// events mutate Output in place.
func (a *Assembler) Response() Response {
	return a.response
}

func (a *Assembler) nextSeq() int64 {
	seq := a.sequenceNumber
	a.sequenceNumber++
	return seq
}

func (a *Assembler) ensureResponseCreated() []Event {
	if a.responseCreated {
		return nil
	}
	a.response.Status = ResponseInProgress
	a.responseCreated = true
	return []Event{
		{Type: EventResponseCreated, SequenceNumber: a.nextSeq(), Response: a.response.clone()},
		{Type: EventResponseInProgress, SequenceNumber: a.nextSeq(), Response: a.response.clone()},
	}
}

// pushTextInternal appends text to the current message's current content
// part, opening an output item and/or content part as needed. It never
// inspects text for delimiters; that classification already happened in
// PushPart.
func (a *Assembler) pushTextInternal(text string) []Event {
	var events []Event
	events = append(events, a.ensureResponseCreated()...)

	if len(a.response.Output) <= a.outputIndex {
		item := OutputItem{Kind: ItemMessage, ID: uuid.New().String(), Status: StatusInProgress}
		a.response.Output = append(a.response.Output, item)

		events = append(events, Event{
			Type:        EventOutputItemAdded,
			SequenceNumber: a.nextSeq(),
			Item:        item,
			OutputIndex: a.outputIndex,
		})

		a.outputItemOpen = true
		a.contentIndex = 0
	}

	item := &a.response.Output[a.outputIndex]
	if item.Kind != ItemMessage {
		// Defensive: should not happen given callers always route through
		// openReasoningItem/openToolCallItem before switching kinds.
		return events
	}

	if len(item.Content) <= a.contentIndex {
		part := OutputContent{Text: ""}
		item.Content = append(item.Content, part)

		events = append(events, Event{
			Type:         EventContentPartAdded,
			SequenceNumber: a.nextSeq(),
			ContentIndex: a.contentIndex,
			ItemID:       item.ID,
			OutputIndex:  a.outputIndex,
			Part:         part,
		})
		a.contentPartOpen = true
	}

	item.Content[a.contentIndex].Text += text

	if text != "" {
		events = append(events, Event{
			Type:         EventTextDelta,
			SequenceNumber: a.nextSeq(),
			ContentIndex: a.contentIndex,
			Delta:        text,
			ItemID:       item.ID,
			OutputIndex:  a.outputIndex,
		})
	}

	return events
}

// PushText classifies text with the configured parser and routes each
// resulting span to the matching internal handler, returning the combined
// event list for this call.
func (a *Assembler) PushText(text string) []Event {
	parsed := a.parser.Parse(text)
	if len(parsed) == 0 && text == "" {
		return a.pushTextInternal(text)
	}
	return a.dispatchParserEvents(parsed)
}

// dispatchParserEvents routes each [outputparser.Event] to the matching
// internal handler, returning the combined event list. Shared by PushText
// (mid-stream) and Finish (the parser's final flush).
func (a *Assembler) dispatchParserEvents(parsed []outputparser.Event) []Event {
	var events []Event
	for _, ev := range parsed {
		switch ev.Kind {
		case outputparser.Text:
			events = append(events, a.pushTextInternal(ev.Text)...)
		case outputparser.Reasoning:
			events = append(events, a.pushReasoningDelta(ev.Text)...)
		case outputparser.ReasoningEnd:
			events = append(events, a.finishReasoning()...)
		case outputparser.ToolCall:
			events = append(events, a.pushToolCallDelta(ev.Text)...)
		case outputparser.ToolCallEnd:
			events = append(events, a.finishToolCall()...)
		}
	}
	return events
}

// PushPart records one output token of usage accounting and forwards part to
// PushText. This is the method callers drive the raw token stream through.
func (a *Assembler) PushPart(part string) []Event {
	if a.finished {
		panic("responsestream: PushPart called after Finish")
	}
	a.response.Usage.OutputTokens++
	a.response.Usage.TotalTokens++
	return a.PushText(part)
}

// CloseCurrentContentPart closes the open content part, if any, emitting a
// TextDone event first when the part holds non-empty text, then a
// ContentPartDone event.
func (a *Assembler) CloseCurrentContentPart() []Event {
	if !a.contentPartOpen {
		return nil
	}
	var events []Event

	item := a.response.Output[a.outputIndex]
	if a.contentIndex < len(item.Content) {
		part := item.Content[a.contentIndex]
		if part.Text != "" {
			events = append(events, Event{
				Type:         EventTextDone,
				SequenceNumber: a.nextSeq(),
				ContentIndex: a.contentIndex,
				ItemID:       item.ID,
				OutputIndex:  a.outputIndex,
				Text:         part.Text,
			})
		}
		events = append(events, Event{
			Type:         EventContentPartDone,
			SequenceNumber: a.nextSeq(),
			ContentIndex: a.contentIndex,
			ItemID:       item.ID,
			OutputIndex:  a.outputIndex,
			Part:         part,
		})
	}
	a.contentPartOpen = false
	return events
}

// CloseCurrentOutputItem closes the open output item, if any, marking it
// Completed and emitting an OutputItemDone event.
func (a *Assembler) CloseCurrentOutputItem() []Event {
	if !a.outputItemOpen {
		return nil
	}
	if a.outputIndex >= len(a.response.Output) {
		a.outputItemOpen = false
		return nil
	}

	a.response.Output[a.outputIndex].Status = StatusCompleted
	a.outputItemOpen = false
	item := a.response.Output[a.outputIndex]

	return []Event{{
		Type:        EventOutputItemDone,
		SequenceNumber: a.nextSeq(),
		Item:        item,
		OutputIndex: a.outputIndex,
	}}
}

func (a *Assembler) pushReasoningDelta(delta string) []Event {
	var events []Event
	if a.reasoning == nil {
		events = append(events, a.openReasoningItem()...)
	}

	state := a.reasoning
	item := &a.response.Output[a.outputIndex]
	if a.contentIndex < len(item.Summary) {
		item.Summary[a.contentIndex].Text += delta
	}

	events = append(events, Event{
		Type:         EventReasoningSummaryTextDelta,
		SequenceNumber: a.nextSeq(),
		Delta:        delta,
		ItemID:       state.itemID,
		OutputIndex:  a.outputIndex,
		SummaryIndex: a.contentIndex,
	})
	return events
}

func (a *Assembler) finishReasoning() []Event {
	if a.reasoning == nil {
		return nil
	}
	state := a.reasoning
	a.reasoning = nil

	var events []Event
	item := &a.response.Output[a.outputIndex]
	if a.contentIndex < len(item.Summary) {
		part := item.Summary[a.contentIndex]
		events = append(events,
			Event{
				Type:         EventReasoningSummaryTextDone,
				SequenceNumber: a.nextSeq(),
				ItemID:       state.itemID,
				OutputIndex:  a.outputIndex,
				SummaryIndex: a.contentIndex,
				Text:         part.Text,
			},
			Event{
				Type:         EventReasoningSummaryPartDone,
				SequenceNumber: a.nextSeq(),
				ItemID:       state.itemID,
				OutputIndex:  a.outputIndex,
				SummaryIndex: a.contentIndex,
				SummaryPart:  part,
			},
		)
	}
	item.Status = StatusCompleted

	events = append(events, a.CloseCurrentOutputItem()...)
	a.outputIndex++
	return events
}

func (a *Assembler) pushToolCallDelta(delta string) []Event {
	var events []Event
	if a.toolCall == nil {
		events = append(events, a.openToolCallItem()...)
	}

	state := a.toolCall
	if state == nil {
		return events
	}
	state.buffer += delta

	item := &a.response.Output[a.outputIndex]
	item.Arguments += delta

	events = append(events, Event{
		Type:        EventFunctionCallArgumentsDelta,
		SequenceNumber: a.nextSeq(),
		Delta:       delta,
		ItemID:      state.itemID,
		OutputIndex: a.outputIndex,
	})
	return events
}

func (a *Assembler) finishToolCall() []Event {
	if a.toolCall == nil {
		return nil
	}
	state := a.toolCall
	a.toolCall = nil

	argsString, name := extractToolCallArguments(state.buffer)

	item := &a.response.Output[a.outputIndex]
	item.Arguments = argsString
	item.Name = name
	item.Status = StatusCompleted

	events := []Event{{
		Type:        EventFunctionCallArgumentsDone,
		SequenceNumber: a.nextSeq(),
		Arguments:   argsString,
		ItemID:      state.itemID,
		OutputIndex: a.outputIndex,
	}}

	events = append(events, a.CloseCurrentOutputItem()...)
	a.outputIndex++
	return events
}

func (a *Assembler) openReasoningItem() []Event {
	var events []Event
	events = append(events, a.ensureResponseCreated()...)
	events = append(events, a.CloseCurrentContentPart()...)
	events = append(events, a.CloseCurrentOutputItem()...)

	itemID := uuid.New().String()
	item := OutputItem{
		Kind:   ItemReasoning,
		ID:     itemID,
		Status: StatusInProgress,
		Summary: []ReasoningSummaryPart{{}},
	}
	a.response.Output = append(a.response.Output, item)
	a.outputIndex = len(a.response.Output) - 1
	a.outputItemOpen = true
	a.contentIndex = 0

	events = append(events, Event{
		Type:        EventOutputItemAdded,
		SequenceNumber: a.nextSeq(),
		Item:        item,
		OutputIndex: a.outputIndex,
	})
	events = append(events, Event{
		Type:         EventReasoningSummaryPartAdded,
		SequenceNumber: a.nextSeq(),
		ItemID:       itemID,
		OutputIndex:  a.outputIndex,
		SummaryIndex: a.contentIndex,
	})

	a.reasoning = &reasoningState{itemID: itemID}
	return events
}

func (a *Assembler) openToolCallItem() []Event {
	var events []Event
	events = append(events, a.ensureResponseCreated()...)
	events = append(events, a.CloseCurrentContentPart()...)
	events = append(events, a.CloseCurrentOutputItem()...)

	callID := uuid.New().String()
	item := OutputItem{
		Kind:   ItemFunctionToolCall,
		ID:     callID,
		CallID: callID,
		Status: StatusInProgress,
	}
	a.response.Output = append(a.response.Output, item)
	a.outputIndex = len(a.response.Output) - 1
	a.outputItemOpen = true
	a.contentIndex = 0

	events = append(events, Event{
		Type:        EventOutputItemAdded,
		SequenceNumber: a.nextSeq(),
		Item:        item,
		OutputIndex: a.outputIndex,
	})

	a.toolCall = &toolCallState{itemID: callID}
	return events
}

// Finish closes any open content part and output item, marks the response
// Completed, and emits the final ResponseCompleted event. After Finish, no
// further Assembler calls are valid except Response.
func (a *Assembler) Finish() []Event {
	var events []Event
	events = append(events, a.dispatchParserEvents(a.parser.Finish())...)
	events = append(events, a.CloseCurrentContentPart()...)
	events = append(events, a.CloseCurrentOutputItem()...)

	a.response.Status = ResponseCompleted
	events = append(events, Event{
		Type:        EventResponseCompleted,
		SequenceNumber: a.nextSeq(),
		Response:    a.response.clone(),
	})
	a.finished = true
	return events
}

// extractToolCallArguments parses buffer (the raw accumulated tool-call
// text) as JSON with "name" and "arguments" fields. If parsing or field
// extraction fails, buffer is returned verbatim as the arguments string with
// an empty name, matching the original's graceful degradation on malformed
// tool-call JSON.
func extractToolCallArguments(buffer string) (args, name string) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(buffer), &obj); err != nil {
		return buffer, ""
	}
	if n, ok := obj["name"].(string); ok {
		name = n
	}
	args = buffer
	if a, ok := obj["arguments"]; ok {
		if b, err := json.Marshal(a); err == nil {
			args = string(b)
		}
	}
	return args, name
}
