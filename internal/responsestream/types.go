// Package responsestream assembles lazily-classified model output events
// into the strictly ordered OpenAI Responses API event stream: response
// lifecycle events, output item and content part open/close pairs, text and
// reasoning deltas, and function tool call argument accumulation.
//
// [Assembler] owns all event-ordering state; callers push raw decoded text
// from the model via [Assembler.PushPart] and drive the response to
// completion with [Assembler.Finish]. All exported methods return the
// ordered slice of events produced by that single call — there is no
// separate subscription or channel API at this layer, matching how
// cascade.Engine and similar teacher pipeline stages return results directly
// rather than through a push-based observer.
package responsestream

// Status is the lifecycle state of an [OutputItem]; a [Response] uses
// [ResponseStatus].
type Status int

const (
	StatusInProgress Status = iota
	StatusCompleted
)

// ResponseStatus is the lifecycle state of a whole [Response].
type ResponseStatus int

const (
	ResponseInProgress ResponseStatus = iota
	ResponseCompleted
)

// OutputItemKind discriminates the variants of [OutputItem].
type OutputItemKind int

const (
	ItemMessage OutputItemKind = iota
	ItemReasoning
	ItemFunctionToolCall
)

// ReasoningSummaryPart holds one reasoning summary segment's accumulated text.
type ReasoningSummaryPart struct {
	Text string
}

// OutputContent is a single content part of an OutputMessage item. Only the
// text content type is modeled; spec scope is text/reasoning/tool-call
// output.
type OutputContent struct {
	Text string
}

// OutputItem is one tagged entry in a [Response]'s Output list. Kind
// determines which of the remaining fields are meaningful, mirroring the
// three-variant enum in the original Rust OutputItem type.
type OutputItem struct {
	Kind   OutputItemKind
	ID     string
	Status Status

	// Message fields (Kind == ItemMessage).
	Content []OutputContent

	// Reasoning fields (Kind == ItemReasoning).
	Summary []ReasoningSummaryPart

	// FunctionToolCall fields (Kind == ItemFunctionToolCall).
	CallID    string
	Name      string
	Arguments string
}

// Usage tracks token accounting for a [Response].
type Usage struct {
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	ReasoningTokens int
	CachedTokens    int
}

// Response is the object under construction by an [Assembler]. It is cloned
// into each lifecycle event (ResponseCreated, ResponseInProgress,
// ResponseCompleted) the way the original emits a snapshot of the whole
// response on every such event.
type Response struct {
	ID     string
	Model  string
	Status ResponseStatus
	Output []OutputItem
	Usage  Usage
}

// clone returns a deep copy of r suitable for embedding in an event snapshot,
// so that later mutation of the live response does not retroactively change
// an already-emitted event.
func (r Response) clone() Response {
	out := r
	out.Output = make([]OutputItem, len(r.Output))
	for i, item := range r.Output {
		item.Content = append([]OutputContent(nil), item.Content...)
		item.Summary = append([]ReasoningSummaryPart(nil), item.Summary...)
		out.Output[i] = item
	}
	return out
}

// EventType discriminates the variant carried by an [Event].
type EventType int

const (
	EventResponseCreated EventType = iota
	EventResponseInProgress
	EventOutputItemAdded
	EventContentPartAdded
	EventTextDelta
	EventTextDone
	EventContentPartDone
	EventOutputItemDone
	EventReasoningSummaryPartAdded
	EventReasoningSummaryTextDelta
	EventReasoningSummaryTextDone
	EventReasoningSummaryPartDone
	EventFunctionCallArgumentsDelta
	EventFunctionCallArgumentsDone
	EventResponseCompleted
)

// Event is a single wire-level Responses API streaming event. Type selects
// which fields are populated; unused fields are left at their zero value.
type Event struct {
	Type EventType

	SequenceNumber int64

	Response    Response // ResponseCreated, ResponseInProgress, ResponseCompleted
	Item        OutputItem
	OutputIndex int
	ContentIndex int
	SummaryIndex int
	ItemID       string
	Delta        string
	Text         string
	Part         OutputContent
	SummaryPart  ReasoningSummaryPart
	Arguments    string
}
