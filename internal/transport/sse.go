package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sauropod-io/sauropod-sub000/internal/responsestream"
)

// wireResponseEvent is the Responses HTTP endpoint's per-event SSE payload:
// the event's Type as a wire string plus whichever fields that type carries,
// flattened the same way a Realtime ServerEvent is in encodeServerEvent.
type wireResponseEvent struct {
	Type           string                `json:"type"`
	SequenceNumber int64                 `json:"sequence_number"`
	Response       *wireResponseSnapshot `json:"response,omitempty"`
	Item           *wireResponseItem     `json:"item,omitempty"`
	OutputIndex    int                   `json:"output_index,omitempty"`
	ContentIndex   int                   `json:"content_index,omitempty"`
	SummaryIndex   int                   `json:"summary_index,omitempty"`
	ItemID         string                `json:"item_id,omitempty"`
	Delta          string                `json:"delta,omitempty"`
	Text           string                `json:"text,omitempty"`
	Arguments      string                `json:"arguments,omitempty"`
}

type wireResponseSnapshot struct {
	ID     string             `json:"id"`
	Model  string             `json:"model"`
	Status string             `json:"status"`
	Output []wireResponseItem `json:"output"`
	Usage  wireResponseUsage  `json:"usage"`
}

type wireResponseUsage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	TotalTokens     int `json:"total_tokens"`
	ReasoningTokens int `json:"reasoning_tokens"`
	CachedTokens    int `json:"cached_tokens"`
}

type wireResponseItem struct {
	ID        string                    `json:"id"`
	Type      string                    `json:"type"`
	Status    string                    `json:"status,omitempty"`
	Content   []wireResponseContentPart `json:"content,omitempty"`
	Summary   []wireResponseSummaryPart `json:"summary,omitempty"`
	CallID    string                    `json:"call_id,omitempty"`
	Name      string                    `json:"name,omitempty"`
	Arguments string                    `json:"arguments,omitempty"`
}

type wireResponseContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireResponseSummaryPart struct {
	Text string `json:"text"`
}

// responseEventTypeWire maps every responsestream.EventType to its wire
// "type" string, matching the event name table also used by the Realtime
// transport so the two surfaces agree on vocabulary.
var responseEventTypeWire = map[responsestream.EventType]string{
	responsestream.EventResponseCreated:            "response.created",
	responsestream.EventResponseInProgress:         "response.in_progress",
	responsestream.EventOutputItemAdded:            "response.output_item.added",
	responsestream.EventContentPartAdded:           "response.content_part.added",
	responsestream.EventTextDelta:                  "response.output_text.delta",
	responsestream.EventTextDone:                   "response.output_text.done",
	responsestream.EventContentPartDone:            "response.content_part.done",
	responsestream.EventOutputItemDone:             "response.output_item.done",
	responsestream.EventReasoningSummaryPartAdded:  "response.reasoning_summary_part.added",
	responsestream.EventReasoningSummaryTextDelta:  "response.reasoning_summary_text.delta",
	responsestream.EventReasoningSummaryTextDone:   "response.reasoning_summary_text.done",
	responsestream.EventReasoningSummaryPartDone:   "response.reasoning_summary_part.done",
	responsestream.EventFunctionCallArgumentsDelta: "response.function_call_arguments.delta",
	responsestream.EventFunctionCallArgumentsDone:  "response.function_call_arguments.done",
	responsestream.EventResponseCompleted:          "response.completed",
}

func toWireItem(item responsestream.OutputItem) wireResponseItem {
	w := wireResponseItem{ID: item.ID, CallID: item.CallID, Name: item.Name, Arguments: item.Arguments}
	if item.Status == responsestream.StatusCompleted {
		w.Status = "completed"
	} else {
		w.Status = "in_progress"
	}
	switch item.Kind {
	case responsestream.ItemMessage:
		w.Type = "message"
		for _, c := range item.Content {
			w.Content = append(w.Content, wireResponseContentPart{Type: "output_text", Text: c.Text})
		}
	case responsestream.ItemReasoning:
		w.Type = "reasoning"
		for _, s := range item.Summary {
			w.Summary = append(w.Summary, wireResponseSummaryPart{Text: s.Text})
		}
	case responsestream.ItemFunctionToolCall:
		w.Type = "function_call"
	}
	return w
}

func toWireResponse(r responsestream.Response) *wireResponseSnapshot {
	w := &wireResponseSnapshot{
		ID:    r.ID,
		Model: r.Model,
		Usage: wireResponseUsage{
			InputTokens:     r.Usage.InputTokens,
			OutputTokens:    r.Usage.OutputTokens,
			TotalTokens:     r.Usage.TotalTokens,
			ReasoningTokens: r.Usage.ReasoningTokens,
			CachedTokens:    r.Usage.CachedTokens,
		},
	}
	if r.Status == responsestream.ResponseCompleted {
		w.Status = "completed"
	} else {
		w.Status = "in_progress"
	}
	for _, item := range r.Output {
		w.Output = append(w.Output, toWireItem(item))
	}
	return w
}

// encodeResponseEvent marshals ev to the JSON payload of one SSE frame.
func encodeResponseEvent(ev responsestream.Event) ([]byte, error) {
	w := wireResponseEvent{
		Type:           responseEventTypeWire[ev.Type],
		SequenceNumber: ev.SequenceNumber,
		OutputIndex:    ev.OutputIndex,
		ContentIndex:   ev.ContentIndex,
		SummaryIndex:   ev.SummaryIndex,
		ItemID:         ev.ItemID,
		Delta:          ev.Delta,
		Text:           ev.Text,
		Arguments:      ev.Arguments,
	}
	if w.Type == "" {
		w.Type = "unknown"
	}
	switch ev.Type {
	case responsestream.EventResponseCreated, responsestream.EventResponseInProgress, responsestream.EventResponseCompleted:
		w.Response = toWireResponse(ev.Response)
	case responsestream.EventOutputItemAdded, responsestream.EventOutputItemDone:
		item := toWireItem(ev.Item)
		w.Item = &item
	}
	return json.Marshal(w)
}

// WriteSSE writes events onto w as OpenAI-style `data: <json>\n\n` frames,
// one per event, followed by a terminal `data: [DONE]\n\n` frame once events
// closes. The caller's handler must have registered an [http.Flusher]-capable
// ResponseWriter; WriteSSE flushes after every frame so a client sees deltas
// as they are produced rather than buffered until the connection closes.
func WriteSSE(w http.ResponseWriter, events <-chan responsestream.Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("transport: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := encodeResponseEvent(ev)
		if err != nil {
			return fmt.Errorf("transport: encode response event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
