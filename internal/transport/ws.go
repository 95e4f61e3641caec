// Package transport wraps the network framing for the Responses HTTP SSE
// endpoint and the Realtime WebSocket endpoint. It is deliberately thin:
// event ordering and session semantics live entirely in internal/realtime
// and internal/responsestream; this package only translates between their
// Go types and the OpenAI-compatible wire JSON, the way a thin websocket
// adapter wraps coder/websocket around its own session type.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/sauropod-io/sauropod-sub000/internal/conversation"
	"github.com/sauropod-io/sauropod-sub000/internal/realtime"
	"github.com/sauropod-io/sauropod-sub000/internal/responsestream"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/tts"
)

// ── Incoming (client -> server) wire shapes ────────────────────────────────

type wireClientEvent struct {
	Type     string                `json:"type"`
	Session  *wireSessionUpdate    `json:"session,omitempty"`
	Audio    string                `json:"audio,omitempty"`
	Item           *wireConversationItem `json:"item,omitempty"`
	ItemID         string                `json:"item_id,omitempty"`
	PreviousItemID string                `json:"previous_item_id,omitempty"`
	Response       *wireSessionUpdate    `json:"response,omitempty"`
}

type wireSessionUpdate struct {
	Modalities      []string `json:"modalities,omitempty"`
	Voice           string   `json:"voice,omitempty"`
	Model           string   `json:"model,omitempty"`
	Instructions    string   `json:"instructions,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
}

type wireConversationItem struct {
	Role    string            `json:"role,omitempty"`
	Content []wireContentPart `json:"content,omitempty"`
}

type wireContentPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// decodeClientEvent parses one inbound Realtime JSON message into a
// [realtime.ClientEvent]. Unknown "type" values are rejected with an error
// rather than silently dropped, so a caller can surface an invalid_request_error.
func decodeClientEvent(data []byte) (realtime.ClientEvent, error) {
	var w wireClientEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return realtime.ClientEvent{}, fmt.Errorf("transport: decode client event: %w", err)
	}

	switch w.Type {
	case "session.update":
		return realtime.ClientEvent{
			Kind:         realtime.ClientSessionUpdate,
			ConfigUpdate: toConfigUpdate(w.Session),
		}, nil

	case "input_audio_buffer.append":
		return realtime.ClientEvent{Kind: realtime.ClientInputAudioBufferAppend, Base64Audio: w.Audio}, nil

	case "input_audio_buffer.clear":
		return realtime.ClientEvent{Kind: realtime.ClientInputAudioBufferClear}, nil

	case "input_audio_buffer.commit":
		return realtime.ClientEvent{Kind: realtime.ClientInputAudioBufferCommit}, nil

	case "conversation.item.create":
		role, text := "", ""
		if w.Item != nil {
			role = w.Item.Role
			if len(w.Item.Content) > 0 {
				text = w.Item.Content[0].Text
			}
		}
		return realtime.ClientEvent{
			Kind:           realtime.ClientConversationItemCreate,
			ItemRole:       role,
			ItemText:       text,
			PreviousItemID: w.PreviousItemID,
		}, nil

	case "conversation.item.retrieve":
		return realtime.ClientEvent{Kind: realtime.ClientConversationItemRetrieve, ItemID: w.ItemID}, nil

	case "conversation.item.delete":
		return realtime.ClientEvent{Kind: realtime.ClientConversationItemDelete, ItemID: w.ItemID}, nil

	case "conversation.item.truncate":
		return realtime.ClientEvent{Kind: realtime.ClientConversationItemTruncate, ItemID: w.ItemID}, nil

	case "response.create":
		var override *realtime.SessionConfigUpdate
		if w.Response != nil {
			u := toConfigUpdate(w.Response)
			override = &u
		}
		return realtime.ClientEvent{Kind: realtime.ClientResponseCreate, ResponseOverride: override}, nil

	case "response.cancel":
		return realtime.ClientEvent{Kind: realtime.ClientResponseCancel}, nil

	default:
		return realtime.ClientEvent{}, fmt.Errorf("transport: unknown client event type %q", w.Type)
	}
}

func toConfigUpdate(w *wireSessionUpdate) realtime.SessionConfigUpdate {
	if w == nil {
		return realtime.SessionConfigUpdate{}
	}
	u := realtime.SessionConfigUpdate{
		Modalities:      w.Modalities,
		Temperature:     w.Temperature,
		MaxOutputTokens: w.MaxOutputTokens,
	}
	if w.Voice != "" {
		v := tts.VoiceProfile{ID: w.Voice}
		u.Voice = &v
	}
	if w.Model != "" {
		m := w.Model
		u.Model = &m
	}
	if w.Instructions != "" {
		i := w.Instructions
		u.Instructions = &i
	}
	return u
}

// ── Outgoing (server -> client) wire shapes ────────────────────────────────

type wireServerEvent struct {
	Type         string     `json:"type"`
	EventID      string     `json:"event_id,omitempty"`
	Error        *wireError `json:"error,omitempty"`
	ItemID       string     `json:"item_id,omitempty"`
	OutputIndex  int        `json:"output_index,omitempty"`
	ContentIndex int        `json:"content_index,omitempty"`
	Delta        string     `json:"delta,omitempty"`
	Text         string     `json:"text,omitempty"`
	Transcript   string     `json:"transcript,omitempty"`
	Item         *wireItem  `json:"item,omitempty"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wireItem struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`
}

// eventTypeWire maps every realtime.ServerEventKind to its wire "type"
// string, per spec.md §4.5/§7's event name table.
var eventTypeWire = map[realtime.ServerEventKind]string{
	realtime.ServerSessionUpdated:                                   "session.updated",
	realtime.ServerError:                                            "error",
	realtime.ServerInputAudioBufferSpeechStarted:                    "input_audio_buffer.speech_started",
	realtime.ServerInputAudioBufferSpeechStopped:                    "input_audio_buffer.speech_stopped",
	realtime.ServerConversationItemInputAudioTranscriptionCompleted: "conversation.item.input_audio_transcription.completed",
	realtime.ServerConversationItemCreated:                          "conversation.item.created",
	realtime.ServerResponseCreated:                                  "response.created",
	realtime.ServerResponseInProgress:                               "response.in_progress",
	realtime.ServerResponseOutputItemAdded:                          "response.output_item.added",
	realtime.ServerResponseContentPartAdded:                         "response.content_part.added",
	realtime.ServerResponseOutputTextDelta:                          "response.output_text.delta",
	realtime.ServerResponseOutputTextDone:                           "response.output_text.done",
	realtime.ServerResponseContentPartDone:                          "response.content_part.done",
	realtime.ServerResponseOutputItemDone:                           "response.output_item.done",
	realtime.ServerResponseReasoningSummaryPartAdded:                "response.reasoning_summary_part.added",
	realtime.ServerResponseReasoningSummaryTextDelta:                "response.reasoning_summary_text.delta",
	realtime.ServerResponseReasoningSummaryTextDone:                 "response.reasoning_summary_text.done",
	realtime.ServerResponseReasoningSummaryPartDone:                 "response.reasoning_summary_part.done",
	realtime.ServerResponseFunctionCallArgumentsDelta:                "response.function_call_arguments.delta",
	realtime.ServerResponseFunctionCallArgumentsDone:                "response.function_call_arguments.done",
	realtime.ServerResponseAudioDelta:                               "response.audio.delta",
	realtime.ServerResponseAudioDone:                                "response.audio.done",
	realtime.ServerResponseDone:                                     "response.done",
	realtime.ServerResponseFailed:                                   "response.failed",
	realtime.ServerResponseCancelled:                                "response.cancelled",
}

// encodeServerEvent marshals one outbound [realtime.ServerEvent] to its wire
// JSON form. Text/delta/item-id content wrapped in ev.Stream (a
// responsestream.Event, for response-lifecycle kinds) is flattened onto the
// same envelope as the Realtime-specific fields already on ev.
func encodeServerEvent(ev realtime.ServerEvent) ([]byte, error) {
	w := wireServerEvent{
		Type:         eventTypeWire[ev.Kind],
		EventID:      ev.EventID,
		ItemID:       ev.ItemID,
		Transcript:   ev.Transcript,
		OutputIndex:  ev.OutputIndex,
		ContentIndex: ev.ContentIndex,
	}
	if w.Type == "" {
		w.Type = "unknown"
	}

	if ev.Kind == realtime.ServerError || ev.ErrorMessage != "" {
		w.Error = &wireError{Type: ev.ErrorKind.Code(), Message: ev.ErrorMessage}
	}

	if se, ok := ev.Stream.(responsestream.Event); ok {
		if w.ItemID == "" {
			w.ItemID = se.ItemID
		}
		if w.OutputIndex == 0 {
			w.OutputIndex = se.OutputIndex
		}
		if w.ContentIndex == 0 {
			w.ContentIndex = se.ContentIndex
		}
		w.Delta = se.Delta
		w.Text = se.Text
	}

	if ev.Kind == realtime.ServerResponseAudioDelta {
		w.Delta = ev.AudioBase64
	}

	if item, ok := ev.Item.(conversation.Item); ok {
		w.Item = &wireItem{ID: item.ID, Role: string(item.Role), Text: item.Text}
	}

	return json.Marshal(w)
}

// Conn is one Realtime WebSocket connection: it decodes inbound frames into
// [realtime.ClientEvent] values for a [realtime.Session] and serializes the
// Session's outbound [realtime.ServerEvent] values back onto the socket.
type Conn struct {
	ws *websocket.Conn
}

// NewConn wraps an already-accepted *websocket.Conn (see ServeRealtime in
// http.go for the accept path used by cmd/sauropod-serve).
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadEvent blocks for the next inbound message and decodes it.
func (c *Conn) ReadEvent(ctx context.Context) (realtime.ClientEvent, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return realtime.ClientEvent{}, err
	}
	return decodeClientEvent(data)
}

// WriteEvent encodes ev and writes it as a single text WebSocket message.
func (c *Conn) WriteEvent(ctx context.Context, ev realtime.ServerEvent) error {
	data, err := encodeServerEvent(ev)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close closes the underlying WebSocket with a normal-closure status.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "session closed")
}
