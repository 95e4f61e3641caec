package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/sauropod-io/sauropod-sub000/internal/generator"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp/tier"
	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
	"github.com/sauropod-io/sauropod-sub000/internal/realtime"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/stt"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/tts"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/vad"
)

// RealtimeDeps are the provider collaborators handed to every new
// [realtime.Session] a Realtime WebSocket connection creates.
type RealtimeDeps struct {
	VADEngine vad.Engine
	STT       stt.Provider
	TTS       tts.Provider

	// MCPHost and TierSelector are optional; nil disables tool use for every
	// session this handler creates. See [realtime.Deps] for their contract.
	MCPHost      mcp.Host
	TierSelector *tier.Selector
}

// ServeRealtime upgrades r to a WebSocket and runs one [realtime.Session]
// until the client disconnects or r's context is cancelled. Each connection
// gets its own Session; events read off the socket are dispatched serially,
// matching HandleClientEvent's documented single-reader-goroutine contract.
func ServeRealtime(deps RealtimeDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Error("realtime: websocket accept failed", "err", err)
			return
		}
		conn := NewConn(ws)
		defer conn.Close()

		sess, err := realtime.New(realtime.Deps{
			VADEngine:    deps.VADEngine,
			STT:          deps.STT,
			TTS:          deps.TTS,
			MCPHost:      deps.MCPHost,
			TierSelector: deps.TierSelector,
			Emit: func(ev realtime.ServerEvent) {
				if err := conn.WriteEvent(r.Context(), ev); err != nil {
					slog.Warn("realtime: write event failed", "err", err)
				}
			},
		})
		if err != nil {
			slog.Error("realtime: session init failed", "err", err)
			return
		}

		slog.Info("realtime: session started", "session_id", sess.ID())
		defer slog.Info("realtime: session ended", "session_id", sess.ID())

		for {
			ev, err := conn.ReadEvent(r.Context())
			if err != nil {
				return
			}
			sess.HandleClientEvent(r.Context(), ev)
		}
	}
}

// createResponseRequest is the JSON body of a POST to the Responses HTTP
// endpoint: a one-shot, non-Realtime completion request.
type createResponseRequest struct {
	Model       string              `json:"model"`
	Input       []createResponseMsg `json:"input"`
	Temperature float64             `json:"temperature"`
	Stream      bool                `json:"stream"`
}

type createResponseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelLookup resolves a client-supplied model name (the "model" field of a
// Responses create request) to the [outputparser.Family] and [modelpool]
// device it runs on. cmd/sauropod-serve builds one from [config.Config.Models].
type ModelLookup interface {
	Lookup(name string) (family outputparser.Family, device string, ok bool)
}

// ServeResponses handles POST requests to the Responses HTTP endpoint. It
// decodes the request body, resolves body.Model through models, submits the
// request to the model pool via [generator.GenerateStream], and streams the
// resulting events back as SSE frames via [WriteSSE]. Non-streaming requests
// are not supported — every response is sent incrementally, matching the
// Realtime transport's own event-first design.
func ServeResponses(models ModelLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body createResponseRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(body.Input) == 0 {
			http.Error(w, "input must not be empty", http.StatusBadRequest)
			return
		}

		family, device, ok := models.Lookup(body.Model)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown model %q", body.Model), http.StatusBadRequest)
			return
		}

		messages := make([]llm.Message, len(body.Input))
		for i, m := range body.Input {
			messages[i] = llm.Message{Role: m.Role, Content: m.Content}
		}

		events, err := generator.GenerateStream(r.Context(), llm.CompletionRequest{
			Messages:    messages,
			Temperature: body.Temperature,
		}, generator.RenderContext{
			ResponseID: uuid.New().String(),
			Model:      body.Model,
			Family:     family,
			Device:     device,
		})
		if err != nil {
			http.Error(w, "generation failed: "+err.Error(), http.StatusInternalServerError)
			return
		}

		if err := WriteSSE(w, events); err != nil {
			slog.Warn("responses: sse write failed", "err", err)
		}
	}
}
