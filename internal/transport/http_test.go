package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sauropod-io/sauropod-sub000/internal/modelpool"
	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
)

// stubLLM is a minimal llm.Provider that emits a single canned completion.
type stubLLM struct {
	mu     sync.Mutex
	chunks []llm.Chunk
}

func (s *stubLLM) StreamCompletion(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan llm.Chunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}

func (s *stubLLM) CountTokens(_ []llm.Message) (int, error) { return 0, nil }

func (s *stubLLM) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }

func initTestModelPool() {
	modelpool.Init(&stubLLM{chunks: []llm.Chunk{
		{Text: "hi there"},
		{FinishReason: "stop"},
	}})
}

func init() {
	initTestModelPool()
}

// fakeModelLookup implements ModelLookup against a fixed in-memory map.
type fakeModelLookup map[string]struct {
	family outputparser.Family
	device string
}

func (f fakeModelLookup) Lookup(name string) (outputparser.Family, string, bool) {
	m, ok := f[name]
	if !ok {
		return outputparser.Unknown, "", false
	}
	return m.family, m.device, true
}

func TestServeResponses_UnknownModel(t *testing.T) {
	handler := ServeResponses(fakeModelLookup{})

	body := strings.NewReader(`{"model":"bogus","input":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", body)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServeResponses_EmptyInput(t *testing.T) {
	handler := ServeResponses(fakeModelLookup{})

	body := strings.NewReader(`{"model":"default","input":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", body)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServeResponses_WrongMethod(t *testing.T) {
	handler := ServeResponses(fakeModelLookup{})

	req := httptest.NewRequest(http.MethodGet, "/v1/responses", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestServeResponses_InvalidBody(t *testing.T) {
	handler := ServeResponses(fakeModelLookup{})

	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServeResponses_StreamsSSE(t *testing.T) {
	models := fakeModelLookup{
		"default": {family: outputparser.LlamaLike, device: "gpu0"},
	}
	handler := ServeResponses(models)

	reqBody := strings.NewReader(`{"model":"default","input":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", reqBody)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	sawDataLine := false
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		sawDataLine = true
		var ev map[string]any
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("event payload is not valid JSON: %v (line: %q)", err, line)
		}
	}
	if !sawDataLine {
		t.Fatal("expected at least one SSE data line")
	}
}

func TestModelLookup_NotFoundReturnsUnknown(t *testing.T) {
	models := fakeModelLookup{}
	family, device, ok := models.Lookup("nope")
	if ok {
		t.Fatal("expected ok=false for unregistered model")
	}
	if family != outputparser.Unknown {
		t.Errorf("family = %v, want Unknown", family)
	}
	if device != "" {
		t.Errorf("device = %q, want empty", device)
	}
}
