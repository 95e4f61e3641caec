package generator_test

import (
	"context"
	"testing"
	"time"

	"github.com/sauropod-io/sauropod-sub000/internal/generator"
	"github.com/sauropod-io/sauropod-sub000/internal/modelpool"
	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
	"github.com/sauropod-io/sauropod-sub000/internal/responsestream"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm/mock"
)

func drain(t *testing.T, ch <-chan responsestream.Event) []responsestream.Event {
	t.Helper()
	var events []responsestream.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining generator stream")
		}
	}
}

func TestGenerateStream_PlainText(t *testing.T) {
	provider := &mock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hello"},
			{Text: " World", FinishReason: "stop"},
		},
	}
	modelpool.Init(provider)

	ch, err := generator.GenerateStream(context.Background(), llm.CompletionRequest{}, generator.RenderContext{
		ResponseID: "resp_1",
		Family:     outputparser.Unknown,
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	events := drain(t, ch)
	if len(events) == 0 {
		t.Fatal("no events produced")
	}
	if events[0].Type != responsestream.EventResponseCreated {
		t.Fatalf("events[0].Type = %v, want EventResponseCreated", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != responsestream.EventResponseCompleted {
		t.Fatalf("last event = %v, want EventResponseCompleted", last.Type)
	}
	if last.Response.Output[0].Content[0].Text != "Hello World" {
		t.Fatalf("final text = %q, want \"Hello World\"", last.Response.Output[0].Content[0].Text)
	}
}
