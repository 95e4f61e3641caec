package outputparser_test

import (
	"reflect"
	"testing"

	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
)

func TestParser_UnknownFamily_PassesTextThrough(t *testing.T) {
	t.Parallel()

	p := outputparser.New(outputparser.Unknown)
	got := p.Parse("hello <think>world</think>")
	want := []outputparser.Event{{Kind: outputparser.Text, Text: "hello <think>world</think>"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParser_ReasoningSpan_SingleChunk(t *testing.T) {
	t.Parallel()

	p := outputparser.New(outputparser.LlamaLike)
	got := p.Parse("before<think>inner</think>after")
	want := []outputparser.Event{
		{Kind: outputparser.Text, Text: "before"},
		{Kind: outputparser.Reasoning, Text: "inner"},
		{Kind: outputparser.ReasoningEnd},
		{Kind: outputparser.Text, Text: "after"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParser_DelimiterSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	p := outputparser.New(outputparser.LlamaLike)

	var got []outputparser.Event
	for _, chunk := range []string{"before<thi", "nk>inner</thi", "nk>after"} {
		got = append(got, p.Parse(chunk)...)
	}
	got = append(got, p.Finish()...)

	want := []outputparser.Event{
		{Kind: outputparser.Text, Text: "before"},
		{Kind: outputparser.Reasoning, Text: "inner"},
		{Kind: outputparser.ReasoningEnd},
		{Kind: outputparser.Text, Text: "after"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse/Finish = %+v, want %+v", got, want)
	}
}

func TestParser_ToolCallSpan(t *testing.T) {
	t.Parallel()

	p := outputparser.New(outputparser.LlamaLike)
	got := p.Parse(`<tool_call>{"name":"roll_dice"}</tool_call>`)
	want := []outputparser.Event{
		{Kind: outputparser.ToolCall, Text: `{"name":"roll_dice"}`},
		{Kind: outputparser.ToolCallEnd},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParser_QwenLikeToolCallMarkers(t *testing.T) {
	t.Parallel()

	p := outputparser.New(outputparser.QwenLike)
	got := p.Parse("<|tool_call|>x<|/tool_call|>")
	want := []outputparser.Event{
		{Kind: outputparser.ToolCall, Text: "x"},
		{Kind: outputparser.ToolCallEnd},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParser_UnterminatedSpan_FlushedOnFinish(t *testing.T) {
	t.Parallel()

	p := outputparser.New(outputparser.LlamaLike)
	got := p.Parse("<think>partial")
	got = append(got, p.Finish()...)

	want := []outputparser.Event{
		{Kind: outputparser.Reasoning, Text: "partial"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse/Finish = %+v, want %+v", got, want)
	}
}

func TestParser_ParseAfterFinish_Panics(t *testing.T) {
	t.Parallel()

	p := outputparser.New(outputparser.LlamaLike)
	p.Finish()

	defer func() {
		if recover() == nil {
			t.Fatal("expected Parse after Finish to panic")
		}
	}()
	p.Parse("x")
}
