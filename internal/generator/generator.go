// Package generator bridges a streaming [llm.Provider] completion to the
// ordered [responsestream.Event] sequence consumed by a realtime session or
// the Responses HTTP endpoint.
package generator

import (
	"context"
	"fmt"

	"github.com/sauropod-io/sauropod-sub000/internal/modelpool"
	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
	"github.com/sauropod-io/sauropod-sub000/internal/responsestream"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
)

// RenderContext carries per-response metadata that the caller wants echoed
// back on the assembled Response, independent of the request content itself.
type RenderContext struct {
	ResponseID string
	Model      string
	Family     outputparser.Family
	Device     string
}

// GenerateStream submits req to the model pool on renderCtx.Device and
// returns a channel of [responsestream.Event] values assembled from the raw
// token stream. The channel always starts with EventResponseCreated and ends
// with either EventResponseCompleted or an error — surfaced to the caller as
// the returned error only if the stream could not be started at all;
// mid-stream provider errors close the channel after emitting whatever
// completion events the partial output allows.
func GenerateStream(ctx context.Context, req llm.CompletionRequest, renderCtx RenderContext) (<-chan responsestream.Event, error) {
	device := renderCtx.Device
	if device == "" {
		device = modelpool.DefaultDevice
	}

	chunks, err := modelpool.Get().StreamCompletion(ctx, device, req)
	if err != nil {
		return nil, fmt.Errorf("generator: stream completion: %w", err)
	}

	parser := outputparser.New(renderCtx.Family)
	asm := responsestream.New(parser, responsestream.Response{
		ID:    renderCtx.ResponseID,
		Model: renderCtx.Model,
	})

	out := make(chan responsestream.Event, 16)
	go func() {
		defer close(out)

		emit := func(events []responsestream.Event) bool {
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for chunk := range chunks {
			if chunk.FinishReason == "error" {
				break
			}
			if chunk.Text != "" {
				if !emit(asm.PushPart(chunk.Text)) {
					return
				}
			}
			if chunk.FinishReason != "" {
				break
			}
		}

		emit(asm.Finish())
	}()

	return out, nil
}
