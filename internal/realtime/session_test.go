package realtime_test

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/sauropod-io/sauropod-sub000/internal/modelpool"
	"github.com/sauropod-io/sauropod-sub000/internal/realtime"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
	llmmock "github.com/sauropod-io/sauropod-sub000/pkg/provider/llm/mock"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/stt"
	sttmock "github.com/sauropod-io/sauropod-sub000/pkg/provider/stt/mock"
	ttsmock "github.com/sauropod-io/sauropod-sub000/pkg/provider/tts/mock"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/vad"
	vadmock "github.com/sauropod-io/sauropod-sub000/pkg/provider/vad/mock"
	"github.com/sauropod-io/sauropod-sub000/pkg/types"
)

// switchableProvider lets each test point the process-wide modelpool at a
// different llm.Provider, working around [modelpool.Init]'s sync.Once —
// only the first Init call in a test binary actually installs anything.
type switchableProvider struct {
	mu       sync.Mutex
	delegate llm.Provider
}

func (s *switchableProvider) set(p llm.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = p
}

func (s *switchableProvider) current() llm.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}

func (s *switchableProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return s.current().StreamCompletion(ctx, req)
}

func (s *switchableProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return s.current().Complete(ctx, req)
}

func (s *switchableProvider) CountTokens(messages []llm.Message) (int, error) {
	return s.current().CountTokens(messages)
}

func (s *switchableProvider) Capabilities() llm.ModelCapabilities {
	return s.current().Capabilities()
}

var (
	sharedPool     = &switchableProvider{}
	sharedPoolOnce sync.Once
)

func usePool(p llm.Provider) {
	sharedPoolOnce.Do(func() { modelpool.Init(sharedPool) })
	sharedPool.set(p)
}

// recorder collects ServerEvents emitted by a Session in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []realtime.ServerEvent
}

func (r *recorder) emit(ev realtime.ServerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []realtime.ServerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.ServerEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) waitFor(t *testing.T, kind realtime.ServerEventKind, timeout time.Duration) realtime.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range r.snapshot() {
			if ev.Kind == kind {
				return ev
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for event kind %v; got %+v", kind, r.snapshot())
	return realtime.ServerEvent{}
}

func newSession(t *testing.T, vadEngine vad.Engine, sttProvider stt.Provider, ttsProvider *ttsmock.Provider) (*realtime.Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	if vadEngine == nil {
		vadEngine = &vadmock.Engine{}
	}
	if sttProvider == nil {
		sttProvider = &sttmock.Provider{Session: &sttmock.Session{FinalsCh: make(chan types.Transcript)}}
	}
	sess, err := realtime.New(realtime.Deps{
		VADEngine: vadEngine,
		STT:       sttProvider,
		TTS:       ttsProvider,
		Emit:      rec.emit,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess, rec
}

func TestSession_ConversationItemCreate_TriggersTextResponse(t *testing.T) {
	usePool(&llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "hi"},
		{Text: " there", FinishReason: "stop"},
	}})

	sess, rec := newSession(t, nil, nil, &ttsmock.Provider{})

	sess.HandleClientEvent(context.Background(), realtime.ClientEvent{
		Kind:     realtime.ClientConversationItemCreate,
		ItemRole: "user",
		ItemText: "hello",
	})

	created := rec.waitFor(t, realtime.ServerConversationItemCreated, time.Second)
	if created.Item == nil {
		t.Fatalf("expected ConversationItemCreated to carry an Item")
	}

	rec.waitFor(t, realtime.ServerResponseDone, time.Second)
}

func TestSession_UnsupportedClientEvents_EmitError(t *testing.T) {
	usePool(&llmmock.Provider{})
	sess, rec := newSession(t, nil, nil, &ttsmock.Provider{})

	cases := []realtime.ClientEvent{
		{Kind: realtime.ClientInputAudioBufferCommit},
		{Kind: realtime.ClientConversationItemRetrieve},
		{Kind: realtime.ClientConversationItemDelete},
		{Kind: realtime.ClientConversationItemTruncate},
	}
	for _, ev := range cases {
		sess.HandleClientEvent(context.Background(), ev)
	}

	rec.waitFor(t, realtime.ServerError, time.Second)

	var errCount int
	for _, ev := range rec.snapshot() {
		if ev.Kind == realtime.ServerError {
			errCount++
		}
	}
	if errCount != len(cases) {
		t.Fatalf("expected %d error events, got %d", len(cases), errCount)
	}
}

func TestSession_AudioAppend_TranscribesAndTriggersResponse(t *testing.T) {
	usePool(&llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ack", FinishReason: "stop"}}})

	finals := make(chan types.Transcript, 1)
	finals <- types.Transcript{Text: "hello there"}
	sttProvider := &sttmock.Provider{Session: &sttmock.Session{FinalsCh: finals}}

	// One speech-start frame, two continuing-speech frames, then enough
	// trailing silence frames (25 * 30ms = 750ms, the audio buffer's default
	// SilenceMs) to close the utterance — mirrors internal/audiobuffer's own
	// VAD-scripting test convention, since the shared vad/mock package
	// returns only one fixed result per session.
	vadEvents := []vad.VADEvent{
		{Type: vad.VADSpeechStart},
		{Type: vad.VADSpeechContinue},
		{Type: vad.VADSpeechContinue},
	}
	for i := 0; i < 25; i++ {
		vadEvents = append(vadEvents, vad.VADEvent{Type: vad.VADSilence})
	}
	vadEngine := &vadmock.Engine{Session: &scriptedVADSession{events: vadEvents}}

	sess, rec := newSession(t, vadEngine, sttProvider, &ttsmock.Provider{})

	frameSamples := 16000 * 30 / 1000
	samples := make([]int16, frameSamples*len(vadEvents))
	b64 := base64.StdEncoding.EncodeToString(int16ToBytes(samples))

	sess.HandleClientEvent(context.Background(), realtime.ClientEvent{
		Kind:        realtime.ClientInputAudioBufferAppend,
		Base64Audio: b64,
	})

	rec.waitFor(t, realtime.ServerInputAudioBufferSpeechStarted, time.Second)
	rec.waitFor(t, realtime.ServerInputAudioBufferSpeechStopped, time.Second)
	transcribed := rec.waitFor(t, realtime.ServerConversationItemInputAudioTranscriptionCompleted, time.Second)
	if transcribed.Transcript != "hello there" {
		t.Fatalf("expected transcript %q, got %q", "hello there", transcribed.Transcript)
	}
	rec.waitFor(t, realtime.ServerResponseDone, time.Second)
}

func TestSession_TTSOnTextDone_EmitsOrderedAudioSequence(t *testing.T) {
	usePool(&llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "spoken reply", FinishReason: "stop"}}})

	ttsProvider := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("pcm1"), []byte("pcm2")}}
	sess, rec := newSession(t, nil, nil, ttsProvider)

	sess.HandleClientEvent(context.Background(), realtime.ClientEvent{
		Kind: realtime.ClientSessionUpdate,
		ConfigUpdate: realtime.SessionConfigUpdate{
			Modalities: []string{"text", "audio"},
		},
	})
	rec.waitFor(t, realtime.ServerSessionUpdated, time.Second)

	sess.HandleClientEvent(context.Background(), realtime.ClientEvent{
		Kind:     realtime.ClientConversationItemCreate,
		ItemRole: "user",
		ItemText: "speak please",
	})

	rec.waitFor(t, realtime.ServerResponseContentPartDone, time.Second)

	var (
		partAddedIdx = -1
		doneIdx      = -1
		partDoneIdx  = -1
		deltaCount   int
	)
	for i, ev := range rec.snapshot() {
		switch ev.Kind {
		case realtime.ServerResponseContentPartAdded:
			if partAddedIdx == -1 {
				partAddedIdx = i
			}
		case realtime.ServerResponseAudioDelta:
			deltaCount++
		case realtime.ServerResponseAudioDone:
			if doneIdx == -1 {
				doneIdx = i
			}
		case realtime.ServerResponseContentPartDone:
			if partDoneIdx == -1 {
				partDoneIdx = i
			}
		}
	}

	if partAddedIdx == -1 || doneIdx == -1 || partDoneIdx == -1 {
		t.Fatalf("missing expected audio lifecycle events: %+v", rec.snapshot())
	}
	if !(partAddedIdx < doneIdx && doneIdx < partDoneIdx) {
		t.Fatalf("audio lifecycle out of order: added=%d done=%d partDone=%d", partAddedIdx, doneIdx, partDoneIdx)
	}
	if deltaCount != len(ttsProvider.SynthesizeChunks) {
		t.Fatalf("expected %d audio deltas, got %d", len(ttsProvider.SynthesizeChunks), deltaCount)
	}
}

func TestSession_ResponseCancel_StopsInFlightGeneration(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	usePool(&blockingProvider{onStart: func() { close(started) }, block: block})

	sess, rec := newSession(t, nil, nil, &ttsmock.Provider{})

	sess.HandleClientEvent(context.Background(), realtime.ClientEvent{
		Kind:     realtime.ClientConversationItemCreate,
		ItemRole: "user",
		ItemText: "hang on",
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("generation never started")
	}

	sess.HandleClientEvent(context.Background(), realtime.ClientEvent{Kind: realtime.ClientResponseCancel})
	close(block)

	rec.waitFor(t, realtime.ServerResponseCancelled, time.Second)

	for _, ev := range rec.snapshot() {
		if ev.Kind == realtime.ServerResponseDone {
			t.Fatalf("cancelled generation must not emit ResponseDone")
		}
	}
}

// scriptedVADSession mirrors internal/audiobuffer's own test double: the
// shared vad/mock package returns a single fixed VADEvent, which cannot
// express a per-frame sequence.
type scriptedVADSession struct {
	events []vad.VADEvent
	next   int
}

func (s *scriptedVADSession) ProcessFrame([]byte) (vad.VADEvent, error) {
	if s.next >= len(s.events) {
		return vad.VADEvent{Type: vad.VADSilence}, nil
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

func (s *scriptedVADSession) Reset()       { s.next = 0 }
func (s *scriptedVADSession) Close() error { return nil }

var _ vad.SessionHandle = (*scriptedVADSession)(nil)

// blockingProvider is a minimal llm.Provider whose StreamCompletion blocks
// until block is closed, used to deterministically exercise mid-stream
// cancellation.
type blockingProvider struct {
	onStart func()
	block   <-chan struct{}
}

func (p *blockingProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		if p.onStart != nil {
			p.onStart()
		}
		select {
		case <-p.block:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *blockingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, nil
}

func (p *blockingProvider) CountTokens(messages []llm.Message) (int, error) {
	return 0, nil
}

func (p *blockingProvider) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }

var _ llm.Provider = (*blockingProvider)(nil)

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
