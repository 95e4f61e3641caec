// Package realtime implements one Realtime WebSocket connection's lifecycle:
// session configuration, audio ingestion and turn detection, generation
// dispatch, and TTS/barge-in playback.
//
// Lock order is strictly cfgMu -> bufMu -> convMu, matching the teacher's
// s2s.Engine convention of acquiring a lock only long enough to snapshot a
// reference before releasing it for any blocking call (STT, the model, TTS).
package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sauropod-io/sauropod-sub000/internal/audiobuffer"
	"github.com/sauropod-io/sauropod-sub000/internal/conversation"
	"github.com/sauropod-io/sauropod-sub000/internal/generator"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp"
	"github.com/sauropod-io/sauropod-sub000/internal/mcp/tier"
	audiomixer "github.com/sauropod-io/sauropod-sub000/pkg/audio/mixer"
	"github.com/sauropod-io/sauropod-sub000/internal/resilience"
	"github.com/sauropod-io/sauropod-sub000/internal/responsestream"
	"github.com/sauropod-io/sauropod-sub000/pkg/audio"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/stt"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/tts"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/vad"
)

// maxToolRounds bounds how many tool-call/response round-trips a single
// triggerResponse may take before the session gives up and surfaces
// whatever text the model produced. Guards against a model that never
// stops calling tools.
const maxToolRounds = 4

// Deps bundles the provider-level collaborators a Session needs. STT and TTS
// should usually be a [resilience.STTFallback]/[resilience.TTSFallback]
// wrapping the configured primary + fallback providers, per SPEC_FULL §9.
type Deps struct {
	VADEngine vad.Engine
	STT       stt.Provider
	TTS       tts.Provider
	Emit      func(ServerEvent) // delivers a server event to the transport layer

	// MCPHost, if non-nil, exposes [mcp.Host.AvailableTools] to the model when
	// a session.update does not already set explicit tools, and backs
	// function-call execution in the generation loop. Nil disables tool use
	// for the session entirely.
	MCPHost mcp.Host

	// TierSelector picks the [mcp.BudgetTier] that bounds which tools
	// AvailableTools exposes for a turn, based on the user's latest
	// transcript. Nil means every turn uses [mcp.BudgetFast].
	TierSelector *tier.Selector
}

// Session encapsulates one Realtime WebSocket connection's state and serial
// client-event processing loop.
type Session struct {
	id string

	cfgMu sync.Mutex
	cfg   SessionConfig

	bufMu sync.Mutex
	buf   *audiobuffer.Buffer

	convMu       sync.Mutex
	conv         *conversation.State
	lastUserText string // most recent user input; drives tier.Selector.Select

	deps Deps

	cancel atomic.Pointer[context.CancelFunc]
	genMu  sync.Mutex
	genBusy bool

	mixer *audiomixer.PriorityMixer
}

// New creates a Session with a fresh audio buffer and conversation state. The
// VAD engine and STT/TTS providers in deps are used for the lifetime of the
// session.
func New(deps Deps) (*Session, error) {
	buf, err := audiobuffer.New(deps.VADEngine, audiobuffer.Config{SampleRate: 16000})
	if err != nil {
		return nil, fmt.Errorf("realtime: new audio buffer: %w", err)
	}

	s := &Session{
		id:   uuid.New().String(),
		cfg:  defaultSessionConfig(),
		buf:  buf,
		conv: conversation.New(conversation.Config{MaxTokens: 8000}),
		deps: deps,
	}

	s.mixer = audiomixer.New(s.playbackOutput)
	return s, nil
}

// playbackOutput is the PriorityMixer's output callback; in this package it
// re-emits mixed PCM as ResponseAudioDelta events rather than writing to a
// live speaker, since actual sink selection is a transport concern.
func (s *Session) playbackOutput(chunk []byte) {
	s.deps.Emit(ServerEvent{
		Kind:        ServerResponseAudioDelta,
		AudioBase64: base64.StdEncoding.EncodeToString(chunk),
	})
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// HandleClientEvent dispatches one inbound client event. Called serially from
// the connection's single reader goroutine — see package doc for the lock
// order this method and its helpers must respect.
func (s *Session) HandleClientEvent(ctx context.Context, ev ClientEvent) {
	switch ev.Kind {
	case ClientSessionUpdate:
		s.handleSessionUpdate(ev.ConfigUpdate)
	case ClientInputAudioBufferAppend:
		s.handleAudioAppend(ctx, ev.Base64Audio)
	case ClientInputAudioBufferClear:
		s.handleAudioClear()
	case ClientInputAudioBufferCommit:
		s.emitError(ErrUnsupportedFeature, "input_audio_buffer.commit is not supported")
	case ClientConversationItemCreate:
		s.handleConversationItemCreate(ctx, ev.ItemRole, ev.ItemText, ev.PreviousItemID)
	case ClientConversationItemRetrieve, ClientConversationItemDelete, ClientConversationItemTruncate:
		s.emitError(ErrUnsupportedFeature, "conversation item retrieve/delete/truncate are not supported")
	case ClientResponseCreate:
		s.triggerResponse(ctx, ev.ResponseOverride)
	case ClientResponseCancel:
		s.cancelActiveResponse()
	}
}

func (s *Session) emitError(kind ErrorKind, msg string) {
	s.deps.Emit(ServerEvent{
		Kind:         ServerError,
		EventID:      uuid.New().String(),
		ErrorKind:    kind,
		ErrorMessage: msg,
	})
}

// handleSessionUpdate merges a field-wise config update under cfgMu only;
// voice availability is assumed pre-validated by the transport layer that
// constructed the ClientEvent (no TTS catalogue lookup happens here).
func (s *Session) handleSessionUpdate(upd SessionConfigUpdate) {
	s.cfgMu.Lock()
	if upd.Modalities != nil {
		s.cfg.Modalities = upd.Modalities
	}
	if upd.Voice != nil {
		s.cfg.Voice = *upd.Voice
	}
	if upd.Model != nil {
		s.cfg.Model = *upd.Model
	}
	if upd.Family != nil {
		s.cfg.Family = *upd.Family
	}
	if upd.Instructions != nil {
		s.cfg.Instructions = *upd.Instructions
	}
	if upd.Tools != nil {
		s.cfg.Tools = upd.Tools
	}
	if upd.Temperature != nil {
		s.cfg.Temperature = *upd.Temperature
	}
	if upd.MaxOutputTokens != nil {
		s.cfg.MaxOutputTokens = *upd.MaxOutputTokens
	}
	if upd.VAD != nil {
		s.cfg.VAD = *upd.VAD
	}
	s.cfgMu.Unlock()

	s.deps.Emit(ServerEvent{Kind: ServerSessionUpdated})
}

// handleAudioAppend decodes base64 PCM16, extends the audio buffer, and runs
// turn detection. Each completed segment spawns an independent generation
// task; none of this blocks while holding cfgMu.
func (s *Session) handleAudioAppend(ctx context.Context, b64 string) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.emitError(ErrInvalidRequest, "invalid base64 audio payload")
		return
	}
	samples := bytesToInt16LE(raw)

	// VAD thresholds are fixed at buffer construction and are not updated by
	// session.update here — see DESIGN.md Open Question (d).
	s.bufMu.Lock()
	s.buf.Extend(samples)
	segments, sideEvents, err := s.buf.RunVAD()
	s.bufMu.Unlock()

	if err != nil {
		slog.Warn("realtime: vad run failed", "session", s.id, "err", err)
		return
	}

	for _, se := range sideEvents {
		switch se.Kind {
		case audiobuffer.SpeechStarted:
			s.deps.Emit(ServerEvent{Kind: ServerInputAudioBufferSpeechStarted, ItemID: se.ItemID.String()})
			s.mixer.Interrupt(audio.PlayerBargeIn)
		case audiobuffer.SpeechStopped:
			s.deps.Emit(ServerEvent{Kind: ServerInputAudioBufferSpeechStopped, ItemID: se.ItemID.String()})
		}
	}

	for _, seg := range segments {
		s.bufMu.Lock()
		segSamples := s.buf.Range(seg.Start, seg.End)
		s.buf.ConsumeFrom(seg.Start, seg.End)
		s.bufMu.Unlock()

		go s.transcribeAndRespond(ctx, seg.ItemID.String(), segSamples)
	}
}

func (s *Session) handleAudioClear() {
	s.bufMu.Lock()
	s.buf.Clear()
	s.bufMu.Unlock()
}

// transcribeAndRespond runs one-shot STT over a completed VAD segment, emits
// the transcription event, appends the transcript to conversation state, and
// starts the generation flow. Runs outside any Session lock.
func (s *Session) transcribeAndRespond(ctx context.Context, itemID string, samples []int16) {
	transcript, err := s.runSTT(ctx, samples)
	if err != nil {
		slog.Warn("realtime: transcription failed", "session", s.id, "item", itemID, "err", err)
		return
	}
	if transcript == "" {
		return
	}

	s.deps.Emit(ServerEvent{
		Kind:       ServerConversationItemInputAudioTranscriptionCompleted,
		ItemID:     itemID,
		Transcript: transcript,
	})

	s.convMu.Lock()
	_, err = s.conv.AddInputItem(ctx, conversation.RoleUser, transcript, "")
	s.lastUserText = transcript
	s.convMu.Unlock()
	if err != nil {
		s.emitError(ErrGenerationFailed, fmt.Sprintf("append transcript: %v", err))
		return
	}

	s.triggerResponse(ctx, nil)
}

// runSTT opens a short-lived STT session, streams samples, and waits for the
// first final transcript (or the session's Finals channel closing).
func (s *Session) runSTT(ctx context.Context, samples []int16) (string, error) {
	sess, err := s.deps.STT.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		return "", fmt.Errorf("start stream: %w", err)
	}
	defer sess.Close()

	if err := sess.SendAudio(int16LEBytes(samples)); err != nil {
		return "", fmt.Errorf("send audio: %w", err)
	}

	select {
	case t, ok := <-sess.Finals():
		if !ok {
			return "", nil
		}
		return t.Text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// handleConversationItemCreate appends a client-supplied item and triggers a
// response, per spec.md's ConversationItemCreate row.
func (s *Session) handleConversationItemCreate(ctx context.Context, role, text, previousItemID string) {
	s.convMu.Lock()
	item, err := s.conv.AddInputItem(ctx, conversation.ItemRole(role), text, previousItemID)
	if role == string(conversation.RoleUser) {
		s.lastUserText = text
	}
	s.convMu.Unlock()
	if err != nil {
		s.emitError(ErrInvalidRequest, fmt.Sprintf("add conversation item: %v", err))
		return
	}

	s.deps.Emit(ServerEvent{Kind: ServerConversationItemCreated, Item: item})
	s.triggerResponse(ctx, nil)
}

// triggerResponse starts a generation task, applying override fields if
// present. Per spec.md §5, a new response is not started while a prior one
// is still in flight — generation tasks are sequential within a session.
func (s *Session) triggerResponse(ctx context.Context, override *SessionConfigUpdate) {
	s.genMu.Lock()
	if s.genBusy {
		s.genMu.Unlock()
		s.emitError(ErrInvalidRequest, "a response is already in progress")
		return
	}
	s.genBusy = true
	s.genMu.Unlock()

	genCtx, cancel := context.WithCancel(ctx)
	s.cancel.Store(&cancel)

	s.cfgMu.Lock()
	cfg := s.cfg
	s.cfgMu.Unlock()
	if override != nil {
		if override.Instructions != nil {
			cfg.Instructions = *override.Instructions
		}
		if override.Tools != nil {
			cfg.Tools = override.Tools
		}
		if override.MaxOutputTokens != nil {
			cfg.MaxOutputTokens = *override.MaxOutputTokens
		}
		if override.Temperature != nil {
			cfg.Temperature = *override.Temperature
		}
	}

	if cfg.Tools == nil {
		cfg.Tools = s.availableTools()
	}

	s.convMu.Lock()
	req := s.conv.MakeRequest(cfg.Instructions, cfg.Tools)
	s.convMu.Unlock()
	req.Temperature = cfg.Temperature
	req.MaxTokens = cfg.MaxOutputTokens

	go s.runGeneration(genCtx, req, cfg)
}

// availableTools asks deps.MCPHost for the tool catalogue visible at the
// budget tier deps.TierSelector assigns this turn, based on the most recent
// user transcript. Returns nil (no tools offered) if no MCP host is wired.
func (s *Session) availableTools() []llm.ToolDefinition {
	if s.deps.MCPHost == nil {
		return nil
	}

	budget := mcp.BudgetFast
	if s.deps.TierSelector != nil {
		s.convMu.Lock()
		text := s.lastUserText
		s.convMu.Unlock()
		budget = s.deps.TierSelector.Select(text, 0)
		s.deps.TierSelector.RecordTurn()
	}

	defs := s.deps.MCPHost.AvailableTools(budget)
	if len(defs) == 0 {
		return nil
	}
	return defs
}

// cancelActiveResponse requests cancellation of the in-flight generation
// task, if any. Checked cooperatively at every model-stream step.
func (s *Session) cancelActiveResponse() {
	if p := s.cancel.Load(); p != nil {
		(*p)()
	}
}

// runGeneration drives a response to completion, forwarding each
// responsestream.Event to its Realtime wire equivalent and triggering TTS on
// TextDone when audio modality is enabled. When the model's final output
// includes a function call, runGeneration executes it against deps.MCPHost,
// appends the call and its result to the conversation, and re-generates —
// up to [maxToolRounds] round-trips — before surfacing whatever the model
// ultimately produced.
func (s *Session) runGeneration(ctx context.Context, req llm.CompletionRequest, cfg SessionConfig) {
	defer func() {
		s.genMu.Lock()
		s.genBusy = false
		s.genMu.Unlock()
	}()

	for round := 0; ; round++ {
		final, ok := s.runOneRound(ctx, req, cfg)
		if !ok {
			return
		}
		if final.ID == "" {
			return
		}

		calls := toolCalls(final)
		if len(calls) == 0 || s.deps.MCPHost == nil || round >= maxToolRounds-1 {
			s.appendResponseToConversation(ctx, final)
			s.deps.Emit(ServerEvent{Kind: ServerResponseDone})
			return
		}

		s.appendResponseToConversation(ctx, final)
		s.executeToolCalls(ctx, calls)

		s.convMu.Lock()
		req = s.conv.MakeRequest(cfg.Instructions, cfg.Tools)
		s.convMu.Unlock()
		req.Temperature = cfg.Temperature
		req.MaxTokens = cfg.MaxOutputTokens
	}
}

// runOneRound drives a single generator.GenerateStream call to completion,
// forwarding its events. ok is false if the caller should stop immediately
// (start failure or cancellation); a zero-value Response with ok true means
// the stream closed without completing (also a stop condition for the
// caller, handled uniformly via final.ID == "").
func (s *Session) runOneRound(ctx context.Context, req llm.CompletionRequest, cfg SessionConfig) (final responsestream.Response, ok bool) {
	responseID := uuid.New().String()
	events, err := generator.GenerateStream(ctx, req, generator.RenderContext{
		ResponseID: responseID,
		Model:      cfg.Model,
		Family:     cfg.Family,
	})
	if err != nil {
		s.deps.Emit(ServerEvent{Kind: ServerResponseFailed, ErrorMessage: err.Error()})
		return responsestream.Response{}, false
	}

	for ev := range events {
		if ctx.Err() != nil {
			s.deps.Emit(ServerEvent{Kind: ServerResponseCancelled})
			return responsestream.Response{}, false
		}

		s.deps.Emit(streamToServerEvent(ev))

		if ev.Type == responsestream.EventTextDone && cfg.audioModalityEnabled() {
			s.speakText(ctx, ev.Text, ev.ItemID, ev.OutputIndex)
		}
		if ev.Type == responsestream.EventResponseCompleted {
			final = ev.Response
		}
	}

	// The events channel can close with nothing sent at all if cancellation
	// landed before the generator emitted its first event; the in-loop check
	// above never ran in that case, so it's re-checked once more here.
	if ctx.Err() != nil {
		s.deps.Emit(ServerEvent{Kind: ServerResponseCancelled})
		return responsestream.Response{}, false
	}
	return final, true
}

// toolCalls extracts the function-call output items from a completed
// response.
func toolCalls(resp responsestream.Response) []responsestream.OutputItem {
	var calls []responsestream.OutputItem
	for _, item := range resp.Output {
		if item.Kind == responsestream.ItemFunctionToolCall {
			calls = append(calls, item)
		}
	}
	return calls
}

// executeToolCalls runs each call against deps.MCPHost and appends its
// result as a tool-role conversation item, so the next round's request
// includes it in history. A transport or protocol failure is recorded as an
// error-flagged tool result rather than aborting the round — the model gets
// a chance to recover (retry, pick a different tool, or answer without it).
func (s *Session) executeToolCalls(ctx context.Context, calls []responsestream.OutputItem) {
	for _, call := range calls {
		result, err := s.deps.MCPHost.ExecuteTool(ctx, call.Name, call.Arguments)
		content := ""
		switch {
		case err != nil:
			content = fmt.Sprintf("tool error: %v", err)
		case result.IsError:
			content = result.Content
		default:
			content = result.Content
		}

		s.convMu.Lock()
		_ = s.conv.AddResponseItem(ctx, conversation.Item{
			Role:       conversation.RoleTool,
			Text:       content,
			ToolCallID: call.CallID,
		})
		s.convMu.Unlock()
	}
}

// appendResponseToConversation records every completed output item of resp
// as a conversation item, per spec.md's "ResponseCompleted triggers
// conversation.add_response".
func (s *Session) appendResponseToConversation(ctx context.Context, resp responsestream.Response) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	for _, item := range resp.Output {
		var text string
		if len(item.Content) > 0 {
			text = item.Content[0].Text
		}
		var toolCalls []llm.ToolCall
		if item.Name != "" {
			toolCalls = []llm.ToolCall{{ID: item.CallID, Name: item.Name, Arguments: item.Arguments}}
		}
		_ = s.conv.AddResponseItem(ctx, conversation.Item{
			ID:        item.ID,
			Role:      conversation.RoleAssistant,
			Text:      text,
			ToolCalls: toolCalls,
		})
	}
}

// speakText synthesizes text via TTS and enqueues it into the priority
// mixer, so a subsequent barge-in can preempt in-flight playback. The mixer
// delivers chunks to playbackOutput as ResponseAudioDelta events; speakText
// waits on the segment's Done channel before emitting AudioDone/
// ContentPartDone, so the wire sequence spec.md §4.5 requires
// (ContentPartAdded, AudioDelta*, AudioDone, ContentPartDone) stays ordered
// even though the mixer dispatches chunks on its own goroutine.
func (s *Session) speakText(ctx context.Context, text, itemID string, outputIndex int) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := s.deps.TTS.SynthesizeStream(ctx, textCh, s.sessionVoice())
	if err != nil {
		slog.Warn("realtime: tts synthesis failed", "session", s.id, "err", err)
		return
	}

	s.deps.Emit(ServerEvent{Kind: ServerResponseContentPartAdded, ItemID: itemID, OutputIndex: outputIndex})

	segment := &audio.AudioSegment{
		Audio:      audioCh,
		SampleRate: 24000,
		Channels:   1,
		Done:       make(chan struct{}),
	}
	s.mixer.Enqueue(segment, 0)

	select {
	case <-segment.Done:
	case <-ctx.Done():
	}

	s.deps.Emit(ServerEvent{Kind: ServerResponseAudioDone, ItemID: itemID, OutputIndex: outputIndex})
	s.deps.Emit(ServerEvent{Kind: ServerResponseContentPartDone, ItemID: itemID, OutputIndex: outputIndex})
}

func (s *Session) sessionVoice() tts.VoiceProfile {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.Voice
}

// Close releases the session's audio buffer and mixer resources. Safe to
// call once; the underlying VAD session and mixer dispatch goroutine are
// both closed.
func (s *Session) Close() error {
	s.cancelActiveResponse()
	s.mixer.Close()

	s.bufMu.Lock()
	err := s.buf.Close()
	s.bufMu.Unlock()
	return err
}

// Compile-time assertion that resilience fallbacks satisfy the provider
// interfaces Deps expects, so a caller can wrap Deps.STT/TTS in a
// [resilience.STTFallback]/[resilience.TTSFallback] without type friction.
var (
	_ stt.Provider = (*resilience.STTFallback)(nil)
	_ tts.Provider = (*resilience.TTSFallback)(nil)
)
