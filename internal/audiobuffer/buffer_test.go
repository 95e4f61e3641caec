package audiobuffer_test

import (
	"testing"

	"github.com/sauropod-io/sauropod-sub000/internal/audiobuffer"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/vad"
)

// scriptedEngine and scriptedSession provide a per-frame sequence of VAD
// results, which the shared pkg/provider/vad/mock package (fixed result per
// session) cannot express.
type scriptedEngine struct {
	events []vad.VADEvent
}

func (e *scriptedEngine) NewSession(vad.Config) (vad.SessionHandle, error) {
	return &scriptedSession{events: e.events}, nil
}

type scriptedSession struct {
	events []vad.VADEvent
	next   int
}

func (s *scriptedSession) ProcessFrame([]byte) (vad.VADEvent, error) {
	if s.next >= len(s.events) {
		return vad.VADEvent{Type: vad.VADSilence}, nil
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

func (s *scriptedSession) Reset()      { s.next = 0 }
func (s *scriptedSession) Close() error { return nil }

func silentFrames(n int) []vad.VADEvent {
	out := make([]vad.VADEvent, n)
	for i := range out {
		out[i] = vad.VADEvent{Type: vad.VADSilence}
	}
	return out
}

func TestBuffer_RunVAD_SegmentsOnTrailingSilence(t *testing.T) {
	t.Parallel()

	cfg := audiobuffer.Config{SampleRate: 16000, FrameMs: 30, SilenceMs: 90, PrefixPadMs: 30, Threshold: 0.5}
	frameSamples := cfg.SampleRate * cfg.FrameMs / 1000

	// 1 leading silence frame, 3 speech frames, 3 trailing silence frames
	// (90ms / 30ms = 3) to close the utterance.
	events := append(silentFrames(1),
		vad.VADEvent{Type: vad.VADSpeechStart},
		vad.VADEvent{Type: vad.VADSpeechContinue},
		vad.VADEvent{Type: vad.VADSpeechContinue},
	)
	events = append(events, silentFrames(3)...)

	buf, err := audiobuffer.New(&scriptedEngine{events: events}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = buf.Close() })

	buf.Extend(make([]int16, frameSamples*len(events)))

	segments, sideEvents, err := buf.RunVAD()
	if err != nil {
		t.Fatalf("RunVAD: %v", err)
	}

	if len(sideEvents) != 2 {
		t.Fatalf("got %d side events, want 2 (SpeechStarted, SpeechStopped): %+v", len(sideEvents), sideEvents)
	}
	if sideEvents[0].Kind != audiobuffer.SpeechStarted || sideEvents[1].Kind != audiobuffer.SpeechStopped {
		t.Fatalf("unexpected side event kinds: %+v", sideEvents)
	}
	if sideEvents[0].ItemID != sideEvents[1].ItemID {
		t.Fatal("SpeechStarted/SpeechStopped item IDs must match")
	}

	if len(segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(segments))
	}
	seg := segments[0]
	if seg.ItemID != sideEvents[0].ItemID {
		t.Fatal("segment item ID must match side event item ID")
	}
	// Prefix pad is 30ms = 1 frame, so the segment should start one frame
	// before the speech-start frame (frame index 1), i.e. at frame index 0.
	if seg.Start != 0 {
		t.Fatalf("seg.Start = %d, want 0 (prefix padded back to buffer start)", seg.Start)
	}
}

func TestBuffer_Flush_ClosesInProgressUtterance(t *testing.T) {
	t.Parallel()

	cfg := audiobuffer.Config{SampleRate: 16000, FrameMs: 30, SilenceMs: 750, PrefixPadMs: 0, Threshold: 0.5}
	frameSamples := cfg.SampleRate * cfg.FrameMs / 1000

	events := []vad.VADEvent{{Type: vad.VADSpeechStart}, {Type: vad.VADSpeechContinue}}
	buf, err := audiobuffer.New(&scriptedEngine{events: events}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = buf.Close() })

	buf.Extend(make([]int16, frameSamples*len(events)))
	if _, _, err := buf.RunVAD(); err != nil {
		t.Fatalf("RunVAD: %v", err)
	}

	seg, ok := buf.Flush()
	if !ok {
		t.Fatal("Flush() ok = false, want true (utterance in progress)")
	}
	if seg.End != buf.Len() {
		t.Fatalf("seg.End = %d, want %d", seg.End, buf.Len())
	}

	if _, ok := buf.Flush(); ok {
		t.Fatal("second Flush() ok = true, want false (no utterance in progress)")
	}
}

func TestBuffer_ConsumeFrom_TrimsAndShiftsIndices(t *testing.T) {
	t.Parallel()

	cfg := audiobuffer.Config{SampleRate: 16000, FrameMs: 30, SilenceMs: 90, PrefixPadMs: 0, Threshold: 0.5}
	frameSamples := cfg.SampleRate * cfg.FrameMs / 1000

	// 2 speech frames, 3 trailing silence frames (90ms / 30ms = 3) close
	// the first utterance, then 2 more speech frames start a second one.
	events := append([]vad.VADEvent{
		{Type: vad.VADSpeechStart},
		{Type: vad.VADSpeechContinue},
	}, silentFrames(3)...)
	events = append(events,
		vad.VADEvent{Type: vad.VADSpeechStart},
		vad.VADEvent{Type: vad.VADSpeechContinue},
	)

	buf, err := audiobuffer.New(&scriptedEngine{events: events}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = buf.Close() })

	buf.Extend(make([]int16, frameSamples*len(events)))
	segments, _, err := buf.RunVAD()
	if err != nil {
		t.Fatalf("RunVAD: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(segments))
	}

	lenBefore := buf.Len()
	seg := segments[0]

	buf.ConsumeFrom(seg.Start, seg.End)

	wantLen := lenBefore - (seg.End - seg.Start)
	if buf.Len() != wantLen {
		t.Fatalf("Len() after ConsumeFrom = %d, want %d", buf.Len(), wantLen)
	}

	// The remaining samples (the still-open second utterance) must still be
	// addressable at the start of the trimmed buffer.
	remaining := buf.Range(0, buf.Len())
	if len(remaining) != wantLen {
		t.Fatalf("Range(0, Len()) returned %d samples, want %d", len(remaining), wantLen)
	}
}

func TestBuffer_ConsumeFrom_ClampsToOpenUtterance(t *testing.T) {
	t.Parallel()

	cfg := audiobuffer.Config{SampleRate: 16000, FrameMs: 30, SilenceMs: 750, PrefixPadMs: 0, Threshold: 0.5}
	frameSamples := cfg.SampleRate * cfg.FrameMs / 1000

	// One utterance that never closes within this call: consuming past its
	// start must be clamped back to where it began.
	events := []vad.VADEvent{
		{Type: vad.VADSpeechStart},
		{Type: vad.VADSpeechContinue},
		{Type: vad.VADSpeechContinue},
	}
	buf, err := audiobuffer.New(&scriptedEngine{events: events}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = buf.Close() })

	buf.Extend(make([]int16, frameSamples*len(events)))
	if _, _, err := buf.RunVAD(); err != nil {
		t.Fatalf("RunVAD: %v", err)
	}

	lenBefore := buf.Len()
	// Ask to consume the entire buffer; the in-progress utterance started
	// at sample 0, so nothing should actually be dropped.
	buf.ConsumeFrom(0, lenBefore)

	if buf.Len() != lenBefore {
		t.Fatalf("Len() = %d, want %d (open utterance should block consumption)", buf.Len(), lenBefore)
	}
}

func TestBuffer_Clear_ResetsState(t *testing.T) {
	t.Parallel()

	cfg := audiobuffer.Config{SampleRate: 16000}
	sess := &scriptedSession{}
	buf, err := audiobuffer.New(&scriptedEngine{}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = sess
	buf.Extend(make([]int16, 480))
	buf.Clear()
	if buf.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Clear", buf.Len())
	}
}
