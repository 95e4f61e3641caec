// Package audiobuffer implements an append-only 16-bit PCM sample buffer with
// voice-activity-driven segmentation into discrete utterance ranges.
//
// Callers append raw audio samples as they arrive from the network with
// [Buffer.Extend], then periodically call [Buffer.RunVAD] to advance
// segmentation over any newly appended audio. RunVAD is frame-synchronous: it
// only evaluates whole [Config.FrameMs] frames and leaves a sub-frame
// remainder for the next call.
//
// A Buffer owns a single [vad.SessionHandle] and is not safe for concurrent
// use; callers needing concurrent access must serialize it externally (see
// the realtime session's audio_buffer lock).
package audiobuffer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/vad"
)

// Defaults mirror the turn-detection constants used throughout the realtime
// session: 30 ms analysis frames, 750 ms of trailing silence to close an
// utterance, and 400 ms of audio retained before the detected speech start.
const (
	DefaultFrameMs      = 30
	DefaultSilenceMs    = 750
	DefaultPrefixPadMs  = 400
	DefaultThreshold    = 0.5
)

// Config parameterizes segmentation behavior. Zero values are replaced with
// the package defaults by [New].
type Config struct {
	SampleRate  int
	FrameMs     int
	SilenceMs   int
	PrefixPadMs int
	Threshold   float64
}

func (c Config) withDefaults() Config {
	if c.FrameMs == 0 {
		c.FrameMs = DefaultFrameMs
	}
	if c.SilenceMs == 0 {
		c.SilenceMs = DefaultSilenceMs
	}
	if c.PrefixPadMs == 0 {
		c.PrefixPadMs = DefaultPrefixPadMs
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	return c
}

// SideEventKind distinguishes the two speech-boundary notifications emitted
// by [Buffer.RunVAD] independently of completed [Segment]s.
type SideEventKind int

const (
	// SpeechStarted fires the instant a frame first crosses the speech
	// threshold, before the corresponding Segment is known (it is not
	// finalized until the matching silence run closes it).
	SpeechStarted SideEventKind = iota
	// SpeechStopped fires when an active utterance's trailing silence run
	// reaches SilenceMs, immediately before its Segment is returned.
	SpeechStopped
)

// SideEvent reports a speech-boundary crossing tagged with the utterance's
// item ID, for server-side event emission independent of segment completion.
type SideEvent struct {
	Kind   SideEventKind
	ItemID uuid.UUID
}

// Segment is a completed utterance range in sample-index coordinates,
// [Start, End), inclusive of PrefixPadMs of leading audio.
type Segment struct {
	Start, End int
	ItemID     uuid.UUID
}

// Buffer is an append-only ring of 16-bit PCM samples with VAD-driven
// utterance segmentation layered on top.
type Buffer struct {
	samples []int16
	cfg     Config
	session vad.SessionHandle

	// vadPos is the sample index up to which RunVAD has already classified
	// whole frames.
	vadPos int

	speaking       bool
	speechStart    int // sample index of the first speech frame, before pad
	silenceRunMs   int
	curItemID      uuid.UUID
}

// New creates a Buffer backed by a fresh VAD session obtained from engine.
// cfg.SampleRate must be set; other fields default per Config.withDefaults.
func New(engine vad.Engine, cfg Config) (*Buffer, error) {
	cfg = cfg.withDefaults()
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("audiobuffer: SampleRate must be positive")
	}
	session, err := engine.NewSession(vad.Config{
		SampleRate:       cfg.SampleRate,
		FrameSizeMs:      cfg.FrameMs,
		SpeechThreshold:  cfg.Threshold,
		SilenceThreshold: cfg.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("audiobuffer: new VAD session: %w", err)
	}
	return &Buffer{cfg: cfg, session: session}, nil
}

// frameSamples is the number of int16 samples in one analysis frame.
func (b *Buffer) frameSamples() int {
	return b.cfg.SampleRate * b.cfg.FrameMs / 1000
}

// Extend appends samples to the end of the buffer. Previously returned
// sample indices remain valid; Extend never reallocates visible history.
func (b *Buffer) Extend(samples []int16) {
	b.samples = append(b.samples, samples...)
}

// Len returns the total number of samples ever appended.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Range returns the samples in [start, end). Both bounds must lie within
// [0, Len()]; Range panics otherwise, matching slice semantics.
func (b *Buffer) Range(start, end int) []int16 {
	return b.samples[start:end]
}

// ConsumeFrom discards samples up to end, reclaiming their backing memory,
// as used by the realtime session after STT has consumed a completed
// Segment's range. Per spec, the buffer never drops past any still-open VAD
// window's start: if an utterance is already in progress (its prefix pad may
// reach back before end), the cut point is clamped to that window's start so
// a still-open segment never loses audio it needs.
func (b *Buffer) ConsumeFrom(start, end int) {
	cut := end
	if b.speaking && b.speechStart < cut {
		cut = b.speechStart
	}
	if cut <= 0 {
		return
	}
	if cut > len(b.samples) {
		cut = len(b.samples)
	}

	remaining := make([]int16, len(b.samples)-cut)
	copy(remaining, b.samples[cut:])
	b.samples = remaining

	b.vadPos -= cut
	if b.vadPos < 0 {
		b.vadPos = 0
	}
	b.speechStart -= cut
	if b.speechStart < 0 {
		b.speechStart = 0
	}
}

// Clear discards all buffered samples and resets VAD state, as used by
// input_audio_buffer.clear. Any in-progress utterance is abandoned without
// emitting a SpeechStopped event.
func (b *Buffer) Clear() {
	b.samples = nil
	b.vadPos = 0
	b.speaking = false
	b.speechStart = 0
	b.silenceRunMs = 0
	b.session.Reset()
}

// Close releases the underlying VAD session.
func (b *Buffer) Close() error {
	return b.session.Close()
}

// RunVAD classifies every whole frame appended since the previous call and
// returns any utterance segments that closed during this call, plus
// speech-boundary side events in the order they occurred. Segments are
// returned only once, when their trailing silence run reaches SilenceMs (or
// sooner, see [Buffer.Flush]).
func (b *Buffer) RunVAD() ([]Segment, []SideEvent, error) {
	frameLen := b.frameSamples()
	if frameLen <= 0 {
		return nil, nil, fmt.Errorf("audiobuffer: invalid frame size")
	}

	var segments []Segment
	var sideEvents []SideEvent

	for b.vadPos+frameLen <= len(b.samples) {
		frame := b.samples[b.vadPos : b.vadPos+frameLen]
		frameBytes := int16ToLEBytes(frame)

		ev, err := b.session.ProcessFrame(frameBytes)
		if err != nil {
			return segments, sideEvents, fmt.Errorf("audiobuffer: process frame: %w", err)
		}

		isSpeech := ev.Type == vad.VADSpeechStart || ev.Type == vad.VADSpeechContinue

		switch {
		case isSpeech && !b.speaking:
			b.speaking = true
			b.curItemID = uuid.New()
			padSamples := b.cfg.PrefixPadMs * b.cfg.SampleRate / 1000
			b.speechStart = b.vadPos - padSamples
			if b.speechStart < 0 {
				b.speechStart = 0
			}
			b.silenceRunMs = 0
			sideEvents = append(sideEvents, SideEvent{Kind: SpeechStarted, ItemID: b.curItemID})

		case isSpeech && b.speaking:
			b.silenceRunMs = 0

		case !isSpeech && b.speaking:
			b.silenceRunMs += b.cfg.FrameMs
			if b.silenceRunMs >= b.cfg.SilenceMs {
				end := b.vadPos + frameLen - (b.silenceRunMs * b.cfg.SampleRate / 1000)
				if end < b.speechStart {
					end = b.speechStart
				}
				segments = append(segments, Segment{Start: b.speechStart, End: end, ItemID: b.curItemID})
				sideEvents = append(sideEvents, SideEvent{Kind: SpeechStopped, ItemID: b.curItemID})
				b.speaking = false
				b.silenceRunMs = 0
			}
		}

		b.vadPos += frameLen
	}

	return segments, sideEvents, nil
}

// Flush force-closes an in-progress utterance at the current buffer end,
// used by input_audio_buffer.commit to finalize a segment without waiting
// for SilenceMs of trailing silence. Returns the zero Segment and false if no
// utterance is in progress.
func (b *Buffer) Flush() (Segment, bool) {
	if !b.speaking {
		return Segment{}, false
	}
	seg := Segment{Start: b.speechStart, End: len(b.samples), ItemID: b.curItemID}
	b.speaking = false
	b.silenceRunMs = 0
	return seg, true
}

func int16ToLEBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
