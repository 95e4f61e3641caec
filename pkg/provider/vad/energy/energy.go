// Package energy provides a dependency-free [vad.Engine] backed by simple
// RMS amplitude thresholding, for deployments that have no ML-based VAD
// model available. It trades accuracy for zero external dependencies: no
// ONNX runtime or model file to provision.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sauropod-io/sauropod-sub000/pkg/provider/vad"
)

// Engine is a [vad.Engine] that classifies frames purely by RMS amplitude
// against the session's configured thresholds.
type Engine struct{}

// New returns a ready-to-use Engine. It takes no arguments because the
// detector has no external state to load.
func New() *Engine {
	return &Engine{}
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: frame size must be positive, got %dms", cfg.FrameSizeMs)
	}
	frameSamples := cfg.SampleRate * cfg.FrameSizeMs / 1000
	return &session{cfg: cfg, frameBytes: frameSamples * 2}, nil
}

// session tracks whether the previous frame was classified as speech, so
// ProcessFrame can emit SpeechStart/SpeechEnd transition events rather than
// just steady-state SpeechContinue/Silence.
type session struct {
	cfg        vad.Config
	frameBytes int
	inSpeech   bool
}

// ProcessFrame implements [vad.SessionHandle.ProcessFrame].
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	prob := rmsProbability(frame)

	switch {
	case prob >= s.cfg.SpeechThreshold:
		wasSpeech := s.inSpeech
		s.inSpeech = true
		if wasSpeech {
			return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: prob}, nil
		}
		return vad.VADEvent{Type: vad.VADSpeechStart, Probability: prob}, nil
	case prob <= s.cfg.SilenceThreshold:
		wasSpeech := s.inSpeech
		s.inSpeech = false
		if wasSpeech {
			return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: prob}, nil
		}
		return vad.VADEvent{Type: vad.VADSilence, Probability: prob}, nil
	default:
		// Inside the hysteresis band: hold the previous classification.
		if s.inSpeech {
			return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: prob}, nil
		}
		return vad.VADEvent{Type: vad.VADSilence, Probability: prob}, nil
	}
}

// Reset implements [vad.SessionHandle.Reset].
func (s *session) Reset() {
	s.inSpeech = false
}

// Close implements [vad.SessionHandle.Close].
func (s *session) Close() error {
	return nil
}

// rmsProbability computes the normalized RMS amplitude of a little-endian
// PCM16 frame as a value in [0, 1], clipping full-scale noise at 1.0.
func rmsProbability(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
		f := float64(sample) / math.MaxInt16
		sumSquares += f * f
	}
	rms := math.Sqrt(sumSquares / float64(n))
	if rms > 1 {
		rms = 1
	}
	return rms
}

var _ vad.Engine = (*Engine)(nil)
