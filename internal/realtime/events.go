package realtime

import (
	"github.com/sauropod-io/sauropod-sub000/internal/outputparser"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/tts"
)

// VADParams are the session-configurable turn-detection thresholds. A
// session.update merges them into [SessionConfig] and they are stored there;
// they are not passed to the audio buffer, whose [audiobuffer.Buffer.RunVAD]
// uses the thresholds fixed when the session created it (the audiobuffer
// defaults).
type VADParams struct {
	SilenceMs   int
	PrefixPadMs int
	Threshold   float64
}

// SessionConfig is the mutable per-connection configuration merged by
// SessionUpdate client events. Nil fields of a [SessionConfigUpdate] leave
// the current value in place — see [Session.handleSessionUpdate].
type SessionConfig struct {
	Modalities      []string // e.g. {"text"}, {"text","audio"}
	Voice           tts.VoiceProfile
	Model           string
	Family          outputparser.Family
	Instructions    string
	Tools           []llm.ToolDefinition
	Temperature     float64
	MaxOutputTokens int
	VAD             VADParams
}

// audioModalityEnabled reports whether this config requests spoken output.
func (c SessionConfig) audioModalityEnabled() bool {
	for _, m := range c.Modalities {
		if m == "audio" {
			return true
		}
	}
	return false
}

// defaultSessionConfig returns the SessionConfig a new Session starts from,
// before any client SessionUpdate is applied.
func defaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities: []string{"text"},
		VAD: VADParams{
			SilenceMs:   750,
			PrefixPadMs: 400,
			Threshold:   0.5,
		},
	}
}

// ClientEventKind discriminates the variant carried by a [ClientEvent].
type ClientEventKind int

const (
	ClientSessionUpdate ClientEventKind = iota
	ClientInputAudioBufferAppend
	ClientInputAudioBufferClear
	ClientInputAudioBufferCommit
	ClientConversationItemCreate
	ClientConversationItemRetrieve
	ClientConversationItemDelete
	ClientConversationItemTruncate
	ClientResponseCreate
	ClientResponseCancel
)

// ClientEvent is one inbound Realtime protocol message, already decoded from
// its wire JSON envelope by the transport layer. Fields unused by Kind are
// left zero.
type ClientEvent struct {
	Kind ClientEventKind

	// SessionUpdate
	ConfigUpdate SessionConfigUpdate

	// InputAudioBufferAppend
	Base64Audio string

	// ConversationItemCreate
	ItemRole       string
	ItemText       string
	PreviousItemID string

	// ConversationItemRetrieve/Delete/Truncate
	ItemID string

	// ResponseCreate overrides
	ResponseOverride *SessionConfigUpdate
}

// SessionConfigUpdate carries the optional fields of a SessionUpdate event.
// A nil pointer field means "leave unchanged"; this mirrors the field-wise
// merge spec.md §4.5 requires.
type SessionConfigUpdate struct {
	Modalities      []string
	Voice           *tts.VoiceProfile
	Model           *string
	Family          *outputparser.Family
	Instructions    *string
	Tools           []llm.ToolDefinition
	Temperature     *float64
	MaxOutputTokens *int
	VAD             *VADParams
}

// ServerEventKind discriminates the variant carried by a [ServerEvent].
type ServerEventKind int

const (
	ServerSessionUpdated ServerEventKind = iota
	ServerError
	ServerInputAudioBufferSpeechStarted
	ServerInputAudioBufferSpeechStopped
	ServerConversationItemInputAudioTranscriptionCompleted
	ServerConversationItemCreated

	// Response lifecycle/content events, one per responsestream.EventType.
	ServerResponseCreated
	ServerResponseInProgress
	ServerResponseOutputItemAdded
	ServerResponseContentPartAdded
	ServerResponseOutputTextDelta
	ServerResponseOutputTextDone
	ServerResponseContentPartDone
	ServerResponseOutputItemDone
	ServerResponseReasoningSummaryPartAdded
	ServerResponseReasoningSummaryTextDelta
	ServerResponseReasoningSummaryTextDone
	ServerResponseReasoningSummaryPartDone
	ServerResponseFunctionCallArgumentsDelta
	ServerResponseFunctionCallArgumentsDone
	ServerResponseAudioDelta
	ServerResponseAudioDone
	ServerResponseDone
	ServerResponseFailed
	ServerResponseCancelled
)

// ErrorKind enumerates the spec.md §7 error taxonomy.
type ErrorKind int

const (
	ErrInvalidRequest ErrorKind = iota
	ErrModelUnavailable
	ErrVoiceUnavailable
	ErrTranscriptionFailed
	ErrGenerationFailed
	ErrUnsupportedFeature
	ErrCancellationRequested
)

// Code returns the wire error code for e, per spec.md §7.
func (e ErrorKind) Code() string {
	switch e {
	case ErrInvalidRequest:
		return "invalid_request_error"
	case ErrModelUnavailable:
		return "model_not_found"
	case ErrVoiceUnavailable:
		return "voice_unavailable"
	case ErrTranscriptionFailed:
		return "transcription_failed"
	case ErrGenerationFailed:
		return "generation_failed"
	case ErrUnsupportedFeature:
		return "unsupported_feature"
	case ErrCancellationRequested:
		return "cancellation_requested"
	default:
		return "internal_error"
	}
}

// ServerEvent is one outbound Realtime protocol message. Stream is populated
// for response-lifecycle kinds sourced directly from [responsestream.Event];
// the remaining fields cover the Realtime-specific additions (turn detection,
// TTS audio, errors) that have no responsestream equivalent.
type ServerEvent struct {
	Kind ServerEventKind

	EventID string

	// Wraps a responsestream event verbatim for response-lifecycle kinds.
	Stream any

	// Error
	ErrorKind    ErrorKind
	ErrorMessage string

	// Turn detection / transcription
	ItemID     string
	Transcript string

	// ConversationItemCreated
	Item any

	// Audio (TTS) events
	ContentIndex int
	OutputIndex  int
	AudioBase64  string
}
