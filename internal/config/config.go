// Package config provides the configuration schema, loader, and provider registry
// for the sauropod-sub000 voice AI server.
package config

import "github.com/sauropod-io/sauropod-sub000/internal/mcp"

// Config is the root configuration structure for sauropod-sub000.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Models    []ModelConfig   `yaml:"models"`
	Voices    []VoiceConfig   `yaml:"voices"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel selects the slog verbosity the server logs at.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ModelConfig registers one named model a Realtime session.update or a
// Responses request may select by name. It binds the model id the provider
// expects to the output family its tokens must be parsed with and the device
// key [modelpool] serializes requests under.
type ModelConfig struct {
	// Name is the identifier clients pass as "model" in session.update or a
	// Responses create request.
	Name string `yaml:"name"`

	// Family selects the output delimiter convention used to split reasoning,
	// text, and tool-call spans out of the raw token stream.
	// Valid values: "unknown", "llama", "qwen".
	Family string `yaml:"family"`

	// Device is the [modelpool] serialization key this model runs on. Two
	// models sharing a Device never run concurrently.
	Device string `yaml:"device"`

	// DefaultMaxOutputTokens seeds SessionConfig.MaxOutputTokens when a
	// session selects this model without overriding the value itself.
	DefaultMaxOutputTokens int `yaml:"default_max_output_tokens"`
}

// VoiceConfig registers one named TTS voice a session.update may select via
// its "voice" field.
type VoiceConfig struct {
	// Name is the identifier clients pass as "voice".
	Name string `yaml:"name"`

	// Provider is the TTS provider name (e.g., "elevenlabs", "coqui").
	Provider string `yaml:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// PitchShift adjusts pitch in the range [-10, +10]. 0 means default.
	PitchShift float64 `yaml:"pitch_shift"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 1.0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// MCPConfig holds the list of Model Context Protocol servers to connect to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for the streamable-http transport.
	Command string `yaml:"command"`

	// URL is the endpoint address used when Transport is "streamable-http".
	// Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}
