package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/sauropod-io/sauropod-sub000/internal/mcp"
	"gopkg.in/yaml.v3"
)

// validOutputFamilies lists the recognised model.family values, matching
// [outputparser.Family]'s variants by name.
var validOutputFamilies = map[string]bool{
	"unknown": true,
	"llama":   true,
	"qwen":    true,
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "whisper-native"},
	"tts": {"elevenlabs", "coqui"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Models
	modelNamesSeen := make(map[string]int, len(cfg.Models))
	for i, m := range cfg.Models {
		prefix := fmt.Sprintf("models[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := modelNamesSeen[m.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of models[%d]", prefix, m.Name, prev))
			}
			modelNamesSeen[m.Name] = i
		}
		if m.Family != "" && !validOutputFamilies[m.Family] {
			errs = append(errs, fmt.Errorf("%s.family %q is invalid; valid values: unknown, llama, qwen", prefix, m.Family))
		}
	}

	// Voices
	voiceNamesSeen := make(map[string]int, len(cfg.Voices))
	for i, v := range cfg.Voices {
		prefix := fmt.Sprintf("voices[%d]", i)
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := voiceNamesSeen[v.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of voices[%d]", prefix, v.Name, prev))
			}
			voiceNamesSeen[v.Name] = i
		}
		if v.SpeedFactor != 0 {
			if v.SpeedFactor < 0.5 || v.SpeedFactor > 2.0 {
				errs = append(errs, fmt.Errorf("%s.speed_factor %.2f is out of range [0.5, 2.0]", prefix, v.SpeedFactor))
			}
		}
		if v.PitchShift < -10 || v.PitchShift > 10 {
			errs = append(errs, fmt.Errorf("%s.pitch_shift %.2f is out of range [-10, 10]", prefix, v.PitchShift))
		}
		if v.Provider != "" && cfg.Providers.TTS.Name != "" && v.Provider != cfg.Providers.TTS.Name {
			slog.Warn("voice provider does not match configured TTS provider",
				"voice", v.Name,
				"voice_provider", v.Provider,
				"tts_provider", cfg.Providers.TTS.Name,
			)
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" && len(cfg.Models) > 0 {
		slog.Warn("no LLM provider configured; registered models will not be able to generate responses")
	}

	// Model ↔ device cross-check: every model referencing a device should
	// have a non-empty device key, or it silently falls onto the shared
	// default device and serializes against every other unassigned model.
	for _, m := range cfg.Models {
		if m.Device == "" {
			slog.Warn("model has no device assigned; it will serialize against the default device", "model", m.Name)
		}
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
