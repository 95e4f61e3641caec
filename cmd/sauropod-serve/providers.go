package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/sauropod-io/sauropod-sub000/internal/config"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm/anyllm"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/llm/openai"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/stt"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/stt/deepgram"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/stt/whisper"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/tts"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/tts/coqui"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/tts/elevenlabs"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/vad"
	"github.com/sauropod-io/sauropod-sub000/pkg/provider/vad/energy"
)

// builtinProviders maps provider category names to the implementations that
// ship with sauropod-sub000. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "whisper-native"},
	"tts": {"elevenlabs", "coqui"},
	"vad": {"energy"},
}

// anyllmProviderNames are the provider names served through the generic
// any-llm-go adapter rather than a dedicated package.
var anyllmProviderNames = map[string]bool{
	"anthropic": true, "ollama": true, "gemini": true, "deepseek": true,
	"mistral": true, "groq": true, "llamacpp": true, "llamafile": true,
}

// registerBuiltinProviders wires every shipped provider factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	for name := range anyllmProviderNames {
		name := name
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		return whisper.New(e.BaseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		return whisper.NewNative(e.Model)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		return coqui.New(e.BaseURL)
	})

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// providers holds the instantiated providers the server wires into its
// transport handlers.
type providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// buildProviders instantiates every provider named in cfg using reg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("vad provider not registered — falling back to energy threshold detector", "name", name)
			p, err = reg.CreateVAD(config.ProviderEntry{Name: "energy"})
		}
		if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", name)
	} else {
		p, err := reg.CreateVAD(config.ProviderEntry{Name: "energy"})
		if err != nil {
			return nil, fmt.Errorf("create default vad provider: %w", err)
		}
		ps.VAD = p
	}

	if ps.LLM == nil {
		return nil, errors.New("no llm provider configured")
	}

	return ps, nil
}
