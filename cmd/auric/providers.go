package main

import (
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/pkarell/auric/internal/config"
	"github.com/pkarell/auric/pkg/provider/llm"
	"github.com/pkarell/auric/pkg/provider/llm/anyllm"
	oaillm "github.com/pkarell/auric/pkg/provider/llm/openai"
	"github.com/pkarell/auric/pkg/provider/stt"
	sttdeepgram "github.com/pkarell/auric/pkg/provider/stt/deepgram"
	"github.com/pkarell/auric/pkg/provider/stt/whisper"
	"github.com/pkarell/auric/pkg/provider/tts"
	"github.com/pkarell/auric/pkg/provider/tts/coqui"
	ttsdeepgram "github.com/pkarell/auric/pkg/provider/tts/deepgram"
	"github.com/pkarell/auric/pkg/provider/tts/elevenlabs"
	"github.com/pkarell/auric/pkg/provider/vad"
	"github.com/pkarell/auric/pkg/provider/vad/rms"
	"github.com/pkarell/auric/pkg/provider/wakeword"
	"github.com/pkarell/auric/pkg/provider/wakeword/energy"
)

// builtinProviders maps provider kinds to the implementations that ship with
// auric. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":      {"deepgram", "whisper", "whisper-native"},
	"llm":      {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":      {"elevenlabs", "coqui", "deepgram"},
	"vad":      {"rms"},
	"wakeword": {"energy"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the matching
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai goes through the official SDK for native streaming support.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining cloud back-ends share the any-llm adapter: optional
	// APIKey plus optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttdeepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttdeepgram.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, sttdeepgram.WithSampleRate(rate))
		}
		return sttdeepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate := optInt(entry.Options, "output_sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("deepgram", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsdeepgram.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsdeepgram.WithEndpoint(entry.BaseURL))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, ttsdeepgram.WithSampleRate(rate))
		}
		return ttsdeepgram.New(entry.APIKey, opts...)
	})

	// ── Detection engines ─────────────────────────────────────────────────────

	reg.RegisterVAD("rms", func(config.VADConfig) (vad.Engine, error) {
		return rms.NewEngine(), nil
	})

	reg.RegisterWake("energy", func(config.WakewordConfig) (wakeword.Engine, error) {
		return energy.NewEngine(), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map[string]any.
// YAML decodes small integers as int; returns 0 when absent or mistyped.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
