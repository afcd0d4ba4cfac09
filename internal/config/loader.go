package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names, which are usually typos but
// may be third-party registrations.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "whisper-native"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs", "deepgram", "coqui"},
}

// SecretLookup resolves a named secret, returning false when absent.
// [os.LookupEnv] satisfies it.
type SecretLookup func(name string) (string, bool)

// Load reads the YAML configuration file at path, validates it, and resolves
// provider secrets from the environment. Entries whose secret is missing are
// removed; their names are returned in disabled so the caller can surface a
// configuration error without crashing.
func Load(path string) (cfg *Config, disabled []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err = LoadFromReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	disabled = ResolveSecrets(cfg, os.LookupEnv)
	return cfg, disabled, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected. Secrets are not resolved; call
// [ResolveSecrets] separately.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.PlaybackSampleRate == 0 {
		cfg.Audio.PlaybackSampleRate = 48000
	}
	if cfg.Audio.PlaybackChannels == 0 {
		cfg.Audio.PlaybackChannels = 1
	}
	if cfg.Wakeword.Threshold == 0 {
		cfg.Wakeword.Threshold = 0.5
	}
	if cfg.Wakeword.Engine == "" {
		cfg.Wakeword.Engine = "energy"
	}
	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = "rms"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Wakeword.Phrase == "" {
		errs = append(errs, errors.New("wakeword.phrase is required"))
	}
	if cfg.Wakeword.Threshold < 0 || cfg.Wakeword.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wakeword.threshold %.2f is out of range [0, 1]", cfg.Wakeword.Threshold))
	}
	if cfg.VAD.SpeechThreshold != 0 && cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f exceeds vad.speech_threshold %.2f",
			cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}
	if cfg.Capture.SegmentCapacity < 0 {
		errs = append(errs, fmt.Errorf("capture.segment_capacity %d must not be negative", cfg.Capture.SegmentCapacity))
	}
	if cfg.Fallback.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("fallback.max_failures %d must not be negative", cfg.Fallback.MaxFailures))
	}

	errs = append(errs, validateEntries("stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntries("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntries("tts", cfg.Providers.TTS)...)

	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no transcription providers configured; utterances cannot be transcribed")
	}
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("no generation providers configured; replies cannot be generated")
	}
	if len(cfg.Providers.TTS) == 0 {
		slog.Warn("no synthesis providers configured; replies cannot be spoken")
	}

	return errors.Join(errs...)
}

func validateEntries(kind string, entries []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, e.Name, kind, prev))
		}
		seen[e.Name] = i
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is not found in the
// [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
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

// ResolveSecrets fills each provider entry's APIKey from lookup and removes
// entries whose named secret is absent. Removal disables only the affected
// provider; the pipeline proceeds with the remaining entries. The returned
// slice holds "kind/name" identifiers of disabled entries.
func ResolveSecrets(cfg *Config, lookup SecretLookup) (disabled []string) {
	cfg.Providers.STT, disabled = resolveKind("stt", cfg.Providers.STT, lookup, disabled)
	cfg.Providers.LLM, disabled = resolveKind("llm", cfg.Providers.LLM, lookup, disabled)
	cfg.Providers.TTS, disabled = resolveKind("tts", cfg.Providers.TTS, lookup, disabled)
	return disabled
}

func resolveKind(kind string, entries []ProviderEntry, lookup SecretLookup, disabled []string) ([]ProviderEntry, []string) {
	kept := entries[:0]
	for _, e := range entries {
		if e.APIKeyEnv != "" {
			secret, ok := lookup(e.APIKeyEnv)
			if !ok || secret == "" {
				slog.Error("provider disabled: secret not found",
					"kind", kind,
					"provider", e.Name,
					"env", e.APIKeyEnv)
				disabled = append(disabled, kind+"/"+e.Name)
				continue
			}
			e.APIKey = secret
		}
		kept = append(kept, e)
	}
	return kept, disabled
}
