// Package config provides the configuration schema, loader, and provider
// registry for the auric voice pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
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
	}
	return false
}

// Duration wraps time.Duration so YAML values like "30s" or "250ms" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure for auric, typically loaded from
// a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Wakeword  WakewordConfig  `yaml:"wakeword"`
	VAD       VADConfig       `yaml:"vad"`
	Capture   CaptureConfig   `yaml:"capture"`
	Providers ProvidersConfig `yaml:"providers"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz, and /readyz.
	// Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture and playback devices.
type AudioConfig struct {
	// SampleRate is the capture sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count. Default 1.
	Channels int `yaml:"channels"`

	// PlaybackSampleRate is the output device sample rate in Hz.
	// Default 48000.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`

	// PlaybackChannels is the output channel count. Default 1.
	PlaybackChannels int `yaml:"playback_channels"`
}

// WakewordConfig configures activation-phrase detection.
type WakewordConfig struct {
	// Phrase is the activation phrase (e.g. "hey auric").
	Phrase string `yaml:"phrase"`

	// Threshold is the minimum detector confidence accepted. Default 0.5.
	Threshold float64 `yaml:"threshold"`

	// Engine selects the registered detector implementation.
	// Default "energy".
	Engine string `yaml:"engine"`

	// Verify enables phonetic verification of the phrase against the final
	// transcript. Default true.
	Verify *bool `yaml:"verify"`
}

// VerifyEnabled reports whether phonetic transcript verification is on.
// Defaults to true when unset.
func (w WakewordConfig) VerifyEnabled() bool {
	return w.Verify == nil || *w.Verify
}

// VADConfig configures voice-activity boundary detection.
type VADConfig struct {
	// Engine selects the registered VAD implementation. Default "rms".
	Engine string `yaml:"engine"`

	// SpeechThreshold is the probability above which a frame counts as
	// speech.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the probability below which a frame counts as
	// silence.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// StartFrames is the number of consecutive speech frames required before
	// speech-start fires.
	StartFrames int `yaml:"start_frames"`

	// HangoverFrames is the number of consecutive silence frames tolerated
	// before speech-end fires.
	HangoverFrames int `yaml:"hangover_frames"`
}

// CaptureConfig bounds utterance capture.
type CaptureConfig struct {
	// MaxDuration force-finalizes a capture that VAD never ends.
	// Default 30s.
	MaxDuration Duration `yaml:"max_duration"`

	// SegmentCapacity caps the capture buffer in frames; oldest frames are
	// evicted beyond it. Zero means the built-in default.
	SegmentCapacity int `yaml:"segment_capacity"`
}

// ProvidersConfig lists the configured providers per stage, in priority
// order: the first usable entry is tried first, later entries are fallbacks.
type ProvidersConfig struct {
	STT []ProviderEntry `yaml:"stt"`
	LLM []ProviderEntry `yaml:"llm"`
	TTS []ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name selects the factory registered in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "deepgram",
	// "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKeyEnv names the environment variable holding the provider's API
	// key, so the key itself never lives in the YAML file. A missing
	// variable disables this entry with a configuration error; it never
	// crashes the pipeline.
	APIKeyEnv string `yaml:"api_key_env"`

	// APIKey is filled in by secret resolution. It may also be set directly,
	// which tests use; when APIKeyEnv is set it wins.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g. "nova-2",
	// "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// FallbackConfig tunes the per-provider circuit breakers and the streaming
// timeout shared by all three stages.
type FallbackConfig struct {
	// MaxFailures opens a provider's breaker after this many consecutive
	// failures. Default 5.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long an open breaker excludes its provider before the
	// single half-open probe. Default 30s.
	Cooldown Duration `yaml:"cooldown"`

	// FirstChunkTimeout bounds the wait for a provider's first streamed
	// chunk. Default 5s.
	FirstChunkTimeout Duration `yaml:"first_chunk_timeout"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	// SystemPrompt is sent with every generation request.
	SystemPrompt string `yaml:"system_prompt"`

	// VoiceID is the synthesis voice identifier.
	VoiceID string `yaml:"voice_id"`

	// TurnTimeout bounds a whole turn. Default 2m.
	TurnTimeout Duration `yaml:"turn_timeout"`

	// HistoryLimit caps conversation history carried into generation.
	// Default 20 messages.
	HistoryLimit int `yaml:"history_limit"`
}
