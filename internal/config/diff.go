package config

// ConfigDiff describes what changed between two configs. Only fields that can
// be applied without restarting the audio devices or rebuilding the provider
// chain are tracked; anything else requires a process restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WakeThresholdChanged covers wakeword.threshold only. Changing the
	// phrase or engine needs a restart.
	WakeThresholdChanged bool
	NewWakeThreshold     float64

	// PipelineChanged covers pipeline.system_prompt and pipeline.voice_id,
	// which take effect on the next turn.
	PipelineChanged bool
	NewSystemPrompt string
	NewVoiceID      string

	RestartNeeded    bool
	RestartNeededWhy []string
}

// Diff compares old and new configs and returns what changed. Fields that
// cannot be hot-reloaded set RestartNeeded with a reason instead.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Wakeword.Threshold != new.Wakeword.Threshold {
		d.WakeThresholdChanged = true
		d.NewWakeThreshold = new.Wakeword.Threshold
	}

	if old.Pipeline.SystemPrompt != new.Pipeline.SystemPrompt ||
		old.Pipeline.VoiceID != new.Pipeline.VoiceID {
		d.PipelineChanged = true
		d.NewSystemPrompt = new.Pipeline.SystemPrompt
		d.NewVoiceID = new.Pipeline.VoiceID
	}

	d.noteRestart(old.Audio != new.Audio, "audio device settings changed")
	d.noteRestart(old.Wakeword.Phrase != new.Wakeword.Phrase, "wakeword phrase changed")
	d.noteRestart(old.Wakeword.Engine != new.Wakeword.Engine, "wakeword engine changed")
	d.noteRestart(old.VAD != new.VAD, "vad settings changed")
	d.noteRestart(!providersEqual(old.Providers.STT, new.Providers.STT), "stt providers changed")
	d.noteRestart(!providersEqual(old.Providers.LLM, new.Providers.LLM), "llm providers changed")
	d.noteRestart(!providersEqual(old.Providers.TTS, new.Providers.TTS), "tts providers changed")
	d.noteRestart(old.Fallback != new.Fallback, "fallback settings changed")

	return d
}

func (d *ConfigDiff) noteRestart(changed bool, why string) {
	if changed {
		d.RestartNeeded = true
		d.RestartNeededWhy = append(d.RestartNeededWhy, why)
	}
}

// providersEqual compares provider lists by identity-relevant fields. Options
// maps are not deep-compared; any difference in list shape or names counts.
func providersEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name ||
			a[i].APIKeyEnv != b[i].APIKeyEnv ||
			a[i].BaseURL != b[i].BaseURL ||
			a[i].Model != b[i].Model {
			return false
		}
	}
	return true
}
