package config_test

import (
	"strings"
	"testing"

	"github.com/pkarell/auric/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		Wakeword: config.WakewordConfig{Phrase: "hey auric", Threshold: 0.5, Engine: "energy"},
		Pipeline: config.PipelineConfig{SystemPrompt: "Be brief.", VoiceID: "rachel"},
		Providers: config.ProvidersConfig{
			STT: []config.ProviderEntry{{Name: "deepgram"}},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.WakeThresholdChanged || d.PipelineChanged || d.RestartNeeded {
		t.Errorf("identical configs produced diff %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.RestartNeeded {
		t.Errorf("log level change should not need a restart: %v", d.RestartNeededWhy)
	}
}

func TestDiff_WakeThresholdChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Wakeword.Threshold = 0.8

	d := config.Diff(old, new)
	if !d.WakeThresholdChanged {
		t.Fatal("expected WakeThresholdChanged=true")
	}
	if d.NewWakeThreshold != 0.8 {
		t.Errorf("NewWakeThreshold = %v, want 0.8", d.NewWakeThreshold)
	}
	if d.RestartNeeded {
		t.Errorf("threshold change should not need a restart: %v", d.RestartNeededWhy)
	}
}

func TestDiff_PipelineChanged(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Pipeline.SystemPrompt = "Be verbose."
	new.Pipeline.VoiceID = "adam"

	d := config.Diff(old, new)
	if !d.PipelineChanged {
		t.Fatal("expected PipelineChanged=true")
	}
	if d.NewSystemPrompt != "Be verbose." || d.NewVoiceID != "adam" {
		t.Errorf("got prompt %q voice %q", d.NewSystemPrompt, d.NewVoiceID)
	}
}

func TestDiff_PhraseChangeNeedsRestart(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Wakeword.Phrase = "hey computer"

	d := config.Diff(old, new)
	if !d.RestartNeeded {
		t.Fatal("expected RestartNeeded=true for phrase change")
	}
	if len(d.RestartNeededWhy) != 1 || !strings.Contains(d.RestartNeededWhy[0], "phrase") {
		t.Errorf("RestartNeededWhy = %v, want one phrase reason", d.RestartNeededWhy)
	}
}

func TestDiff_ProviderListChangeNeedsRestart(t *testing.T) {
	t.Parallel()
	old := baseConfig()

	new := baseConfig()
	new.Providers.STT = append(new.Providers.STT, config.ProviderEntry{Name: "whisper"})

	d := config.Diff(old, new)
	if !d.RestartNeeded {
		t.Fatal("expected RestartNeeded=true for provider list change")
	}

	renamed := baseConfig()
	renamed.Providers.STT = []config.ProviderEntry{{Name: "whisper"}}
	if d := config.Diff(old, renamed); !d.RestartNeeded {
		t.Error("expected RestartNeeded=true for provider rename")
	}
}

func TestDiff_AudioChangeNeedsRestart(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Audio.SampleRate = 48000

	d := config.Diff(old, new)
	if !d.RestartNeeded {
		t.Fatal("expected RestartNeeded=true for audio change")
	}
	if len(d.RestartNeededWhy) != 1 || !strings.Contains(d.RestartNeededWhy[0], "audio") {
		t.Errorf("RestartNeededWhy = %v, want one audio reason", d.RestartNeededWhy)
	}
}
