// Command auric is the main entry point for the auric voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkarell/auric/internal/config"
	"github.com/pkarell/auric/internal/health"
	"github.com/pkarell/auric/internal/manager"
	"github.com/pkarell/auric/internal/observe"
	"github.com/pkarell/auric/internal/pipeline"
	"github.com/pkarell/auric/internal/resilience"
	"github.com/pkarell/auric/internal/wakeword"
	"github.com/pkarell/auric/pkg/audio"
	"github.com/pkarell/auric/pkg/audio/device"
	"github.com/pkarell/auric/pkg/provider/stt"
	"github.com/pkarell/auric/pkg/provider/tts"
	"github.com/pkarell/auric/pkg/provider/vad"
	wake "github.com/pkarell/auric/pkg/provider/wakeword"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, disabled, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auric: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auric: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("auric starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	for _, name := range disabled {
		slog.Warn("provider disabled: secret not found", "provider", name)
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "auric",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Stage managers ────────────────────────────────────────────────────────
	transcription, generation, synthesis, err := buildManagers(ctx, cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	audioCtx, err := device.NewContext()
	if err != nil {
		slog.Error("failed to initialise audio backend", "err", err)
		return 1
	}
	defer func() {
		if err := audioCtx.Close(); err != nil {
			slog.Warn("audio backend close error", "err", err)
		}
	}()

	// The orchestrator and reopener reference each other through these vars:
	// device loss pauses the pipeline, a successful reopen resumes it.
	var orch *pipeline.Orchestrator
	var reopener *device.Reopener

	reopener = device.NewReopener(device.ReopenerConfig{
		Open: func(context.Context) (audio.Source, error) {
			return device.NewCapture(audioCtx, device.CaptureConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				OnStopped: func() {
					reopener.NotifyLost()
					if orch != nil {
						orch.DeviceLost(errors.New("capture device stopped"))
					}
				},
			})
		},
		OnReopen: func(audio.Source) {
			if orch == nil {
				return
			}
			if err := orch.Resume(); err != nil {
				slog.Error("failed to resume pipeline after device reopen", "err", err)
			}
		},
	})

	if _, err := reopener.Open(ctx); err != nil {
		slog.Error("failed to open capture device", "err", err)
		return 1
	}
	defer reopener.Stop()
	reopener.Monitor(ctx)

	source := &reopeningSource{
		reopener: reopener,
		format:   audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels},
	}

	player, err := device.NewPlayer(audioCtx, device.PlaybackConfig{
		SampleRate: cfg.Audio.PlaybackSampleRate,
		Channels:   cfg.Audio.PlaybackChannels,
	})
	if err != nil {
		slog.Error("failed to open playback device", "err", err)
		return 1
	}
	defer func() {
		if err := player.Close(); err != nil {
			slog.Warn("playback device close error", "err", err)
		}
	}()

	// ── Detection engines ─────────────────────────────────────────────────────
	frameMs := device.PeriodFrames * 1000 / cfg.Audio.SampleRate

	vadEngine, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		slog.Error("failed to create VAD engine", "engine", cfg.VAD.Engine, "err", err)
		return 1
	}
	vadSession, err := vadEngine.NewSession(vad.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameSizeMs:      frameMs,
		SpeechThreshold:  cfg.VAD.SpeechThreshold,
		SilenceThreshold: cfg.VAD.SilenceThreshold,
		StartFrames:      cfg.VAD.StartFrames,
		HangoverFrames:   cfg.VAD.HangoverFrames,
	})
	if err != nil {
		slog.Error("failed to create VAD session", "err", err)
		return 1
	}
	defer vadSession.Close()

	wakeEngine, err := reg.CreateWake(cfg.Wakeword)
	if err != nil {
		slog.Error("failed to create wake-word engine", "engine", cfg.Wakeword.Engine, "err", err)
		return 1
	}
	detector, err := wakeEngine.NewDetector(wake.Config{
		SampleRate: cfg.Audio.SampleRate,
		Phrase:     cfg.Wakeword.Phrase,
		Threshold:  cfg.Wakeword.Threshold,
	})
	if err != nil {
		slog.Error("failed to create wake-word detector", "err", err)
		return 1
	}

	var verifier *wakeword.Verifier
	if cfg.Wakeword.VerifyEnabled() {
		verifier = wakeword.New(cfg.Wakeword.Phrase)
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	opts := []pipeline.Option{
		pipeline.WithEvents(pipelineEvents(ctx, metrics)),
		pipeline.WithWakeThreshold(cfg.Wakeword.Threshold),
		pipeline.WithMaxCaptureDuration(cfg.Capture.MaxDuration.Std()),
		pipeline.WithTurnTimeout(cfg.Pipeline.TurnTimeout.Std()),
		pipeline.WithSTTConfig(stt.StreamConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		}),
		pipeline.WithVoice(tts.VoiceProfile{ID: cfg.Pipeline.VoiceID}),
		pipeline.WithSystemPrompt(cfg.Pipeline.SystemPrompt),
		pipeline.WithHistoryLimit(cfg.Pipeline.HistoryLimit),
	}
	if cfg.Capture.SegmentCapacity > 0 {
		opts = append(opts, pipeline.WithSegmentCapacity(cfg.Capture.SegmentCapacity))
	}
	if verifier != nil {
		opts = append(opts, pipeline.WithVerifier(verifier))
	}

	orch, err = pipeline.New(pipeline.Deps{
		Source:        source,
		Sink:          player,
		Wake:          detector,
		VAD:           vadSession,
		Transcription: transcription,
		Generation:    generation,
		Synthesis:     synthesis,
	}, opts...)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── Observability listener ────────────────────────────────────────────────
	var server *http.Server
	if cfg.Server.ListenAddr != "" {
		checker := health.New(
			health.StageChecker("stt", transcription),
			health.StageChecker("llm", generation),
			health.StageChecker("tts", synthesis),
			health.DeviceChecker(func() error {
				if reopener.Source() == nil {
					return errors.New("capture device unavailable")
				}
				return nil
			}),
		)

		mux := http.NewServeMux()
		checker.Register(mux)
		mux.Handle("/metrics", promhttp.Handler())

		server = &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: observe.Middleware(metrics)(mux),
		}
		go func() {
			slog.Info("observability listener started", "addr", cfg.Server.ListenAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability listener error", "err", err)
			}
		}()
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		var s pipeline.Settings
		if d.WakeThresholdChanged {
			s.WakeThreshold = &d.NewWakeThreshold
		}
		if d.PipelineChanged {
			s.SystemPrompt = &d.NewSystemPrompt
			s.Voice = &tts.VoiceProfile{ID: d.NewVoiceID}
		}
		if s.WakeThreshold != nil || s.SystemPrompt != nil {
			orch.UpdateSettings(s)
		}
		for _, why := range d.RestartNeededWhy {
			slog.Warn("config change requires a restart", "reason", why)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	if err := orch.Start(ctx); err != nil {
		slog.Error("failed to start pipeline", "err", err)
		return 1
	}

	slog.Info("listening for the activation phrase — press Ctrl+C to shut down",
		"phrase", cfg.Wakeword.Phrase)

	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := orch.Stop(); err != nil {
		slog.Warn("pipeline stop error", "err", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("listener shutdown error", "err", err)
		}
	}

	slog.Info("goodbye")
	return 0
}

// ── Pipeline event wiring ─────────────────────────────────────────────────────

// pipelineEvents translates orchestrator events into metrics and logs.
func pipelineEvents(ctx context.Context, m *observe.Metrics) pipeline.Events {
	return pipeline.Events{
		OnStateChanged: func(from, to pipeline.State) {
			slog.Debug("pipeline state", "from", from, "to", to)
			m.RecordPipelineState(ctx, int64(to))
		},
		OnTranscriptFinal: func(text string) {
			slog.Info("transcript", "text", text)
		},
		OnTurnCompleted: func(turn pipeline.Turn) {
			m.RecordTurn(ctx, "completed")
			m.TranscriptionDuration.Record(ctx, turn.Timings.TranscriptionLatency().Seconds())
			m.GenerationDuration.Record(ctx, turn.Timings.GenerationLatency().Seconds())
			m.SynthesisDuration.Record(ctx, turn.Timings.SynthesisLatency().Seconds())
			m.TurnDuration.Record(ctx, turn.Timings.ResponseLatency().Seconds())
			slog.Info("turn completed",
				"transcript", turn.Command,
				"stt", turn.TranscriptionProvider,
				"llm", turn.GenerationProvider,
				"tts", turn.SynthesisProvider,
				"response_latency", turn.Timings.ResponseLatency(),
			)
		},
		OnSegmentEviction: func(totalEvicted uint64) {
			m.SegmentEvictions.Add(ctx, 1)
		},
		OnError: func(kind pipeline.ErrorKind, detail string) {
			m.RecordTurn(ctx, "failed")
			slog.Error("pipeline error", "kind", kind, "detail", detail)
		},
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildManagers instantiates every provider named in cfg, in priority order,
// and hands each stage's list to its fallback manager. Entries whose factory
// is unknown or whose construction fails are skipped with a warning; a stage
// with no surviving provider is a startup error.
func buildManagers(ctx context.Context, cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*manager.Transcription, *manager.Generation, *manager.Synthesis, error) {
	groupCfg := func(kind string) manager.GroupConfig {
		return manager.GroupConfig{
			Kind:              kind,
			MaxFailures:       cfg.Fallback.MaxFailures,
			Cooldown:          cfg.Fallback.Cooldown.Std(),
			FirstChunkTimeout: cfg.Fallback.FirstChunkTimeout.Std(),
			OnBreakerChange: func(name string, from, to resilience.State) {
				m.RecordBreakerTransition(ctx, name, to.String())
				slog.Warn("circuit breaker transition",
					"provider", name, "from", from, "to", to)
			},
		}
	}

	transcription := manager.NewTranscription(groupCfg("stt"))
	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateSTT(entry)
		if skipProvider("stt", entry.Name, err) {
			continue
		}
		transcription.Add(entry.Name, p)
		slog.Info("provider registered", "kind", "stt", "name", entry.Name, "model", entry.Model)
	}

	generation := manager.NewGeneration(groupCfg("llm"))
	for _, entry := range cfg.Providers.LLM {
		p, err := reg.CreateLLM(entry)
		if skipProvider("llm", entry.Name, err) {
			continue
		}
		generation.Add(entry.Name, p)
		slog.Info("provider registered", "kind", "llm", "name", entry.Name, "model", entry.Model)
	}

	synthesis := manager.NewSynthesis(groupCfg("tts"))
	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(entry)
		if skipProvider("tts", entry.Name, err) {
			continue
		}
		synthesis.Add(entry.Name, p)
		slog.Info("provider registered", "kind", "tts", "name", entry.Name, "model", entry.Model)
	}

	var errs []error
	if !transcription.Usable() {
		errs = append(errs, errors.New("no usable stt provider configured"))
	}
	if !generation.Usable() {
		errs = append(errs, errors.New("no usable llm provider configured"))
	}
	if !synthesis.Usable() {
		errs = append(errs, errors.New("no usable tts provider configured"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, nil, nil, err
	}
	return transcription, generation, synthesis, nil
}

// skipProvider reports whether a provider entry should be dropped, logging why.
func skipProvider(kind, name string, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("unknown provider — skipping", "kind", kind, "name", name)
	} else {
		slog.Warn("provider construction failed — skipping", "kind", kind, "name", name, "err", err)
	}
	return true
}

// ── Reopening source ──────────────────────────────────────────────────────────

// reopeningSource adapts a [device.Reopener] to [audio.Source] so the
// pipeline keeps one stable handle while the underlying capture device is
// replaced across unplug/reopen cycles.
type reopeningSource struct {
	reopener *device.Reopener
	format   audio.Format
}

var _ audio.Source = (*reopeningSource)(nil)

func (s *reopeningSource) Start(onFrame func(audio.AudioFrame)) error {
	src := s.reopener.Source()
	if src == nil {
		return errors.New("capture device unavailable")
	}
	return src.Start(onFrame)
}

func (s *reopeningSource) Stop() error {
	src := s.reopener.Source()
	if src == nil {
		return nil
	}
	return src.Stop()
}

func (s *reopeningSource) Close() error {
	return s.reopener.Stop()
}

func (s *reopeningSource) Format() audio.Format {
	return s.format
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          auric — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printStage("STT", cfg.Providers.STT)
	printStage("LLM", cfg.Providers.LLM)
	printStage("TTS", cfg.Providers.TTS)
	printField("Wake phrase", cfg.Wakeword.Phrase)
	printField("VAD engine", cfg.VAD.Engine)
	printField("Voice", cfg.Pipeline.VoiceID)
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printStage(kind string, entries []config.ProviderEntry) {
	value := "(not configured)"
	if len(entries) > 0 {
		value = entries[0].Name
		if entries[0].Model != "" {
			value += " / " + entries[0].Model
		}
		if len(entries) > 1 {
			value = fmt.Sprintf("%s (+%d)", value, len(entries)-1)
		}
	}
	printField(kind, value)
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", name, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
