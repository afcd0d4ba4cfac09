// Package pipeline implements the top-level voice interaction state machine:
// wake-word scanning, utterance capture, and the transcribe → generate →
// synthesize → play cascade, with barge-in interruption and automatic
// recovery from provider failures.
//
// A single event-loop goroutine owns the [State]; audio frames, turn worker
// progress, and playback completion all arrive as messages on one internal
// channel. Turn workers run concurrently but never touch the state directly —
// they post transition requests tagged with their turn id, and requests from
// superseded turns are dropped. That tagging is also how barge-in works:
// flushing the playback queue and cancelling the turn's context invalidates
// the id, so everything still in flight for the old turn is discarded at its
// next checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pkarell/auric/internal/manager"
	"github.com/pkarell/auric/internal/playback"
	"github.com/pkarell/auric/internal/segment"
	"github.com/pkarell/auric/internal/wakeword"
	"github.com/pkarell/auric/pkg/audio"
	"github.com/pkarell/auric/pkg/provider/llm"
	"github.com/pkarell/auric/pkg/provider/stt"
	"github.com/pkarell/auric/pkg/provider/tts"
	"github.com/pkarell/auric/pkg/provider/vad"
	wake "github.com/pkarell/auric/pkg/provider/wakeword"
)

// Deps are the collaborators an [Orchestrator] drives. All fields are
// required.
type Deps struct {
	// Source is the continuous microphone capture.
	Source audio.Source

	// Sink is the playback output device.
	Sink audio.Sink

	// Wake scans frames for the activation phrase.
	Wake wake.Detector

	// VAD detects speech boundaries during capture and barge-in.
	VAD vad.SessionHandle

	// Transcription, Generation, and Synthesis are the per-stage provider
	// managers.
	Transcription *manager.Transcription
	Generation    *manager.Generation
	Synthesis     *manager.Synthesis
}

func (d Deps) validate() error {
	var errs []error
	if d.Source == nil {
		errs = append(errs, errors.New("Source is required"))
	}
	if d.Sink == nil {
		errs = append(errs, errors.New("Sink is required"))
	}
	if d.Wake == nil {
		errs = append(errs, errors.New("Wake is required"))
	}
	if d.VAD == nil {
		errs = append(errs, errors.New("VAD is required"))
	}
	if d.Transcription == nil {
		errs = append(errs, errors.New("Transcription is required"))
	}
	if d.Generation == nil {
		errs = append(errs, errors.New("Generation is required"))
	}
	if d.Synthesis == nil {
		errs = append(errs, errors.New("Synthesis is required"))
	}
	return errors.Join(errs...)
}

// ─── Internal messages ────────────────────────────────────────────────────────

type message interface{ isMessage() }

type frameMsg struct{ frame audio.AudioFrame }

// stageMsg is a turn worker requesting the transition its stage just earned.
type stageMsg struct {
	turnID uuid.UUID
	to     State
}

// turnRecordMsg hands the completed turn record to the loop before playback
// finishes. Posted strictly before FinishTurn so it always precedes the
// matching playbackDoneMsg.
type turnRecordMsg struct {
	turnID uuid.UUID
	turn   Turn
}

type playbackDoneMsg struct{ turnID uuid.UUID }

type turnFailedMsg struct {
	turnID uuid.UUID
	kind   ErrorKind
	err    error
}

// turnAbandonedMsg drops a turn without an error transition, e.g. when the
// transcript fails activation-phrase verification.
type turnAbandonedMsg struct {
	turnID uuid.UUID
	reason string
}

type deviceDownMsg struct{ err error }

type resumeMsg struct{}

// settingsMsg carries a hot-reload of loop-owned tunables.
type settingsMsg struct{ s Settings }

func (frameMsg) isMessage()         {}
func (stageMsg) isMessage()         {}
func (turnRecordMsg) isMessage()    {}
func (playbackDoneMsg) isMessage()  {}
func (turnFailedMsg) isMessage()    {}
func (turnAbandonedMsg) isMessage() {}
func (deviceDownMsg) isMessage()    {}
func (resumeMsg) isMessage()        {}
func (settingsMsg) isMessage()      {}

// ─── Orchestrator ─────────────────────────────────────────────────────────────

// activeTurn is the loop's handle on the turn currently in flight.
type activeTurn struct {
	id             uuid.UUID
	cancel         context.CancelFunc
	captureStarted time.Time
	record         *Turn // set by turnRecordMsg, consumed by playbackDoneMsg
}

// Orchestrator is the pipeline state machine. Construct with [New], drive
// with [Orchestrator.Start] and [Orchestrator.Stop].
type Orchestrator struct {
	deps      Deps
	queue     *playback.Queue
	assembler *segment.Assembler
	events    Events
	verifier  *wakeword.Verifier

	wakeThreshold   float64
	maxCapture      time.Duration
	turnTimeout     time.Duration
	segmentCapacity int
	historyLimit    int
	frameBuffer     int
	sttCfg          stt.StreamConfig
	voice           tts.VoiceProfile
	systemPrompt    string

	msgs     chan message
	stateVal atomic.Int32

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	// Loop-owned; never touched outside the event loop goroutine.
	st             State
	active         *activeTurn
	captured       time.Duration
	captureStarted time.Time
	history        []llm.Message

	dropped atomic.Uint64
}

// New validates deps and constructs a stopped orchestrator in [StateIdle].
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline deps: %w", err)
	}
	o := &Orchestrator{
		deps:          deps,
		wakeThreshold: defaultWakeThreshold,
		maxCapture:    defaultMaxCapture,
		turnTimeout:   defaultTurnTimeout,
		historyLimit:  defaultHistoryLimit,
		frameBuffer:   defaultFrameBuffer,
		st:            StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.msgs = make(chan message, o.frameBuffer)
	o.queue = playback.NewQueue(deps.Sink, playback.WithFinishedCallback(func(turnID uuid.UUID) {
		o.post(playbackDoneMsg{turnID: turnID})
	}))

	segOpts := []segment.Option{
		segment.WithEvictionCallback(func(total uint64) {
			slog.Warn("capture buffer overflow, oldest frame evicted",
				"total_evicted", total)
			o.events.segmentEviction(total)
		}),
	}
	if o.segmentCapacity > 0 {
		segOpts = append(segOpts, segment.WithCapacity(o.segmentCapacity))
	}
	o.assembler = segment.NewAssembler(segOpts...)

	return o, nil
}

// Start begins continuous capture and wake-word scanning. The pipeline moves
// from Idle to WakeListening. Start returns an error if already running or if
// the capture device cannot be started.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("pipeline already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.loopDone = make(chan struct{})
	o.running = true

	go o.loop(loopCtx)

	if err := o.deps.Source.Start(o.onFrame); err != nil {
		cancel()
		<-o.loopDone
		o.running = false
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	o.msgs <- resumeMsg{}
	return nil
}

// Stop halts capture, aborts any in-flight turn, flushes playback, and
// returns the pipeline to Idle. Safe to call when not running.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	done := o.loopDone
	o.mu.Unlock()

	cancel()
	<-done

	err := o.deps.Source.Stop()
	o.queue.Flush()
	return err
}

// Resume restarts capture after a device loss put the pipeline in Idle.
func (o *Orchestrator) Resume() error {
	if err := o.deps.Source.Start(o.onFrame); err != nil {
		return fmt.Errorf("failed to restart audio capture: %w", err)
	}
	o.post(resumeMsg{})
	return nil
}

// CurrentState returns an immutable snapshot of the pipeline state.
func (o *Orchestrator) CurrentState() State {
	return State(o.stateVal.Load())
}

// ProviderStatuses snapshots the health of every registered provider, keyed
// by stage kind.
func (o *Orchestrator) ProviderStatuses() map[string][]manager.ProviderStatus {
	return map[string][]manager.ProviderStatus{
		"stt": o.deps.Transcription.Statuses(),
		"llm": o.deps.Generation.Statuses(),
		"tts": o.deps.Synthesis.Statuses(),
	}
}

// DeviceLost informs the pipeline that the capture or playback device went
// away. Wire this to the device layer's stop callback.
func (o *Orchestrator) DeviceLost(err error) {
	o.post(deviceDownMsg{err: err})
}

// Settings are the orchestrator tunables that may change while running. Nil
// fields keep their current value.
type Settings struct {
	WakeThreshold *float64
	SystemPrompt  *string
	Voice         *tts.VoiceProfile
}

// UpdateSettings applies hot-reloadable tuning. Changes take effect from the
// next turn; the in-flight turn keeps the values it started with.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.post(settingsMsg{s: s})
}

// DroppedFrames returns how many frames were discarded because the event
// loop's buffer was full.
func (o *Orchestrator) DroppedFrames() uint64 {
	return o.dropped.Load()
}

// onFrame is the capture device callback. It must never block the device
// goroutine, so frames are dropped when the loop falls behind.
func (o *Orchestrator) onFrame(frame audio.AudioFrame) {
	select {
	case o.msgs <- frameMsg{frame: frame}:
	default:
		o.dropped.Add(1)
	}
}

// post delivers a non-frame message. It blocks until the loop accepts it or
// gives up when the loop has exited, so worker goroutines and sink callbacks
// can never hang across a shutdown.
func (o *Orchestrator) post(msg message) {
	o.mu.Lock()
	done := o.loopDone
	o.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case o.msgs <- msg:
	case <-done:
	}
}

// ─── Event loop ───────────────────────────────────────────────────────────────

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.loopDone)
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case msg := <-o.msgs:
			o.handle(ctx, msg)
		}
	}
}

func (o *Orchestrator) shutdown() {
	if o.active != nil {
		o.active.cancel()
		o.active = nil
	}
	if o.assembler.IsOpen() {
		if err := o.assembler.Discard(); err != nil {
			slog.Debug("failed to discard open segment on shutdown", "error", err)
		}
	}
	o.setState(StateIdle)
}

func (o *Orchestrator) handle(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case frameMsg:
		o.handleFrame(ctx, m.frame)

	case resumeMsg:
		if o.st == StateIdle {
			o.setState(StateWakeListening)
		}

	case stageMsg:
		if !o.isCurrentTurn(m.turnID) {
			return
		}
		if validStageAdvance(o.st, m.to) {
			o.setState(m.to)
		} else {
			slog.Debug("ignoring out-of-order stage transition",
				"turn_id", m.turnID, "from", o.st, "to", m.to)
		}

	case turnRecordMsg:
		if !o.isCurrentTurn(m.turnID) {
			return
		}
		record := m.turn
		o.active.record = &record

	case playbackDoneMsg:
		o.completeTurn(m.turnID)

	case turnFailedMsg:
		if !o.isCurrentTurn(m.turnID) {
			return
		}
		o.failTurn(m.kind, m.err)

	case turnAbandonedMsg:
		if !o.isCurrentTurn(m.turnID) {
			return
		}
		slog.Info("turn abandoned", "turn_id", m.turnID, "reason", m.reason)
		o.active.cancel()
		o.active = nil
		o.setState(StateWakeListening)

	case deviceDownMsg:
		slog.Error("audio device lost", "error", m.err)
		o.events.errorEvent(KindAudioDevice, fmt.Sprintf("audio device unavailable: %v", m.err))
		if o.active != nil {
			o.active.cancel()
			o.active = nil
		}
		o.queue.Flush()
		if o.assembler.IsOpen() {
			_ = o.assembler.Discard()
		}
		o.setState(StateIdle)

	case settingsMsg:
		if m.s.WakeThreshold != nil {
			o.wakeThreshold = *m.s.WakeThreshold
		}
		if m.s.SystemPrompt != nil {
			o.systemPrompt = *m.s.SystemPrompt
		}
		if m.s.Voice != nil {
			o.voice = *m.s.Voice
		}
		slog.Info("pipeline settings updated")
	}
}

func (o *Orchestrator) handleFrame(ctx context.Context, frame audio.AudioFrame) {
	switch o.st {
	case StateWakeListening:
		activation, ok := o.deps.Wake.ProcessFrame(frame.Data)
		if !ok {
			return
		}
		if activation.Confidence < o.wakeThreshold {
			slog.Debug("activation below threshold",
				"confidence", activation.Confidence,
				"threshold", o.wakeThreshold)
			return
		}
		o.beginCapture()

	case StateCapturing:
		if err := o.assembler.Append(frame); err != nil {
			slog.Warn("failed to buffer capture frame", "error", err)
			return
		}
		o.captured += frame.Duration()

		ev, err := o.deps.VAD.ProcessFrame(frame.Data)
		if err != nil {
			slog.Warn("vad frame processing failed", "error", err)
		}
		if ev.Type == vad.VADSpeechEnd || o.captured >= o.maxCapture {
			if o.captured >= o.maxCapture {
				slog.Info("max capture duration reached, finalizing segment",
					"captured", o.captured)
			}
			o.startTurn(ctx)
		}

	default:
		if !o.st.interruptible() {
			// Idle, Transcribing, Generating, Error: frames are not consumed.
			return
		}
		// Barge-in watch: capture keeps running while the assistant speaks.
		ev, err := o.deps.VAD.ProcessFrame(frame.Data)
		if err != nil {
			slog.Warn("vad frame processing failed", "error", err)
			return
		}
		if ev.Type == vad.VADSpeechStart {
			o.bargeIn()
			return
		}
		if activation, ok := o.deps.Wake.ProcessFrame(frame.Data); ok && activation.Confidence >= o.wakeThreshold {
			o.bargeIn()
		}
	}
}

// beginCapture opens a fresh segment and resets the detectors.
func (o *Orchestrator) beginCapture() {
	if o.assembler.IsOpen() {
		_ = o.assembler.Discard()
	}
	if err := o.assembler.Open(); err != nil {
		slog.Error("failed to open speech segment", "error", err)
		o.failTurn(KindInternal, err)
		return
	}
	o.deps.VAD.Reset()
	o.deps.Wake.Reset()
	o.captured = 0
	if o.active != nil {
		// Superseded by barge-in before its playback finished.
		o.active.cancel()
		o.active = nil
	}
	o.captureStarted = time.Now()
	o.setState(StateCapturing)
}

// startTurn finalizes the open segment and launches the turn worker.
func (o *Orchestrator) startTurn(ctx context.Context) {
	seg, err := o.assembler.Finalize()
	if err != nil {
		o.failTurn(KindInternal, fmt.Errorf("failed to finalize segment: %w", err))
		return
	}
	if len(seg.Frames) == 0 {
		slog.Debug("empty segment, returning to wake listening")
		o.setState(StateWakeListening)
		return
	}

	turnID := uuid.New()
	turnCtx, cancel := context.WithCancel(ctx)
	o.active = &activeTurn{
		id:             turnID,
		cancel:         cancel,
		captureStarted: o.captureStarted,
	}

	history := make([]llm.Message, len(o.history))
	copy(history, o.history)

	// The loop, not the worker, makes the turn current in the queue. A worker
	// superseded by barge-in could otherwise reactivate its own dead turn
	// after the loop has already flushed it.
	o.queue.BeginTurn(turnID)

	o.setState(StateTranscribing)
	go o.runTurn(turnCtx, turnID, seg, history, o.captureStarted)
}

// bargeIn interrupts the current reply: playback flushed, in-flight work
// cancelled via the turn context, and capture reopened. Stale chunks are
// discarded by the queue's turn tagging.
func (o *Orchestrator) bargeIn() {
	slog.Info("barge-in detected, interrupting playback")
	o.queue.Flush()
	o.beginCapture()
}

// failTurn surfaces a user-visible error and auto-recovers to WakeListening.
func (o *Orchestrator) failTurn(kind ErrorKind, err error) {
	if o.active != nil {
		o.active.cancel()
		o.active = nil
	}
	o.queue.Flush()
	slog.Error("turn failed", "kind", string(kind), "error", err)
	o.events.errorEvent(kind, err.Error())
	o.setState(StateError)
	o.setState(StateWakeListening)
}

// completeTurn closes out a turn whose playback has fully drained.
func (o *Orchestrator) completeTurn(turnID uuid.UUID) {
	if !o.isCurrentTurn(turnID) {
		return
	}
	record := o.active.record
	o.active.cancel()
	o.active = nil

	if record == nil {
		slog.Warn("playback finished without a turn record", "turn_id", turnID)
		o.setState(StateWakeListening)
		return
	}
	record.Timings.PlaybackDone = time.Now()

	o.history = append(o.history,
		llm.Message{Role: "user", Content: record.Command},
		llm.Message{Role: "assistant", Content: record.Reply},
	)
	if len(o.history) > o.historyLimit {
		o.history = o.history[len(o.history)-o.historyLimit:]
	}

	slog.Info("turn completed",
		"turn_id", record.ID,
		"transcript", record.Transcript,
		"response_latency", record.Timings.ResponseLatency())
	o.events.turnCompleted(*record)
	o.setState(StateWakeListening)
}

func (o *Orchestrator) isCurrentTurn(turnID uuid.UUID) bool {
	return o.active != nil && o.active.id == turnID
}

func (o *Orchestrator) setState(to State) {
	from := o.st
	if from == to {
		return
	}
	o.st = to
	o.stateVal.Store(int32(to))
	slog.Debug("pipeline state changed", "from", from.String(), "to", to.String())
	o.events.stateChanged(from, to)
}

// validStageAdvance guards worker-requested transitions so a stale or
// reordered message can never move the machine backwards.
func validStageAdvance(from, to State) bool {
	switch to {
	case StateGenerating:
		return from == StateTranscribing
	case StateSynthesizing:
		return from == StateGenerating
	case StateSpeaking:
		return from == StateSynthesizing
	default:
		return false
	}
}
