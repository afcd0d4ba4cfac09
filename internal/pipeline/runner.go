package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pkarell/auric/internal/observe"
	"github.com/pkarell/auric/internal/segment"
	"github.com/pkarell/auric/pkg/provider/llm"
	"github.com/pkarell/auric/pkg/provider/stt"
)

// stageError tags a turn failure with the stage it came from so the loop can
// emit a classified error event.
type stageError struct {
	kind ErrorKind
	err  error
}

func (e *stageError) Error() string { return string(e.kind) + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failStage(kind ErrorKind, err error) *stageError {
	return &stageError{kind: kind, err: err}
}

// runTurn drives one turn through transcription, generation, synthesis, and
// playback handoff. It runs on its own goroutine and communicates with the
// event loop exclusively through posted messages tagged with turnID. Any
// panic is recovered and converted into an internal-error transition so the
// pipeline never hangs mid-turn.
func (o *Orchestrator) runTurn(ctx context.Context, turnID uuid.UUID, seg segment.Segment, history []llm.Message, captureStarted time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("turn worker panic", "turn_id", turnID, "panic", r)
			o.post(turnFailedMsg{
				turnID: turnID,
				kind:   KindInternal,
				err:    fmt.Errorf("internal failure: %v", r),
			})
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.String("turn.id", turnID.String())))
	defer span.End()

	turn := Turn{
		ID: turnID,
		Timings: Timings{
			CaptureStarted:   captureStarted,
			SegmentFinalized: time.Now(),
		},
	}

	// ── Transcription ────────────────────────────────────────────────────────

	sttCtx, sttSpan := observe.StartSpan(ctx, "pipeline.transcribe")
	final, sttProvider, err := o.deps.Transcription.Transcribe(sttCtx, seg, o.sttCfg, func(t stt.Transcript) {
		o.events.transcriptPartial(t.Text)
	})
	if err != nil {
		sttSpan.RecordError(err)
		sttSpan.End()
		o.failWorker(ctx, turnID, failStage(KindTranscription, err))
		return
	}
	sttSpan.SetAttributes(attribute.String("provider", sttProvider))
	sttSpan.End()
	turn.Transcript = final.Text
	turn.TranscriptionProvider = sttProvider
	turn.Timings.TranscriptFinal = time.Now()
	o.events.transcriptFinal(final.Text)

	// ── Activation-phrase verification ───────────────────────────────────────

	turn.Command = final.Text
	if o.verifier != nil {
		conf, ok := o.verifier.Verify(final.Text)
		if !ok {
			o.post(turnAbandonedMsg{
				turnID: turnID,
				reason: fmt.Sprintf("transcript does not start with activation phrase (best score %.2f)", conf),
			})
			return
		}
		turn.Command = o.verifier.Strip(final.Text)
	}
	if turn.Command == "" {
		o.post(turnAbandonedMsg{turnID: turnID, reason: "empty command after activation phrase"})
		return
	}

	// ── Generation ───────────────────────────────────────────────────────────

	o.post(stageMsg{turnID: turnID, to: StateGenerating})

	req := llm.CompletionRequest{
		SystemPrompt: o.systemPrompt,
		Messages:     append(history, llm.Message{Role: "user", Content: turn.Command}),
	}
	genCtx, genSpan := observe.StartSpan(ctx, "pipeline.generate")
	chunks, genErrs, genProvider, err := o.deps.Generation.Stream(genCtx, req)
	if err != nil {
		genSpan.RecordError(err)
		genSpan.End()
		o.failWorker(ctx, turnID, failStage(KindGeneration, err))
		return
	}
	genSpan.SetAttributes(attribute.String("provider", genProvider))
	turn.GenerationProvider = genProvider

	// ── Pipelined synthesis ──────────────────────────────────────────────────
	//
	// Generation chunks are split into sentences and fed to synthesis while
	// the stream is still producing; synthesized audio goes straight to the
	// playback queue. The two goroutines share nothing but textCh; each
	// writes only its own fields of turn, read after Wait.

	textCh := make(chan string, 16)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(textCh)
		defer genSpan.End()
		var splitter sentenceSplitter
		seq := 0
		firstChunk := true
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()

			case chunk, ok := <-chunks:
				if !ok {
					// A buffered mid-stream error can lose the select race
					// against the channel close.
					if genErrs != nil {
						select {
						case streamErr, ok := <-genErrs:
							if ok && streamErr != nil {
								return failStage(KindGeneration, streamErr)
							}
						default:
						}
					}
					if rest := splitter.flush(); rest != "" {
						select {
						case textCh <- rest:
						case <-gctx.Done():
							return gctx.Err()
						}
					}
					return nil
				}
				if firstChunk {
					firstChunk = false
					turn.Timings.FirstResponseChunk = time.Now()
					o.post(stageMsg{turnID: turnID, to: StateSynthesizing})
				}
				if chunk.Text != "" {
					o.events.responseChunk(chunk.Text, seq)
					seq++
					turn.Reply += chunk.Text
					for _, sentence := range splitter.feed(chunk.Text) {
						select {
						case textCh <- sentence:
						case <-gctx.Done():
							return gctx.Err()
						}
					}
				}

			case streamErr, ok := <-genErrs:
				if !ok {
					genErrs = nil
					continue
				}
				return failStage(KindGeneration, streamErr)
			}
		}
	})

	g.Go(func() error {
		synthCtx, synthSpan := observe.StartSpan(gctx, "pipeline.synthesize")
		defer synthSpan.End()
		audioCh, synthErrs, synthProvider, err := o.deps.Synthesis.Stream(synthCtx, textCh, o.voice)
		if err != nil {
			synthSpan.RecordError(err)
			return failStage(KindSynthesis, err)
		}
		synthSpan.SetAttributes(attribute.String("provider", synthProvider))
		turn.SynthesisProvider = synthProvider

		firstAudio := true
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()

			case chunk, ok := <-audioCh:
				if !ok {
					select {
					case streamErr, ok := <-synthErrs:
						if ok && streamErr != nil {
							return failStage(KindSynthesis, streamErr)
						}
					default:
					}
					return nil
				}
				if firstAudio {
					firstAudio = false
					turn.Timings.FirstAudioChunk = time.Now()
					o.post(stageMsg{turnID: turnID, to: StateSpeaking})
				}
				if err := o.queue.Enqueue(turnID, chunk.Seq, chunk.Audio); err != nil {
					return failStage(KindSynthesis, err)
				}
				o.events.audioChunkReady(chunk.Audio, chunk.Seq)

			case streamErr, ok := <-synthErrs:
				if !ok {
					synthErrs = nil
					continue
				}
				return failStage(KindSynthesis, streamErr)
			}
		}
	})

	if err := g.Wait(); err != nil {
		o.failWorker(ctx, turnID, err)
		return
	}
	if turn.Timings.FirstAudioChunk.IsZero() {
		o.failWorker(ctx, turnID, failStage(KindSynthesis, fmt.Errorf("no audio produced for reply")))
		return
	}

	// Hand the record to the loop before declaring the turn finished, so the
	// playback-done message always finds it.
	o.post(turnRecordMsg{turnID: turnID, turn: turn})
	if err := o.queue.FinishTurn(turnID); err != nil {
		o.post(turnFailedMsg{turnID: turnID, kind: KindSynthesis, err: err})
	}
}

// failWorker posts a classified turn failure. A turn cancelled from outside
// was superseded by barge-in or shutdown and is dropped silently; a turn
// whose own deadline expired is a real failure and must surface, otherwise
// the pipeline would hang in a mid-turn state.
func (o *Orchestrator) failWorker(ctx context.Context, turnID uuid.UUID, err error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		slog.Debug("turn cancelled", "turn_id", turnID)
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.post(turnFailedMsg{
			turnID: turnID,
			kind:   KindInternal,
			err:    fmt.Errorf("turn timed out after %s", o.turnTimeout),
		})
		return
	}
	kind := KindInternal
	if se, ok := err.(*stageError); ok {
		kind = se.kind
		err = se.err
	}
	o.post(turnFailedMsg{turnID: turnID, kind: kind, err: err})
}
