package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Turn records one complete user-utterance-to-assistant-reply cycle. It is
// created when a speech segment is finalized and delivered through
// [Events.OnTurnCompleted] once playback of the reply finishes.
type Turn struct {
	// ID uniquely identifies the turn. Playback chunks are tagged with it.
	ID uuid.UUID

	// Transcript is the final transcription of the user's utterance,
	// including the activation phrase.
	Transcript string

	// Command is the transcript with the activation phrase stripped; this is
	// what the generation stage received.
	Command string

	// Reply is the full generated reply text.
	Reply string

	// Providers that served each stage, for diagnostics.
	TranscriptionProvider string
	GenerationProvider    string
	SynthesisProvider     string

	// Timings holds the per-stage latency marks.
	Timings Timings
}

// Timings are the wall-clock marks of a turn's stages. A zero value means the
// stage was never reached.
type Timings struct {
	CaptureStarted     time.Time
	SegmentFinalized   time.Time
	TranscriptFinal    time.Time
	FirstResponseChunk time.Time
	FirstAudioChunk    time.Time
	PlaybackDone       time.Time
}

// TranscriptionLatency is the time from segment finalization to the final
// transcript.
func (t Timings) TranscriptionLatency() time.Duration {
	return span(t.SegmentFinalized, t.TranscriptFinal)
}

// GenerationLatency is the time from the final transcript to the first
// response chunk.
func (t Timings) GenerationLatency() time.Duration {
	return span(t.TranscriptFinal, t.FirstResponseChunk)
}

// SynthesisLatency is the time from the first response chunk to the first
// audio chunk.
func (t Timings) SynthesisLatency() time.Duration {
	return span(t.FirstResponseChunk, t.FirstAudioChunk)
}

// ResponseLatency is the end-of-speech to first-audio interval, the number
// that dominates perceived responsiveness.
func (t Timings) ResponseLatency() time.Duration {
	return span(t.SegmentFinalized, t.FirstAudioChunk)
}

func span(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return to.Sub(from)
}
