package pipeline

// ErrorKind classifies a user-visible pipeline error by the stage it came
// from, without exposing provider internals or credentials.
type ErrorKind string

const (
	KindTranscription ErrorKind = "transcription"
	KindGeneration    ErrorKind = "generation"
	KindSynthesis     ErrorKind = "synthesis"
	KindAudioDevice   ErrorKind = "audio-device"
	KindInternal      ErrorKind = "internal"
)

// Events is the orchestrator's subscription surface. All callbacks are
// optional; nil callbacks are skipped. Per-chunk callbacks fire at most once
// per chunk and in sequence order within a turn.
//
// Callbacks run on orchestrator or turn-worker goroutines and must not block;
// long-running consumers should hand the payload off to their own goroutine.
type Events struct {
	// OnStateChanged fires on every pipeline state transition.
	OnStateChanged func(from, to State)

	// OnTranscriptPartial fires for each interim transcription result.
	OnTranscriptPartial func(text string)

	// OnTranscriptFinal fires once per turn with the final transcript.
	OnTranscriptFinal func(text string)

	// OnResponseChunk fires for each streamed reply text chunk.
	OnResponseChunk func(text string, seq int)

	// OnAudioChunkReady fires for each synthesized audio chunk as it is
	// handed to the playback queue.
	OnAudioChunkReady func(chunk []byte, seq int)

	// OnTurnCompleted fires once per turn after playback finishes. The
	// external memory subsystem persists transcripts from this event.
	OnTurnCompleted func(turn Turn)

	// OnSegmentEviction fires when the capture buffer overflows and drops
	// its oldest frame, a sign that VAD end-of-speech detection is mistuned.
	OnSegmentEviction func(totalEvicted uint64)

	// OnError fires for user-visible failures: provider exhaustion, device
	// loss, internal errors.
	OnError func(kind ErrorKind, detail string)
}

func (e Events) stateChanged(from, to State) {
	if e.OnStateChanged != nil {
		e.OnStateChanged(from, to)
	}
}

func (e Events) transcriptPartial(text string) {
	if e.OnTranscriptPartial != nil {
		e.OnTranscriptPartial(text)
	}
}

func (e Events) transcriptFinal(text string) {
	if e.OnTranscriptFinal != nil {
		e.OnTranscriptFinal(text)
	}
}

func (e Events) responseChunk(text string, seq int) {
	if e.OnResponseChunk != nil {
		e.OnResponseChunk(text, seq)
	}
}

func (e Events) audioChunkReady(chunk []byte, seq int) {
	if e.OnAudioChunkReady != nil {
		e.OnAudioChunkReady(chunk, seq)
	}
}

func (e Events) turnCompleted(turn Turn) {
	if e.OnTurnCompleted != nil {
		e.OnTurnCompleted(turn)
	}
}

func (e Events) segmentEviction(total uint64) {
	if e.OnSegmentEviction != nil {
		e.OnSegmentEviction(total)
	}
}

func (e Events) errorEvent(kind ErrorKind, detail string) {
	if e.OnError != nil {
		e.OnError(kind, detail)
	}
}
