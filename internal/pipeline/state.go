package pipeline

// State is the single process-wide pipeline state. It is owned exclusively by
// the orchestrator's event loop; every other component only posts events that
// request a transition.
type State int

const (
	// StateIdle means the pipeline is stopped or paused (e.g. audio device
	// lost). No audio is processed.
	StateIdle State = iota

	// StateWakeListening means frames are scanned for the activation phrase.
	StateWakeListening

	// StateCapturing means an utterance is being recorded into the open
	// speech segment, bounded by VAD and the max capture duration.
	StateCapturing

	// StateTranscribing means the finalized segment is with the
	// transcription manager.
	StateTranscribing

	// StateGenerating means a final transcript exists and the reply is being
	// generated.
	StateGenerating

	// StateSynthesizing means the first response chunk has arrived and
	// synthesis is consuming the reply as it streams.
	StateSynthesizing

	// StateSpeaking means synthesized audio is being played back.
	StateSpeaking

	// StateError is a transient state entered on provider exhaustion or an
	// internal failure. The orchestrator immediately recovers to
	// WakeListening; no event loop iteration ends in this state.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWakeListening:
		return "wake_listening"
	case StateCapturing:
		return "capturing"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// interruptible reports whether a speech-start or activation event in this
// state triggers barge-in.
func (s State) interruptible() bool {
	return s == StateSynthesizing || s == StateSpeaking
}
