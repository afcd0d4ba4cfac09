package pipeline

import (
	"time"

	"github.com/pkarell/auric/internal/wakeword"
	"github.com/pkarell/auric/pkg/provider/stt"
	"github.com/pkarell/auric/pkg/provider/tts"
)

const (
	defaultWakeThreshold = 0.5
	defaultMaxCapture    = 30 * time.Second
	defaultTurnTimeout   = 2 * time.Minute
	defaultHistoryLimit  = 20
	defaultFrameBuffer   = 256
)

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithEvents registers the event subscription surface.
func WithEvents(events Events) Option {
	return func(o *Orchestrator) { o.events = events }
}

// WithWakeThreshold sets the minimum detector confidence required to leave
// WakeListening. Activations below it are logged and ignored. Default: 0.5.
func WithWakeThreshold(threshold float64) Option {
	return func(o *Orchestrator) { o.wakeThreshold = threshold }
}

// WithVerifier enables phonetic verification of the activation phrase against
// the final transcript. Turns whose transcript does not begin with the phrase
// are abandoned as false activations. Default: no verification.
func WithVerifier(v *wakeword.Verifier) Option {
	return func(o *Orchestrator) { o.verifier = v }
}

// WithMaxCaptureDuration bounds a single utterance capture; when reached the
// segment is force-finalized as if VAD had signalled speech-end.
// Default: 30s.
func WithMaxCaptureDuration(d time.Duration) Option {
	return func(o *Orchestrator) { o.maxCapture = d }
}

// WithSegmentCapacity caps the capture buffer's frame count. Oldest frames
// are evicted beyond it. Default: the segment package default.
func WithSegmentCapacity(frames int) Option {
	return func(o *Orchestrator) { o.segmentCapacity = frames }
}

// WithTurnTimeout bounds a whole turn from segment finalization to the end of
// synthesis; expiry aborts the turn with an error transition so the pipeline
// can never hang in a mid-turn state. Default: 2m.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.turnTimeout = d }
}

// WithSTTConfig sets the stream configuration passed to transcription
// providers. Default: zero value (provider defaults).
func WithSTTConfig(cfg stt.StreamConfig) Option {
	return func(o *Orchestrator) { o.sttCfg = cfg }
}

// WithVoice sets the voice profile used for synthesis.
func WithVoice(voice tts.VoiceProfile) Option {
	return func(o *Orchestrator) { o.voice = voice }
}

// WithSystemPrompt sets the system prompt sent with every generation request.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithHistoryLimit caps the number of prior messages carried into generation
// requests. Default: 20.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) { o.historyLimit = n }
}

// WithFrameBuffer sets the capacity of the internal frame event channel.
// When the loop falls behind, excess frames are dropped rather than blocking
// the capture device callback. Default: 256.
func WithFrameBuffer(n int) Option {
	return func(o *Orchestrator) { o.frameBuffer = n }
}
