package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkarell/auric/pkg/provider/tts"
)

// Chunk is one sequence-numbered piece of synthesized audio. Sequence numbers
// start at 0 within a stream and are what the playback queue orders on.
type Chunk struct {
	Seq   int
	Audio []byte
}

// Synthesis streams text into audio, falling back across TTS providers.
//
// Text is teed into a replay buffer as it arrives, so a provider that dies
// before producing any audio can be replaced: the next provider is started
// with the buffered text followed by whatever is still flowing in. Once a
// provider has produced audio, failover is no longer transparent (some of the
// text has already been spoken) and a mid-stream failure is surfaced instead.
type Synthesis struct {
	group   *group[tts.Provider]
	timeout time.Duration
}

// NewSynthesis creates an empty synthesis manager.
func NewSynthesis(cfg GroupConfig) *Synthesis {
	cfg.Kind = "tts"
	return &Synthesis{
		group:   newGroup[tts.Provider](cfg),
		timeout: cfg.firstChunkTimeout(),
	}
}

// Add registers a provider at the next priority slot.
func (m *Synthesis) Add(name string, p tts.Provider) {
	m.group.add(name, p)
}

// Statuses snapshots all registered providers.
func (m *Synthesis) Statuses() []ProviderStatus {
	return m.group.statuses()
}

// Usable reports whether any provider would currently be admitted.
func (m *Synthesis) Usable() bool {
	return m.group.usable()
}

// textBuffer accumulates text fragments so late-started providers can replay
// the stream from the beginning.
type textBuffer struct {
	mu     sync.Mutex
	items  []string
	done   bool
	notify chan struct{}
}

func newTextBuffer() *textBuffer {
	return &textBuffer{notify: make(chan struct{})}
}

func (b *textBuffer) append(s string) {
	b.mu.Lock()
	b.items = append(b.items, s)
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

func (b *textBuffer) markDone() {
	b.mu.Lock()
	b.done = true
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

// get returns item i if present. When absent, ok is false and wait (non-nil
// unless the buffer is complete) signals the next state change.
func (b *textBuffer) get(i int) (item string, ok bool, wait <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < len(b.items) {
		return b.items[i], true, nil
	}
	if b.done {
		return "", false, nil
	}
	return "", false, b.notify
}

func (b *textBuffer) isDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// synthStream is the per-provider stream state captured at first-chunk time.
type synthStream struct {
	first  []byte
	audio  <-chan []byte
	cancel context.CancelFunc
}

// Stream synthesizes the text stream on the first provider that produces
// audio within the first-chunk window. The returned channel carries
// sequence-numbered audio chunks; the error channel carries at most one
// mid-stream failure. Both are closed when the stream ends.
func (m *Synthesis) Stream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan Chunk, <-chan error, string, error) {
	buf := newTextBuffer()
	go func() {
		for s := range text {
			buf.append(s)
		}
		buf.markDone()
	}()

	p, err := attempt(m.group, func(name string, provider tts.Provider) (synthStream, error) {
		return m.startOnce(ctx, provider, buf, voice)
	})
	if err != nil {
		return nil, nil, "", err
	}

	out := make(chan Chunk, 16)
	errOut := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errOut)
		defer p.result.cancel()

		seq := 0
		out <- Chunk{Seq: seq, Audio: p.result.first}
		seq++
		for {
			select {
			case <-ctx.Done():
				return
			case audio, ok := <-p.result.audio:
				if !ok {
					if !buf.isDone() && ctx.Err() == nil {
						p.breaker.RecordFailure()
						errOut <- fmt.Errorf("synthesis ended early on %s with text remaining", p.name)
					}
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- Chunk{Seq: seq, Audio: audio}:
					seq++
				}
			}
		}
	}()
	return out, errOut, p.name, nil
}

// startOnce starts one provider fed from the replay buffer and waits for its
// first audio chunk.
func (m *Synthesis) startOnce(ctx context.Context, provider tts.Provider, buf *textBuffer, voice tts.VoiceProfile) (synthStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	provText := make(chan string)
	go func() {
		defer close(provText)
		for i := 0; ; i++ {
			for {
				item, ok, wait := buf.get(i)
				if ok {
					select {
					case <-streamCtx.Done():
						return
					case provText <- item:
					}
					break
				}
				if wait == nil {
					return
				}
				select {
				case <-streamCtx.Done():
					return
				case <-wait:
				}
			}
		}
	}()

	audio, err := provider.SynthesizeStream(streamCtx, provText, voice)
	if err != nil {
		cancel()
		return synthStream{}, fmt.Errorf("failed to start synthesis: %w", err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		cancel()
		return synthStream{}, ctx.Err()

	case <-timer.C:
		cancel()
		return synthStream{}, ErrFirstChunkTimeout

	case first, ok := <-audio:
		if !ok {
			cancel()
			return synthStream{}, fmt.Errorf("provider closed stream without audio")
		}
		return synthStream{first: first, audio: audio, cancel: cancel}, nil
	}
}
