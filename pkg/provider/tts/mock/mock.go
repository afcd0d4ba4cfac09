// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and text fragments are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/pkarell/auric/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Text is the text input channel passed to SynthesizeStream.
	Text <-chan string
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream. Ignored when EchoText is set.
	SynthesizeChunks [][]byte

	// EchoText, when set, makes the stream emit one audio chunk per received
	// text fragment, containing the fragment's bytes. Useful for asserting
	// pipelining and replay behaviour.
	EchoText bool

	// CloseEarlyAfter, if positive, closes the audio channel after emitting
	// that many chunks, simulating a provider that fails mid-synthesis.
	CloseEarlyAfter int

	// SynthesizeErr, if non-nil, is returned as the error from
	// SynthesizeStream instead of starting a channel.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall

	// ReceivedText records every text fragment drained from the input
	// channels of all streams, in order of receipt.
	ReceivedText []string
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits audio chunks then closes. The text channel is always
// drained; received fragments are appended to ReceivedText.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	echo := p.EchoText
	closeAfter := p.CloseEarlyAfter
	p.mu.Unlock()

	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		emitted := 0
		emit := func(audio []byte) bool {
			if closeAfter > 0 && emitted >= closeAfter {
				return false
			}
			select {
			case <-ctx.Done():
				return false
			case ch <- audio:
				emitted++
				return true
			}
		}

		if echo {
			for fragment := range text {
				p.mu.Lock()
				p.ReceivedText = append(p.ReceivedText, fragment)
				p.mu.Unlock()
				if !emit([]byte(fragment)) {
					return
				}
			}
			return
		}

		// Drain the incoming text channel to simulate real behaviour and
		// avoid leaving the caller's goroutine blocked writing to it.
		go func() {
			for fragment := range text {
				p.mu.Lock()
				p.ReceivedText = append(p.ReceivedText, fragment)
				p.mu.Unlock()
			}
		}()
		for _, audio := range chunks {
			if !emit(audio) {
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// ReceivedTextSnapshot returns a copy of ReceivedText. Thread-safe.
func (p *Provider) ReceivedTextSnapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ReceivedText))
	copy(out, p.ReceivedText)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = nil
	p.ReceivedText = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
