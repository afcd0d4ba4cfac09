package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/pkarell/auric/internal/segment"
	"github.com/pkarell/auric/pkg/provider/stt"
)

// Transcription turns finalized speech segments into transcripts, falling
// back across STT providers. Because the segment is held in memory, a
// fallback simply replays the same audio into the next provider.
type Transcription struct {
	group   *group[stt.Provider]
	timeout time.Duration
}

// NewTranscription creates an empty transcription manager.
func NewTranscription(cfg GroupConfig) *Transcription {
	cfg.Kind = "stt"
	return &Transcription{
		group:   newGroup[stt.Provider](cfg),
		timeout: cfg.firstChunkTimeout(),
	}
}

// Add registers a provider at the next priority slot.
func (m *Transcription) Add(name string, p stt.Provider) {
	m.group.add(name, p)
}

// Statuses snapshots all registered providers.
func (m *Transcription) Statuses() []ProviderStatus {
	return m.group.statuses()
}

// Usable reports whether any provider would currently be admitted.
func (m *Transcription) Usable() bool {
	return m.group.usable()
}

// Transcribe feeds the segment's audio into the first usable provider and
// returns the final transcript. Interim results are forwarded to onPartial
// when non-nil. A provider that produces no final transcript within the
// first-chunk window is failed over.
func (m *Transcription) Transcribe(ctx context.Context, seg segment.Segment, cfg stt.StreamConfig, onPartial func(stt.Transcript)) (stt.Transcript, string, error) {
	p, err := attempt(m.group, func(name string, provider stt.Provider) (stt.Transcript, error) {
		return m.transcribeOnce(ctx, provider, seg, cfg, onPartial)
	})
	if err != nil {
		return stt.Transcript{}, "", err
	}
	return p.result, p.name, nil
}

func (m *Transcription) transcribeOnce(ctx context.Context, provider stt.Provider, seg segment.Segment, cfg stt.StreamConfig, onPartial func(stt.Transcript)) (stt.Transcript, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := provider.StartStream(sessCtx, cfg)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to start stream: %w", err)
	}
	defer session.Close()

	// Feed the whole segment, then close to flush the provider's buffer.
	sendErr := make(chan error, 1)
	go func() {
		for _, frame := range seg.Frames {
			if err := session.SendAudio(frame.Data); err != nil {
				sendErr <- fmt.Errorf("failed to send audio: %w", err)
				return
			}
		}
		sendErr <- session.Close()
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	partials := session.Partials()
	finals := session.Finals()
	var final *stt.Transcript
	for {
		select {
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()

		case <-timer.C:
			return stt.Transcript{}, ErrFirstChunkTimeout

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if onPartial != nil {
				onPartial(t)
			}

		case t, ok := <-finals:
			if !ok {
				if final != nil {
					if err := <-sendErr; err != nil {
						return stt.Transcript{}, err
					}
					return *final, nil
				}
				return stt.Transcript{}, fmt.Errorf("session ended without final transcript")
			}
			// Providers may emit several finals for one segment; the last
			// one before the channel closes wins.
			if final == nil {
				final = &t
			} else {
				final.Text = final.Text + " " + t.Text
				final.Duration += t.Duration
				if t.Confidence < final.Confidence {
					final.Confidence = t.Confidence
				}
				final.Words = append(final.Words, t.Words...)
			}
		}
	}
}
