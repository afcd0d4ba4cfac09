package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/pkarell/auric/pkg/provider/llm"
)

// Generation streams LLM completions, falling back across providers. Fallback
// restarts the request from scratch on the next provider, which is safe
// because nothing has been surfaced to the user before the first chunk.
type Generation struct {
	group   *group[llm.Provider]
	timeout time.Duration
}

// NewGeneration creates an empty generation manager.
func NewGeneration(cfg GroupConfig) *Generation {
	cfg.Kind = "llm"
	return &Generation{
		group:   newGroup[llm.Provider](cfg),
		timeout: cfg.firstChunkTimeout(),
	}
}

// Add registers a provider at the next priority slot.
func (m *Generation) Add(name string, p llm.Provider) {
	m.group.add(name, p)
}

// Statuses snapshots all registered providers.
func (m *Generation) Statuses() []ProviderStatus {
	return m.group.statuses()
}

// Usable reports whether any provider would currently be admitted.
func (m *Generation) Usable() bool {
	return m.group.usable()
}

// genStream is the per-provider stream state captured at first-chunk time.
type genStream struct {
	first  llm.Chunk
	chunks <-chan llm.Chunk
	errs   <-chan error
	cancel context.CancelFunc
}

// Stream starts a completion on the first provider that produces a chunk
// within the first-chunk window. The returned channel re-emits that first
// chunk followed by the rest of the stream; the error channel carries at most
// one mid-stream failure. Both channels are closed when the stream ends.
// The winning provider's name is returned for turn records.
func (m *Generation) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, <-chan error, string, error) {
	p, err := attempt(m.group, func(name string, provider llm.Provider) (genStream, error) {
		return m.startOnce(ctx, provider, req)
	})
	if err != nil {
		return nil, nil, "", err
	}

	out := make(chan llm.Chunk, 16)
	errOut := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errOut)
		defer p.result.cancel()

		out <- p.result.first
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-p.result.chunks:
				if !ok {
					// A pending error can lose the select race against the
					// channel close; drain it before declaring a clean end.
					if p.result.errs != nil {
						select {
						case streamErr, ok := <-p.result.errs:
							if ok && streamErr != nil {
								if ctx.Err() == nil {
									p.breaker.RecordFailure()
								}
								errOut <- fmt.Errorf("generation failed mid-stream on %s: %w", p.name, streamErr)
							}
						default:
						}
					}
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- chunk:
				}
			case streamErr, ok := <-p.result.errs:
				if !ok {
					p.result.errs = nil
					continue
				}
				// A failure after the first chunk cannot be retried
				// transparently; count it against the provider and
				// surface it. An aborted turn is not the provider's
				// fault and is not counted.
				if ctx.Err() == nil {
					p.breaker.RecordFailure()
				}
				errOut <- fmt.Errorf("generation failed mid-stream on %s: %w", p.name, streamErr)
				return
			}
		}
	}()
	return out, errOut, p.name, nil
}

// startOnce opens a stream and waits for its first chunk.
func (m *Generation) startOnce(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) (genStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	chunks, errs, err := provider.StreamCompletion(streamCtx, req)
	if err != nil {
		cancel()
		return genStream{}, fmt.Errorf("failed to start completion: %w", err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		cancel()
		return genStream{}, ctx.Err()

	case <-timer.C:
		cancel()
		return genStream{}, ErrFirstChunkTimeout

	case streamErr, ok := <-errs:
		if ok {
			cancel()
			return genStream{}, streamErr
		}
		// Error channel closed cleanly; a chunk may still be buffered.
		select {
		case first, ok := <-chunks:
			if ok {
				return genStream{first: first, chunks: chunks, errs: nil, cancel: cancel}, nil
			}
		default:
		}
		cancel()
		return genStream{}, fmt.Errorf("provider closed stream without output")

	case first, ok := <-chunks:
		if !ok {
			cancel()
			return genStream{}, fmt.Errorf("provider closed stream without output")
		}
		return genStream{first: first, chunks: chunks, errs: errs, cancel: cancel}, nil
	}
}
