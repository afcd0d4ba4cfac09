// Package manager implements priority-ordered provider fallback for the three
// streaming stages: transcription, generation, and synthesis.
//
// Each manager owns a list of providers in priority order, one circuit breaker
// per provider. A stage call walks the list, skipping providers whose breaker
// rejects the call, and tries the first admitted one. For streaming stages
// success means the first chunk arrived within the configured window; a
// provider that accepts the connection but never produces a chunk is treated
// exactly like one that refused outright, and the next provider is tried.
// When no provider is usable the stage fails with [ErrExhausted] and the
// pipeline surfaces an error turn.
//
// All managers are safe for concurrent use.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkarell/auric/internal/resilience"
)

// ErrExhausted is returned when every provider of a stage has failed or has
// an open circuit breaker.
var ErrExhausted = errors.New("all providers exhausted")

// ErrFirstChunkTimeout marks a provider that connected but produced no chunk
// within the first-chunk window.
var ErrFirstChunkTimeout = errors.New("timed out waiting for first chunk")

// DefaultFirstChunkTimeout bounds the wait for a provider's first chunk.
const DefaultFirstChunkTimeout = 5 * time.Second

// GroupConfig tunes a manager's provider group.
type GroupConfig struct {
	// Kind labels the stage ("stt", "llm", "tts") in logs and breaker names.
	Kind string

	// MaxFailures and Cooldown configure each provider's circuit breaker.
	MaxFailures int
	Cooldown    time.Duration

	// FirstChunkTimeout bounds the wait for the first chunk of a streaming
	// call. Zero means [DefaultFirstChunkTimeout].
	FirstChunkTimeout time.Duration

	// OnBreakerChange, if set, receives every breaker state transition.
	OnBreakerChange func(name string, from, to resilience.State)
}

func (cfg *GroupConfig) firstChunkTimeout() time.Duration {
	if cfg.FirstChunkTimeout <= 0 {
		return DefaultFirstChunkTimeout
	}
	return cfg.FirstChunkTimeout
}

// ProviderStatus is a point-in-time health snapshot of one registered
// provider.
type ProviderStatus struct {
	// Name is the provider's configured name.
	Name string

	// Priority is the provider's position in the fallback order (0 = first).
	Priority int

	// Breaker is the provider's circuit breaker snapshot.
	Breaker resilience.Status
}

// entry pairs a provider value with its dedicated circuit breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *resilience.CircuitBreaker
}

// group is the shared fallback core. Entries are tried in registration order.
type group[T any] struct {
	cfg     GroupConfig
	entries []entry[T]
}

func newGroup[T any](cfg GroupConfig) *group[T] {
	return &group[T]{cfg: cfg}
}

// add registers a provider at the next priority slot.
func (g *group[T]) add(name string, value T) {
	g.entries = append(g.entries, entry[T]{
		name:  name,
		value: value,
		breaker: resilience.NewCircuitBreaker(resilience.Config{
			Name:          g.cfg.Kind + "/" + name,
			MaxFailures:   g.cfg.MaxFailures,
			Cooldown:      g.cfg.Cooldown,
			OnStateChange: g.cfg.OnBreakerChange,
		}),
	})
}

// statuses snapshots every entry in priority order.
func (g *group[T]) statuses() []ProviderStatus {
	out := make([]ProviderStatus, len(g.entries))
	for i, e := range g.entries {
		out[i] = ProviderStatus{
			Name:     e.name,
			Priority: i,
			Breaker:  e.breaker.Status(),
		}
	}
	return out
}

// usable reports whether at least one entry's breaker would admit a call.
func (g *group[T]) usable() bool {
	for i := range g.entries {
		if g.entries[i].breaker.State() != resilience.StateOpen {
			return true
		}
	}
	return false
}

// pick is the outcome of a successful attempt: the winning provider's result
// plus the handle needed to record a later mid-stream failure.
type pick[R any] struct {
	name    string
	breaker *resilience.CircuitBreaker
	result  R
}

// attempt tries fn against each admitted entry in priority order. A nil error
// from fn records a breaker success and stops; an error records a failure and
// moves on. A caller abort (context cancelled or deadline exceeded, e.g. a
// barge-in mid-stage) is neither: the provider did nothing wrong, so no
// failure is recorded and the walk stops instead of retrying the next
// provider on a dead context. This is a package-level function because Go
// does not support method-level type parameters.
func attempt[T, R any](g *group[T], fn func(name string, v T) (R, error)) (pick[R], error) {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]
		if err := e.breaker.Allow(); err != nil {
			slog.Debug("skipping provider (circuit open)",
				"kind", g.cfg.Kind, "provider", e.name)
			lastErr = err
			continue
		}
		result, err := fn(e.name, e.value)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				var zero pick[R]
				return zero, err
			}
			e.breaker.RecordFailure()
			slog.Warn("provider failed, trying next",
				"kind", g.cfg.Kind, "provider", e.name, "error", err)
			lastErr = err
			continue
		}
		e.breaker.RecordSuccess()
		return pick[R]{name: e.name, breaker: e.breaker, result: result}, nil
	}
	var zero pick[R]
	if lastErr == nil {
		lastErr = errors.New("no providers registered")
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
