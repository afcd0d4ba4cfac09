package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkarell/auric/pkg/audio"
)

// Default reopen parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reopener watches an audio source and automatically reopens it after device
// loss (unplugged microphone, backend failure).
//
// Callers obtain the initial source via [Reopener.Open], then call
// [Reopener.Monitor] to start a background goroutine that waits for loss
// notifications. When a loss is signalled (via [Reopener.NotifyLost]), the
// monitor attempts to reopen the device with exponential backoff and invokes
// the configured OnReopen callback on success. While the device is down the
// pipeline stays paused; OnReopen is where capture is restarted.
//
// All methods are safe for concurrent use.
type Reopener struct {
	open       func(context.Context) (audio.Source, error)
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	onReopen   func(audio.Source)

	mu       sync.Mutex
	source   audio.Source
	done     chan struct{}
	stopOnce sync.Once
	lost     chan struct{} // signalled when device loss is detected
}

// ReopenerConfig configures a [Reopener].
type ReopenerConfig struct {
	// Open creates a new source. Called for the initial open and for every
	// reopen attempt. Required.
	Open func(context.Context) (audio.Source, error)

	// MaxRetries is the maximum number of reopen attempts per loss before
	// giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial delay between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the backoff delay. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReopen is called after a successful reopen with the new source.
	// May be nil.
	OnReopen func(audio.Source)
}

// NewReopener creates a new [Reopener] with the given configuration.
func NewReopener(cfg ReopenerConfig) *Reopener {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reopener{
		open:       cfg.Open,
		maxRetries: maxRetries,
		backoff:    backoff,
		maxBackoff: maxBackoff,
		onReopen:   cfg.OnReopen,
		done:       make(chan struct{}),
		lost:       make(chan struct{}, 1),
	}
}

// Open performs the initial device open.
func (r *Reopener) Open(ctx context.Context) (audio.Source, error) {
	src, err := r.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("reopener initial open: %w", err)
	}

	r.mu.Lock()
	r.source = src
	r.mu.Unlock()

	return src, nil
}

// Monitor starts watching for device loss in a background goroutine.
// If a loss is signalled via [Reopener.NotifyLost], it attempts to reopen
// the device with exponential backoff.
func (r *Reopener) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyLost signals the monitor that the device has been lost and a reopen
// should be attempted. Safe to call multiple times; only the first call per
// reopen cycle has effect. Intended as the CaptureConfig.OnStopped hook.
func (r *Reopener) NotifyLost() {
	select {
	case r.lost <- struct{}{}:
	default:
		// Already signalled; avoid blocking the device callback.
	}
}

// Stop halts monitoring and closes the current source.
// Safe to call multiple times.
func (r *Reopener) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	src := r.source
	r.source = nil
	r.mu.Unlock()

	if src != nil {
		return src.Close()
	}
	return nil
}

// Source returns the current active source. May return nil while a reopen
// is in progress.
func (r *Reopener) Source() audio.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

// monitorLoop waits for loss notifications and attempts reopens.
func (r *Reopener) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.lost:
			r.attemptReopen(ctx)
		}
	}
}

// attemptReopen tries to reopen the device with exponential backoff.
func (r *Reopener) attemptReopen(ctx context.Context) {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		slog.Info("attempting device reopen",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		src, err := r.open(ctx)
		if err == nil {
			r.mu.Lock()
			oldSrc := r.source
			r.source = src
			r.mu.Unlock()

			// Release whatever is left of the failed device.
			if oldSrc != nil {
				_ = oldSrc.Close()
			}

			slog.Info("device reopened", "attempt", attempt)

			if r.onReopen != nil {
				r.onReopen(src)
			}
			return
		}

		slog.Warn("device reopen attempt failed",
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("device reopen failed after max retries",
		"max_retries", r.maxRetries,
	)
}
