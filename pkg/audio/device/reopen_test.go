package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkarell/auric/pkg/audio"
	audiomock "github.com/pkarell/auric/pkg/audio/mock"
)

func TestReopener_Open(t *testing.T) {
	t.Run("successful initial open", func(t *testing.T) {
		src := &audiomock.Source{}
		var opens atomic.Int32
		r := NewReopener(ReopenerConfig{
			Open: func(context.Context) (audio.Source, error) {
				opens.Add(1)
				return src, nil
			},
		})

		got, err := r.Open(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != audio.Source(src) {
			t.Error("expected returned source to match mock")
		}
		if r.Source() != audio.Source(src) {
			t.Error("expected stored source to match mock")
		}
		if opens.Load() != 1 {
			t.Errorf("expected 1 open call, got %d", opens.Load())
		}
	})

	t.Run("open failure", func(t *testing.T) {
		r := NewReopener(ReopenerConfig{
			Open: func(context.Context) (audio.Source, error) {
				return nil, errors.New("no capture device")
			},
		})

		_, err := r.Open(context.Background())
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if r.Source() != nil {
			t.Error("expected no stored source after failed open")
		}
	})
}

func TestReopener_ReopensAfterLoss(t *testing.T) {
	first := &audiomock.Source{}
	second := &audiomock.Source{}
	sources := []audio.Source{first, second}
	var opens atomic.Int32

	reopened := make(chan audio.Source, 1)
	r := NewReopener(ReopenerConfig{
		Open: func(context.Context) (audio.Source, error) {
			n := opens.Add(1)
			return sources[n-1], nil
		},
		Backoff: time.Millisecond,
		OnReopen: func(src audio.Source) {
			reopened <- src
		},
	})
	defer r.Stop()

	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("initial open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Monitor(ctx)

	r.NotifyLost()

	select {
	case src := <-reopened:
		if src != audio.Source(second) {
			t.Error("expected the second source from OnReopen")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reopen")
	}

	if r.Source() != audio.Source(second) {
		t.Error("expected stored source to be the reopened one")
	}
	if first.CallCountClose == 0 {
		t.Error("expected the lost source to be closed")
	}
}

func TestReopener_BacksOffOnFailure(t *testing.T) {
	var opens atomic.Int32
	src := &audiomock.Source{}

	reopened := make(chan struct{}, 1)
	r := NewReopener(ReopenerConfig{
		Open: func(context.Context) (audio.Source, error) {
			// Fail twice, then succeed.
			if opens.Add(1) <= 2 {
				return nil, errors.New("device busy")
			}
			return src, nil
		},
		Backoff:    time.Millisecond,
		MaxBackoff: 4 * time.Millisecond,
		OnReopen:   func(audio.Source) { reopened <- struct{}{} },
	})
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Monitor(ctx)

	r.NotifyLost()

	select {
	case <-reopened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reopen after retries")
	}

	if got := opens.Load(); got != 3 {
		t.Errorf("expected 3 open attempts, got %d", got)
	}
}

func TestReopener_GivesUpAfterMaxRetries(t *testing.T) {
	var opens atomic.Int32
	r := NewReopener(ReopenerConfig{
		Open: func(context.Context) (audio.Source, error) {
			opens.Add(1)
			return nil, errors.New("device gone")
		},
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		OnReopen:   func(audio.Source) { t.Error("OnReopen should not fire") },
	})
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Monitor(ctx)

	r.NotifyLost()

	deadline := time.Now().Add(2 * time.Second)
	for opens.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Allow a moment to catch any extra attempts beyond the limit.
	time.Sleep(20 * time.Millisecond)
	if got := opens.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
	if r.Source() != nil {
		t.Error("expected no source after giving up")
	}
}

func TestReopener_NotifyLostCoalesces(t *testing.T) {
	r := NewReopener(ReopenerConfig{
		Open: func(context.Context) (audio.Source, error) {
			return &audiomock.Source{}, nil
		},
	})
	defer r.Stop()

	// Without a running monitor, repeated notifications must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			r.NotifyLost()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyLost blocked")
	}
}

func TestReopener_StopClosesSource(t *testing.T) {
	src := &audiomock.Source{}
	r := NewReopener(ReopenerConfig{
		Open: func(context.Context) (audio.Source, error) { return src, nil },
	})

	if _, err := r.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if src.CallCountClose != 1 {
		t.Errorf("expected 1 close call, got %d", src.CallCountClose)
	}

	// Stop is idempotent.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Stop()
		}()
	}
	wg.Wait()
}
