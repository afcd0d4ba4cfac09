package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pkarell/auric/pkg/provider/llm"
	"github.com/pkarell/auric/pkg/provider/stt"
	"github.com/pkarell/auric/pkg/provider/tts"
	"github.com/pkarell/auric/pkg/provider/vad"
	"github.com/pkarell/auric/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. New back-ends are added by registering a factory, not by
// modifying the pipeline. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	stt  map[string]func(ProviderEntry) (stt.Provider, error)
	llm  map[string]func(ProviderEntry) (llm.Provider, error)
	tts  map[string]func(ProviderEntry) (tts.Provider, error)
	vad  map[string]func(VADConfig) (vad.Engine, error)
	wake map[string]func(WakewordConfig) (wakeword.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:  make(map[string]func(ProviderEntry) (stt.Provider, error)),
		llm:  make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts:  make(map[string]func(ProviderEntry) (tts.Provider, error)),
		vad:  make(map[string]func(VADConfig) (vad.Engine, error)),
		wake: make(map[string]func(WakewordConfig) (wakeword.Engine, error)),
	}
}

// RegisterSTT registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers a generation provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterWake registers a wake-word engine factory under name.
func (r *Registry) RegisterWake(name string, factory func(WakewordConfig) (wakeword.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake[name] = factory
}

// CreateSTT instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates a generation provider using the factory registered
// under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesis provider using the factory registered
// under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under
// cfg.Engine.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// CreateWake instantiates a wake-word engine using the factory registered
// under cfg.Engine.
func (r *Registry) CreateWake(cfg WakewordConfig) (wakeword.Engine, error) {
	r.mu.RLock()
	factory, ok := r.wake[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wakeword/%q", ErrProviderNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}
