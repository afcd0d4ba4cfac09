// Package mock provides test doubles for the wakeword package interfaces.
//
// Use Engine to verify that detectors are created with the expected Config.
// Use Detector to script activations on specific frames.
//
// Example:
//
//	det := &mock.Detector{}
//	det.ActivateOnCall(3, wakeword.Activation{Phrase: "hey auric", Confidence: 0.9})
//	eng := &mock.Engine{Detector: det}
package mock

import (
	"sync"

	"github.com/pkarell/auric/pkg/provider/wakeword"
)

// NewDetectorCall records a single invocation of Engine.NewDetector.
type NewDetectorCall struct {
	// Cfg is the Config passed to NewDetector.
	Cfg wakeword.Config
}

// Engine is a mock implementation of wakeword.Engine.
type Engine struct {
	mu sync.Mutex

	// Detector is returned by NewDetector. If nil, NewDetector returns a new
	// default Detector.
	Detector wakeword.Detector

	// NewDetectorErr, if non-nil, is returned as the error from NewDetector.
	NewDetectorErr error

	// NewDetectorCalls records every call to NewDetector in order.
	NewDetectorCalls []NewDetectorCall
}

// NewDetector records the call and returns Detector, NewDetectorErr.
func (e *Engine) NewDetector(cfg wakeword.Config) (wakeword.Detector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewDetectorCalls = append(e.NewDetectorCalls, NewDetectorCall{Cfg: cfg})
	if e.NewDetectorErr != nil {
		return nil, e.NewDetectorErr
	}
	if e.Detector != nil {
		return e.Detector, nil
	}
	return &Detector{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewDetectorCalls = nil
}

// Ensure Engine implements wakeword.Engine at compile time.
var _ wakeword.Engine = (*Engine)(nil)

// Detector is a mock implementation of wakeword.Detector. By default no frame
// activates; script hits with ActivateOnCall or set ActivateNext for the
// next frame.
type Detector struct {
	mu sync.Mutex

	// ProcessFrameCallCount is the number of times ProcessFrame was called.
	ProcessFrameCallCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	activateNext *wakeword.Activation
	scheduled    map[int]wakeword.Activation
}

// ProcessFrame records the call and returns a scripted activation if one is
// due on this call.
func (d *Detector) ProcessFrame(frame []byte) (wakeword.Activation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ProcessFrameCallCount++
	if d.activateNext != nil {
		act := *d.activateNext
		d.activateNext = nil
		return act, true
	}
	if act, ok := d.scheduled[d.ProcessFrameCallCount]; ok {
		delete(d.scheduled, d.ProcessFrameCallCount)
		return act, true
	}
	return wakeword.Activation{}, false
}

// Reset records the call by incrementing ResetCallCount.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCallCount++
}

// ActivateNext makes the next ProcessFrame call report the given activation.
func (d *Detector) ActivateNext(act wakeword.Activation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activateNext = &act
}

// ActivateOnCall schedules an activation for the n-th ProcessFrame call
// (1-based, counted across the detector's lifetime).
func (d *Detector) ActivateOnCall(n int, act wakeword.Activation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scheduled == nil {
		d.scheduled = make(map[int]wakeword.Activation)
	}
	d.scheduled[n] = act
}

// Ensure Detector implements wakeword.Detector at compile time.
var _ wakeword.Detector = (*Detector)(nil)
