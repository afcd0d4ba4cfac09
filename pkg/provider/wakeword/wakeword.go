// Package wakeword defines the Detector interface for wake-word backends.
//
// A wake-word detector scans the always-on capture stream for the configured
// activation phrase and reports confidence-scored activations. Detection runs
// on every frame while the pipeline is listening, so implementations must be
// cheap per frame and must not block.
//
// The interface treats the detector as a black box: a backend may be a trained
// acoustic model, an embedded keyword spotter, or the energy heuristic shipped
// in the energy subpackage. Each Detector maintains per-stream state; create
// one per audio stream and do not share it across goroutines.
package wakeword

import "time"

// Config holds the parameters for a detector instance.
type Config struct {
	// SampleRate is the audio sample rate in Hz of frames passed to
	// ProcessFrame. Common value: 16000.
	SampleRate int

	// Phrase is the activation phrase the detector listens for (e.g.,
	// "hey auric"). Backends that spot a fixed keyword may ignore it.
	Phrase string

	// Threshold is the minimum confidence score for an activation to be
	// reported. Range: [0.0, 1.0]. Typical: 0.5.
	Threshold float64
}

// Activation is a reported wake-word hit.
type Activation struct {
	// Phrase is the phrase the detector matched.
	Phrase string

	// Confidence is the detector's score for the hit (0.0–1.0).
	Confidence float64

	// Timestamp marks when the activation occurred, relative to stream start.
	Timestamp time.Duration
}

// Detector scans audio frames for the activation phrase.
type Detector interface {
	// ProcessFrame analyses a single frame of raw little-endian PCM and
	// reports whether it completed an activation. The boolean is true only on
	// the frame where the detection fires; subsequent frames start a fresh
	// detection window.
	//
	// Called synchronously in the audio pipeline loop; must not block.
	ProcessFrame(frame []byte) (Activation, bool)

	// Reset clears accumulated detection state. Use when the stream restarts
	// or after the pipeline consumed an activation.
	Reset()
}

// Engine is the factory for detectors. Implementations must be safe for
// concurrent use.
type Engine interface {
	// NewDetector creates a detector with the given configuration. Returns an
	// error if the configuration is invalid or model resources cannot be
	// loaded.
	NewDetector(cfg Config) (Detector, error)
}
