// Package energy implements a wake-word detector based on an energy-burst
// heuristic: a short, sustained rise in frame energy following a quiet period
// is treated as the activation phrase being spoken.
//
// This is deliberately model-free. It fires on any sufficiently loud
// utterance, so the pipeline pairs it with phonetic verification of the first
// transcript to reject false activations. Deployments with a trained keyword
// spotter can drop in their own [wakeword.Engine] instead.
package energy

import (
	"fmt"
	"time"

	"github.com/pkarell/auric/pkg/audio"
	"github.com/pkarell/auric/pkg/provider/wakeword"
)

const (
	// referenceRMS is the PCM energy mapped to confidence 1.0.
	referenceRMS = 2000.0

	// burstFrames is how many consecutive energetic frames complete a burst.
	// At 20ms frames this is 160ms of sustained audio.
	burstFrames = 8

	// quietFrames is the minimum run of quiet frames required before a burst
	// can begin. Prevents re-triggering on continuous background noise.
	quietFrames = 10

	// cooldownFrames suppresses detection after a fired activation.
	cooldownFrames = 25

	// burstRMS is the minimum per-frame energy for a frame to count toward a
	// burst.
	burstRMS = 700.0
)

// Engine creates energy-burst detectors.
type Engine struct{}

// NewEngine returns an energy wake-word engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewDetector implements [wakeword.Engine].
func (e *Engine) NewDetector(cfg wakeword.Config) (wakeword.Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v out of range [0,1]", cfg.Threshold)
	}
	return &detector{cfg: cfg, quiet: quietFrames}, nil
}

var _ wakeword.Engine = (*Engine)(nil)

type detector struct {
	cfg wakeword.Config

	samples  int64 // total samples seen, for activation timestamps
	quiet    int   // consecutive quiet frames
	run      int   // consecutive energetic frames in the current burst
	sumRMS   float64
	cooldown int
}

// ProcessFrame implements [wakeword.Detector].
func (d *detector) ProcessFrame(frame []byte) (wakeword.Activation, bool) {
	d.samples += int64(len(frame) / 2)

	if d.cooldown > 0 {
		d.cooldown--
		return wakeword.Activation{}, false
	}

	rms := audio.RMS(frame)
	if rms < burstRMS {
		d.quiet++
		d.run = 0
		d.sumRMS = 0
		return wakeword.Activation{}, false
	}

	// Energetic frame: only counts toward a burst if preceded by quiet.
	if d.run == 0 && d.quiet < quietFrames {
		d.quiet = 0
		return wakeword.Activation{}, false
	}
	d.quiet = 0
	d.run++
	d.sumRMS += rms
	if d.run < burstFrames {
		return wakeword.Activation{}, false
	}

	confidence := d.sumRMS / float64(d.run) / referenceRMS
	if confidence > 1 {
		confidence = 1
	}
	d.run = 0
	d.sumRMS = 0
	d.cooldown = cooldownFrames

	if confidence < d.cfg.Threshold {
		return wakeword.Activation{}, false
	}
	return wakeword.Activation{
		Phrase:     d.cfg.Phrase,
		Confidence: confidence,
		Timestamp:  time.Duration(d.samples) * time.Second / time.Duration(d.cfg.SampleRate),
	}, true
}

// Reset implements [wakeword.Detector].
func (d *detector) Reset() {
	d.quiet = quietFrames
	d.run = 0
	d.sumRMS = 0
	d.cooldown = 0
}

var _ wakeword.Detector = (*detector)(nil)
