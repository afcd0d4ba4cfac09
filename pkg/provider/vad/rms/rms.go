// Package rms implements an energy-based VAD engine.
//
// The engine classifies frames by their root-mean-square energy, normalised
// against a reference level so that the thresholds in [vad.Config] stay in the
// usual [0.0, 1.0] probability range. It is not a substitute for a trained
// model in noisy environments, but it runs everywhere, has zero startup cost,
// and its hysteresis behaviour (start frames, hangover) matches what the
// pipeline expects from any VAD backend.
package rms

import (
	"fmt"

	"github.com/pkarell/auric/pkg/audio"
	"github.com/pkarell/auric/pkg/provider/vad"
)

// referenceRMS is the PCM energy mapped to probability 1.0. Normal speech on
// a desktop microphone sits around 1000–4000.
const referenceRMS = 2000.0

// Engine creates energy-based VAD sessions.
type Engine struct{}

// NewEngine returns an energy VAD engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("invalid frame size %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("speech threshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("silence threshold %v must be in [0, %v]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	startFrames := cfg.StartFrames
	if startFrames < 1 {
		startFrames = 1
	}
	hangover := cfg.HangoverFrames
	if hangover < 1 {
		hangover = 1
	}
	return &session{
		cfg:         cfg,
		frameBytes:  cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		startFrames: startFrames,
		hangover:    hangover,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	cfg         vad.Config
	frameBytes  int
	startFrames int
	hangover    int

	inSpeech   bool
	speechRun  int
	silenceRun int
	closed     bool
}

// ProcessFrame implements [vad.SessionHandle]. Frames must be mono 16-bit PCM
// of exactly the configured frame size.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("frame size %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := audio.RMS(frame) / referenceRMS
	if p > 1 {
		p = 1
	}

	isSpeech := p >= s.cfg.SpeechThreshold
	isSilence := p <= s.cfg.SilenceThreshold

	if !s.inSpeech {
		if isSpeech {
			s.speechRun++
			if s.speechRun >= s.startFrames {
				s.inSpeech = true
				s.speechRun = 0
				s.silenceRun = 0
				return vad.VADEvent{Type: vad.VADSpeechStart, Probability: p}, nil
			}
		} else {
			s.speechRun = 0
		}
		return vad.VADEvent{Type: vad.VADSilence, Probability: p}, nil
	}

	// In speech: only a full hangover of silence frames ends the segment.
	// Indeterminate frames (between the two thresholds) keep the segment
	// alive but do not reset the hangover counter.
	if isSilence {
		s.silenceRun++
		if s.silenceRun >= s.hangover {
			s.inSpeech = false
			s.silenceRun = 0
			return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: p}, nil
		}
	} else if isSpeech {
		s.silenceRun = 0
	}
	return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: p}, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.inSpeech = false
	s.speechRun = 0
	s.silenceRun = 0
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)
