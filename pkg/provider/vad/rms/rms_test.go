package rms

import (
	"encoding/binary"
	"testing"

	"github.com/pkarell/auric/pkg/provider/vad"
)

const testSampleRate = 16000

func testConfig() vad.Config {
	return vad.Config{
		SampleRate:       testSampleRate,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		StartFrames:      2,
		HangoverFrames:   3,
	}
}

// frame returns 20ms of mono 16-bit PCM at constant amplitude.
func frame(amplitude int16) []byte {
	samples := testSampleRate * 20 / 1000
	buf := make([]byte, samples*2)
	for i := range samples {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

var (
	loudFrame  = frame(2000) // RMS 2000 → probability 1.0
	quietFrame = frame(100)  // RMS 100 → probability 0.05
)

func mustSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	eng := NewEngine()
	sess, err := eng.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func process(t *testing.T, sess vad.SessionHandle, f []byte) vad.VADEvent {
	t.Helper()
	ev, err := sess.ProcessFrame(f)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return ev
}

func TestNewSession_InvalidConfig(t *testing.T) {
	eng := NewEngine()
	tests := []struct {
		name   string
		modify func(*vad.Config)
	}{
		{"zero sample rate", func(c *vad.Config) { c.SampleRate = 0 }},
		{"zero frame size", func(c *vad.Config) { c.FrameSizeMs = 0 }},
		{"speech threshold above 1", func(c *vad.Config) { c.SpeechThreshold = 1.5 }},
		{"silence above speech", func(c *vad.Config) { c.SilenceThreshold = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			if _, err := eng.NewSession(cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestProcessFrame_WrongSize(t *testing.T) {
	sess := mustSession(t, testConfig())
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected error for wrong frame size")
	}
}

func TestSpeechStart_RequiresStartFrames(t *testing.T) {
	sess := mustSession(t, testConfig())

	// First loud frame: run of 1 < StartFrames 2 → still silence.
	if ev := process(t, sess, loudFrame); ev.Type != vad.VADSilence {
		t.Errorf("frame 1: got %v, want VADSilence", ev.Type)
	}
	// Second loud frame completes the run.
	if ev := process(t, sess, loudFrame); ev.Type != vad.VADSpeechStart {
		t.Errorf("frame 2: got %v, want VADSpeechStart", ev.Type)
	}
	// Subsequent loud frames continue.
	if ev := process(t, sess, loudFrame); ev.Type != vad.VADSpeechContinue {
		t.Errorf("frame 3: got %v, want VADSpeechContinue", ev.Type)
	}
}

func TestSpeechStart_NoiseBurstIgnored(t *testing.T) {
	sess := mustSession(t, testConfig())

	// A single loud frame surrounded by silence never starts speech.
	process(t, sess, loudFrame)
	if ev := process(t, sess, quietFrame); ev.Type != vad.VADSilence {
		t.Errorf("got %v, want VADSilence", ev.Type)
	}
	if ev := process(t, sess, loudFrame); ev.Type != vad.VADSilence {
		t.Errorf("run should restart after silence: got %v, want VADSilence", ev.Type)
	}
}

func TestSpeechEnd_Hangover(t *testing.T) {
	sess := mustSession(t, testConfig())
	process(t, sess, loudFrame)
	process(t, sess, loudFrame) // SpeechStart

	// Two silence frames: below HangoverFrames 3, segment stays open.
	if ev := process(t, sess, quietFrame); ev.Type != vad.VADSpeechContinue {
		t.Errorf("silence 1: got %v, want VADSpeechContinue", ev.Type)
	}
	if ev := process(t, sess, quietFrame); ev.Type != vad.VADSpeechContinue {
		t.Errorf("silence 2: got %v, want VADSpeechContinue", ev.Type)
	}
	// Speech resumes: hangover counter resets.
	if ev := process(t, sess, loudFrame); ev.Type != vad.VADSpeechContinue {
		t.Errorf("resume: got %v, want VADSpeechContinue", ev.Type)
	}
	// Full hangover of silence ends the segment.
	process(t, sess, quietFrame)
	process(t, sess, quietFrame)
	if ev := process(t, sess, quietFrame); ev.Type != vad.VADSpeechEnd {
		t.Errorf("silence 3: got %v, want VADSpeechEnd", ev.Type)
	}
	// Back to silence afterwards.
	if ev := process(t, sess, quietFrame); ev.Type != vad.VADSilence {
		t.Errorf("after end: got %v, want VADSilence", ev.Type)
	}
}

func TestReset_ClearsState(t *testing.T) {
	sess := mustSession(t, testConfig())
	process(t, sess, loudFrame)
	process(t, sess, loudFrame) // in speech now

	sess.Reset()

	// After reset the session is out of speech and needs a fresh run.
	if ev := process(t, sess, loudFrame); ev.Type != vad.VADSilence {
		t.Errorf("after reset: got %v, want VADSilence", ev.Type)
	}
}

func TestClose(t *testing.T) {
	sess := mustSession(t, testConfig())
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := sess.ProcessFrame(loudFrame); err == nil {
		t.Error("expected error after Close")
	}
}
