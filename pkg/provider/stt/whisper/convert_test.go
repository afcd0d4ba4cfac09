package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(values ...int16) []byte {
	buf := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestMonoSamples_NormalisesFullRange(t *testing.T) {
	got := monoSamples(pcm16(0, 32767, -32768, 16384), 1)
	want := []float32{0, 32767.0 / 32768.0, -1.0, 0.5}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestMonoSamples_Empty(t *testing.T) {
	if got := monoSamples(nil, 1); len(got) != 0 {
		t.Errorf("got %d samples from empty input, want 0", len(got))
	}
}

func TestMonoSamples_DropsPartialFrame(t *testing.T) {
	// 3 bytes mono: one complete sample plus a dangling byte.
	if got := monoSamples([]byte{0x00, 0x40, 0xff}, 1); len(got) != 1 {
		t.Errorf("got %d samples from 3 bytes, want 1", len(got))
	}
	// 6 bytes stereo: one complete frame plus half a frame.
	if got := monoSamples(pcm16(100, 200, 300), 2); len(got) != 1 {
		t.Errorf("got %d frames from 3 stereo samples, want 1", len(got))
	}
}

func TestMonoSamples_StereoDownmix(t *testing.T) {
	got := monoSamples(pcm16(1000, 3000, -2000, -4000), 2)
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if want := float32(2000) / 32768.0; !almostEqual(got[0], want) {
		t.Errorf("frame 0 = %f, want %f", got[0], want)
	}
	if want := float32(-3000) / 32768.0; !almostEqual(got[1], want) {
		t.Errorf("frame 1 = %f, want %f", got[1], want)
	}
}

func TestMonoSamples_ThreeChannelAverage(t *testing.T) {
	got := monoSamples(pcm16(3000, 6000, 9000), 3)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if want := float32(6000) / 32768.0; !almostEqual(got[0], want) {
		t.Errorf("frame 0 = %f, want %f", got[0], want)
	}
}

func TestMonoSamples_ZeroChannelsTreatedAsMono(t *testing.T) {
	got := monoSamples(pcm16(1000, -1000), 0)
	if len(got) != 2 {
		t.Fatalf("got %d samples, want 2", len(got))
	}
	if !almostEqual(got[0], float32(1000)/32768.0) {
		t.Errorf("sample 0 = %f", got[0])
	}
}
