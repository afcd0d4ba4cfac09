package health

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubStage bool

func (s stubStage) Usable() bool { return bool(s) }

func TestStageChecker(t *testing.T) {
	c := StageChecker("stt", stubStage(true))
	if c.Name != "stt" {
		t.Errorf("Name = %q, want stt", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() with usable stage = %v, want nil", err)
	}

	c = StageChecker("tts", stubStage(false))
	err := c.Check(context.Background())
	if err == nil {
		t.Fatal("Check() with exhausted stage = nil, want error")
	}
	if !strings.Contains(err.Error(), "tts") {
		t.Errorf("error should name the stage, got: %v", err)
	}
}

func TestDeviceChecker(t *testing.T) {
	c := DeviceChecker(func() error { return nil })
	if c.Name != "audio_device" {
		t.Errorf("Name = %q, want audio_device", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() with open device = %v, want nil", err)
	}

	deviceErr := errors.New("device stopped")
	c = DeviceChecker(func() error { return deviceErr })
	if err := c.Check(context.Background()); !errors.Is(err, deviceErr) {
		t.Errorf("Check() = %v, want device error", err)
	}
}
