package health

import (
	"context"
	"fmt"
)

// StageHealth is the slice of a provider manager the readiness probe needs.
type StageHealth interface {
	// Usable reports whether at least one provider would currently be
	// admitted by its circuit breaker.
	Usable() bool
}

// StageChecker builds a [Checker] that fails when a pipeline stage has no
// usable provider left. name should be the stage kind ("stt", "llm", "tts").
func StageChecker(name string, stage StageHealth) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			if !stage.Usable() {
				return fmt.Errorf("no usable %s provider: all circuit breakers open", name)
			}
			return nil
		},
	}
}

// DeviceChecker builds a [Checker] that reports audio device availability.
// open should return nil while the capture device is delivering frames.
func DeviceChecker(open func() error) Checker {
	return Checker{
		Name: "audio_device",
		Check: func(_ context.Context) error {
			return open()
		},
	}
}
