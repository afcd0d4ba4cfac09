package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/pkarell/auric/pkg/audio"
)

// PeriodFrames is the capture period size in frames. 480 frames keeps
// latency low: 30ms at 16kHz and 10ms at 48kHz. Exported so frame-size
// dependent consumers (VAD) can derive the frame duration.
const PeriodFrames = 480

// CaptureConfig configures a capture device.
type CaptureConfig struct {
	// SampleRate in Hz. Defaults to 16000.
	SampleRate int

	// Channels. Defaults to 1 (mono).
	Channels int

	// OnStopped, if set, is invoked when the device stops outside of an
	// explicit Stop or Close call (device unplugged, backend failure).
	OnStopped func()
}

// Capture is a malgo-backed microphone source. It implements [audio.Source].
// Frames receive a monotonic sequence number and a timestamp relative to the
// first Start.
type Capture struct {
	device *malgo.Device
	format audio.Format

	mu      sync.Mutex
	onFrame func(audio.AudioFrame)
	closing bool

	seq     uint64
	started time.Time
}

var _ audio.Source = (*Capture)(nil)

// NewCapture initializes a capture device on the given context. The device is
// created stopped; call Start to begin delivering frames.
func NewCapture(ctx *Context, cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}

	c := &Capture{
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * cfg.Channels

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.PerformanceProfile = malgo.LowLatency
	deviceConfig.PeriodSizeInFrames = PeriodFrames
	deviceConfig.Periods = 3

	device, err := malgo.InitDevice(ctx.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(pInput) < n {
				return
			}
			c.mu.Lock()
			onFrame := c.onFrame
			if onFrame == nil {
				c.mu.Unlock()
				return
			}
			seq := c.seq
			c.seq++
			ts := time.Since(c.started)
			c.mu.Unlock()

			// The backend reuses pInput between callbacks.
			data := make([]byte, n)
			copy(data, pInput[:n])
			onFrame(audio.AudioFrame{
				Data:       data,
				SampleRate: cfg.SampleRate,
				Channels:   cfg.Channels,
				Seq:        seq,
				Timestamp:  ts,
			})
		},
		Stop: func() {
			c.mu.Lock()
			closing := c.closing
			onStopped := cfg.OnStopped
			c.mu.Unlock()
			if !closing && onStopped != nil {
				onStopped()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	c.device = device
	return c, nil
}

// Start begins frame delivery to onFrame. Starting a running capture is a
// no-op; the original callback stays registered.
func (c *Capture) Start(onFrame func(audio.AudioFrame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	}
	if c.device.IsStarted() {
		return nil
	}
	if c.started.IsZero() {
		c.started = time.Now()
	}
	c.onFrame = onFrame
	if err := c.device.Start(); err != nil {
		c.onFrame = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// Stop pauses frame delivery.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	}
	if !c.device.IsStarted() {
		return nil
	}
	c.closing = true
	err := c.device.Stop()
	c.closing = false
	c.onFrame = nil
	if err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

// Close releases the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		c.closing = true
		c.device.Uninit()
		c.device = nil
	}
	c.onFrame = nil
	return nil
}

// Format implements [audio.Source].
func (c *Capture) Format() audio.Format {
	return c.format
}
