package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/pkarell/auric/pkg/audio"
)

// PlaybackConfig configures a playback device.
type PlaybackConfig struct {
	// SampleRate in Hz. Defaults to 48000.
	SampleRate int

	// Channels. Defaults to 1 (mono).
	Channels int
}

// Player is a malgo-backed speaker sink. It implements [audio.Sink].
//
// Enqueued PCM accumulates in an internal buffer drained by the playback
// callback. Marks are positions in that buffer; when the callback consumes
// past a mark its callback fires on a separate goroutine.
type Player struct {
	device *malgo.Device
	format audio.Format

	mu sync.Mutex

	bufMu  sync.Mutex
	buffer []byte
	marks  []playbackMark
}

type playbackMark struct {
	name     string
	position int
	callback func(string)
}

var _ audio.Sink = (*Player)(nil)

// NewPlayer initializes a playback device on the given context and starts it.
// An idle playback device emits silence.
func NewPlayer(ctx *Context, cfg PlaybackConfig) (*Player, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}

	p := &Player{
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * cfg.Channels

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.PeriodSizeInFrames = uint32(cfg.SampleRate / 10) // ~100ms of audio
	deviceConfig.Periods = 4

	device, err := malgo.InitDevice(ctx.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			p.fill(pOutput, int(frameCount)*bytesPerFrame)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	p.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	return p, nil
}

// Enqueue appends PCM bytes to the playback buffer.
func (p *Player) Enqueue(pcm []byte) error {
	p.mu.Lock()
	device := p.device
	p.mu.Unlock()
	if device == nil {
		return fmt.Errorf("playback device not initialized")
	}
	if !device.IsStarted() {
		return fmt.Errorf("playback device not started")
	}

	p.bufMu.Lock()
	p.buffer = append(p.buffer, pcm...)
	p.bufMu.Unlock()
	return nil
}

// Mark registers a callback fired once playback has consumed everything
// currently buffered. If the buffer is already empty the callback fires on
// the next playback period.
func (p *Player) Mark(name string, fn func(name string)) error {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	p.marks = append(p.marks, playbackMark{
		name:     name,
		position: len(p.buffer),
		callback: fn,
	})
	return nil
}

// Flush discards buffered audio and pending marks. Mark callbacks are not
// invoked for flushed audio.
func (p *Player) Flush() {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	p.buffer = nil
	p.marks = nil
}

// Close stops and releases the device.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	p.Flush()
	return nil
}

// Format implements [audio.Sink].
func (p *Player) Format() audio.Format {
	return p.format
}

// fill copies up to need bytes of buffered audio into out. Runs on the
// playback thread; out is pre-zeroed so a short copy plays silence.
func (p *Player) fill(out []byte, need int) {
	p.bufMu.Lock()
	n := copy(out, p.buffer)
	if n == len(p.buffer) {
		p.buffer = nil
	} else {
		p.buffer = p.buffer[n:]
	}
	fired := p.advanceMarks(need)
	p.bufMu.Unlock()

	if len(fired) > 0 {
		go func() {
			for _, mark := range fired {
				mark.callback(mark.name)
			}
		}()
	}
}

// advanceMarks shifts mark positions by consumed bytes and returns the marks
// that were passed. Caller holds bufMu.
func (p *Player) advanceMarks(consumed int) []playbackMark {
	passed := 0
	for i := range p.marks {
		if p.marks[i].position > consumed {
			p.marks[i].position -= consumed
		} else {
			p.marks[i].position = 0
			passed = i + 1
		}
	}
	if passed == 0 {
		return nil
	}
	fired := make([]playbackMark, passed)
	copy(fired, p.marks[:passed])
	p.marks = p.marks[passed:]
	return fired
}
