// Package mock provides in-memory implementations of the [audio.Source] and
// [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{SourceFormat: audio.Format{SampleRate: 16000, Channels: 1}}
//	_ = src.Start(pipeline.HandleFrame)
//	src.Emit(frame) // drive the pipeline from the test
package mock

import (
	"sync"

	"github.com/pkarell/auric/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Frames are delivered by
// calling [Source.Emit] from the test.
type Source struct {
	mu sync.Mutex

	// SourceFormat is returned by Format.
	SourceFormat audio.Format

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	onFrame func(audio.AudioFrame)
	running bool
	seq     uint64
}

// Start implements [audio.Source]. Registers onFrame for later Emit calls.
func (s *Source) Start(onFrame func(audio.AudioFrame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.onFrame = onFrame
	s.running = true
	return nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.StopError != nil {
		return s.StopError
	}
	s.running = false
	return nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.running = false
	s.onFrame = nil
	return nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	return s.SourceFormat
}

// Emit delivers a frame to the callback registered via Start. If the frame's
// Seq is zero, a monotonic sequence number is assigned. Emit on a stopped
// source is a no-op.
func (s *Source) Emit(frame audio.AudioFrame) {
	s.mu.Lock()
	if !s.running || s.onFrame == nil {
		s.mu.Unlock()
		return
	}
	if frame.Seq == 0 {
		frame.Seq = s.seq
	}
	s.seq++
	onFrame := s.onFrame
	s.mu.Unlock()
	onFrame(frame)
}

// EmitPCM is a convenience wrapper around Emit for raw PCM bytes using the
// source's configured format.
func (s *Source) EmitPCM(pcm []byte) {
	s.Emit(audio.AudioFrame{
		Data:       pcm,
		SampleRate: s.SourceFormat.SampleRate,
		Channels:   s.SourceFormat.Channels,
	})
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// MarkCall records the arguments of a single [Sink.Mark] invocation.
type MarkCall struct {
	// Name is the mark name passed to Mark.
	Name string
}

// Sink is a mock implementation of [audio.Sink]. Enqueued audio is recorded;
// mark callbacks fire when the test calls [Sink.CompleteMarks], or immediately
// when AutoComplete is set.
type Sink struct {
	mu sync.Mutex

	// SinkFormat is returned by Format.
	SinkFormat audio.Format

	// EnqueueError is returned by Enqueue.
	EnqueueError error

	// AutoComplete makes Mark invoke its callback immediately, simulating a
	// sink that drains instantly.
	AutoComplete bool

	// Enqueued records all PCM buffers passed to Enqueue, in order.
	Enqueued [][]byte

	// MarkCalls records all Mark invocations.
	MarkCalls []MarkCall

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pending []func()
}

// Enqueue implements [audio.Sink]. Records the PCM buffer.
func (s *Sink) Enqueue(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EnqueueError != nil {
		return s.EnqueueError
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.Enqueued = append(s.Enqueued, buf)
	return nil
}

// Mark implements [audio.Sink]. The callback is held until CompleteMarks,
// or fired immediately when AutoComplete is set.
func (s *Sink) Mark(name string, fn func(name string)) error {
	s.mu.Lock()
	s.MarkCalls = append(s.MarkCalls, MarkCall{Name: name})
	auto := s.AutoComplete
	if !auto {
		s.pending = append(s.pending, func() { fn(name) })
	}
	s.mu.Unlock()
	if auto {
		fn(name)
	}
	return nil
}

// Flush implements [audio.Sink]. Clears recorded audio and drops pending
// marks without invoking them.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFlush++
	s.Enqueued = nil
	s.pending = nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	return s.SinkFormat
}

// CompleteMarks fires all pending mark callbacks in registration order.
// Use this in tests to simulate the device finishing playback.
func (s *Sink) CompleteMarks() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// EnqueuedBytes returns the total number of PCM bytes currently recorded.
func (s *Sink) EnqueuedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, buf := range s.Enqueued {
		total += len(buf)
	}
	return total
}
