// Package segment assembles captured audio frames into speech segments.
//
// The [Assembler] owns a bounded ring buffer of frames. When the voice
// activity detector reports speech, the pipeline opens a segment and appends
// every subsequent frame until the detector reports the end of speech; the
// finalized [Segment] is then handed to transcription. The ring never grows
// past its capacity: when full, the oldest frame of the open segment is
// evicted so that memory stays bounded even if a speaker never stops talking.
//
// At most one segment can be open at a time. An Assembler is safe for
// concurrent use, though the pipeline drives it from a single goroutine.
package segment

import (
	"errors"
	"sync"
	"time"

	"github.com/pkarell/auric/pkg/audio"
)

// ErrSegmentOpen is returned by Open when a segment is already open.
var ErrSegmentOpen = errors.New("segment already open")

// ErrNoSegment is returned by Append, Finalize, and Discard when no segment
// is open.
var ErrNoSegment = errors.New("no open segment")

// DefaultCapacity bounds the ring at 1000 frames — 20 seconds of speech at
// 20ms per frame.
const DefaultCapacity = 1000

// Segment is a finalized run of speech frames.
type Segment struct {
	// Frames holds the segment's audio in capture order. When the ring
	// overflowed during capture, the oldest frames are missing.
	Frames []audio.AudioFrame

	// FirstSeq and LastSeq are the capture sequence numbers bounding the
	// retained frames.
	FirstSeq uint64
	LastSeq  uint64

	// Evicted is the number of frames dropped from this segment due to the
	// capacity bound.
	Evicted uint64
}

// PCM concatenates the segment's frame data into a single buffer.
func (s Segment) PCM() []byte {
	total := 0
	for _, f := range s.Frames {
		total += len(f.Data)
	}
	out := make([]byte, 0, total)
	for _, f := range s.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Duration sums the play time of the retained frames.
func (s Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return d
}

// Option configures an [Assembler].
type Option func(*Assembler)

// WithCapacity bounds the ring at n frames. Values below 1 fall back to
// [DefaultCapacity].
func WithCapacity(n int) Option {
	return func(a *Assembler) {
		if n >= 1 {
			a.capacity = n
		}
	}
}

// WithEvictionCallback registers fn, invoked once per evicted frame with the
// assembler's total eviction count. Use it to drive a diagnostic metric.
func WithEvictionCallback(fn func(total uint64)) Option {
	return func(a *Assembler) {
		a.onEvict = fn
	}
}

// Assembler accumulates frames into at most one open segment.
type Assembler struct {
	capacity int
	onEvict  func(total uint64)

	mu      sync.Mutex
	ring    []audio.AudioFrame
	head    int // index of oldest frame
	size    int
	open    bool
	evicted uint64 // evictions in the current segment
	total   uint64 // evictions across the assembler's lifetime
}

// NewAssembler creates an assembler with the given options.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(a)
	}
	a.ring = make([]audio.AudioFrame, a.capacity)
	return a
}

// Open starts a new segment. Returns [ErrSegmentOpen] if one is already open.
func (a *Assembler) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		return ErrSegmentOpen
	}
	a.open = true
	a.head = 0
	a.size = 0
	a.evicted = 0
	return nil
}

// Append adds a frame to the open segment, evicting the oldest frame when the
// ring is full. Returns [ErrNoSegment] if no segment is open.
func (a *Assembler) Append(frame audio.AudioFrame) error {
	a.mu.Lock()
	if !a.open {
		a.mu.Unlock()
		return ErrNoSegment
	}

	var evictCb func(uint64)
	var evictTotal uint64
	if a.size == a.capacity {
		a.ring[a.head] = frame
		a.head = (a.head + 1) % a.capacity
		a.evicted++
		a.total++
		evictCb = a.onEvict
		evictTotal = a.total
	} else {
		a.ring[(a.head+a.size)%a.capacity] = frame
		a.size++
	}
	a.mu.Unlock()

	if evictCb != nil {
		evictCb(evictTotal)
	}
	return nil
}

// Finalize closes the open segment and returns its frames in capture order.
// Returns [ErrNoSegment] if no segment is open.
func (a *Assembler) Finalize() (Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return Segment{}, ErrNoSegment
	}

	frames := make([]audio.AudioFrame, a.size)
	for i := range a.size {
		frames[i] = a.ring[(a.head+i)%a.capacity]
	}
	seg := Segment{Frames: frames, Evicted: a.evicted}
	if len(frames) > 0 {
		seg.FirstSeq = frames[0].Seq
		seg.LastSeq = frames[len(frames)-1].Seq
	}

	a.reset()
	return seg, nil
}

// Discard closes the open segment and drops its frames. Returns
// [ErrNoSegment] if no segment is open.
func (a *Assembler) Discard() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return ErrNoSegment
	}
	a.reset()
	return nil
}

// IsOpen reports whether a segment is currently open.
func (a *Assembler) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// Len returns the number of frames buffered in the open segment.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Evictions returns the total number of frames evicted across all segments.
func (a *Assembler) Evictions() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// reset clears the open segment. Must be called with a.mu held.
func (a *Assembler) reset() {
	for i := range a.size {
		a.ring[(a.head+i)%a.capacity] = audio.AudioFrame{}
	}
	a.open = false
	a.head = 0
	a.size = 0
	a.evicted = 0
}
