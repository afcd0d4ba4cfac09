// Package playback orders synthesized audio chunks into the output device.
//
// The [Queue] is a turn-tagged FIFO in front of an [audio.Sink]. Every chunk
// carries the identifier of the conversation turn that produced it plus a
// sequence number assigned by the synthesis stage. Chunks of the current turn
// are forwarded to the sink strictly in sequence order; chunks of any other
// turn are discarded, which is what makes barge-in safe: after a Flush the
// superseded turn's stragglers can keep arriving and none of them will play.
package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pkarell/auric/pkg/audio"
)

// Option configures a [Queue].
type Option func(*Queue)

// WithFinishedCallback registers fn, invoked once per turn after the sink has
// played every chunk of a finished turn. The callback runs on the sink's
// completion goroutine.
func WithFinishedCallback(fn func(turnID uuid.UUID)) Option {
	return func(q *Queue) {
		q.onFinished = fn
	}
}

// Queue forwards the current turn's audio chunks to the sink in order.
type Queue struct {
	sink       audio.Sink
	onFinished func(turnID uuid.UUID)

	mu        sync.Mutex
	current   uuid.UUID
	active    bool
	nextSeq   int
	pending   map[int][]byte // out-of-order chunks awaiting their sequence slot
	discarded uint64
}

// NewQueue creates a queue in front of sink.
func NewQueue(sink audio.Sink, opts ...Option) *Queue {
	q := &Queue{
		sink:    sink,
		pending: make(map[int][]byte),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// BeginTurn makes turnID the current turn. Any buffered chunks of the
// previous turn are dropped; audio already handed to the sink keeps playing
// unless Flush is called.
func (q *Queue) BeginTurn(turnID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = turnID
	q.active = true
	q.nextSeq = 0
	q.pending = make(map[int][]byte)
}

// Enqueue submits a chunk. Chunks whose turn is not current are discarded
// silently (counted in Discarded). In-order chunks go straight to the sink;
// early chunks wait until their predecessors arrive.
//
// The sink write happens under the queue lock so that a concurrent Flush
// cannot slip between the currency check and the write: once Flush returns,
// no chunk of the flushed turn can reach the sink. Sink implementations
// buffer without blocking, so the lock is never held across real audio I/O.
func (q *Queue) Enqueue(turnID uuid.UUID, seq int, pcm []byte) error {
	q.mu.Lock()
	if !q.active || turnID != q.current {
		q.discarded++
		n := q.discarded
		q.mu.Unlock()
		slog.Debug("discarded stale audio chunk",
			"turn_id", turnID,
			"seq", seq,
			"total_discarded", n)
		return nil
	}

	if seq != q.nextSeq {
		q.pending[seq] = pcm
		q.mu.Unlock()
		return nil
	}
	defer q.mu.Unlock()

	// Forward this chunk and any directly following pending ones.
	if err := q.sink.Enqueue(pcm); err != nil {
		return fmt.Errorf("failed to enqueue audio chunk: %w", err)
	}
	q.nextSeq++
	for {
		next, ok := q.pending[q.nextSeq]
		if !ok {
			break
		}
		delete(q.pending, q.nextSeq)
		if err := q.sink.Enqueue(next); err != nil {
			return fmt.Errorf("failed to enqueue audio chunk: %w", err)
		}
		q.nextSeq++
	}
	return nil
}

// FinishTurn declares that no further chunks will arrive for turnID. Once the
// sink has played everything enqueued so far, the finished callback fires —
// unless the turn was superseded or flushed in the meantime.
func (q *Queue) FinishTurn(turnID uuid.UUID) error {
	q.mu.Lock()
	if !q.active || turnID != q.current {
		q.mu.Unlock()
		return nil
	}
	if n := len(q.pending); n > 0 {
		slog.Warn("finishing turn with gaps in chunk sequence",
			"turn_id", turnID,
			"missing_before", q.nextSeq,
			"stranded", n)
		q.pending = make(map[int][]byte)
	}
	q.mu.Unlock()

	return q.sink.Mark(turnID.String(), func(string) {
		q.mu.Lock()
		stillCurrent := q.active && q.current == turnID
		if stillCurrent {
			q.active = false
		}
		onFinished := q.onFinished
		q.mu.Unlock()
		if stillCurrent && onFinished != nil {
			onFinished(turnID)
		}
	})
}

// Flush discards everything: buffered chunks, sink audio, and the pending
// completion mark. The current turn is deactivated so that in-flight chunks
// arriving later are discarded.
func (q *Queue) Flush() {
	q.mu.Lock()
	q.active = false
	q.pending = make(map[int][]byte)
	q.mu.Unlock()
	q.sink.Flush()
}

// Discarded returns the number of chunks dropped because their turn was no
// longer current.
func (q *Queue) Discarded() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.discarded
}
