package audio

// Source is a stream of captured audio frames. Implementations deliver frames
// from a microphone (or a test script) to a single registered callback.
// The callback runs on the capture thread and must not block.
type Source interface {
	// Start begins delivering frames to onFrame. Calling Start on a running
	// source is a no-op.
	Start(onFrame func(AudioFrame)) error

	// Stop pauses frame delivery. The source can be started again.
	Stop() error

	// Close releases the underlying device. The source cannot be reused.
	Close() error

	// Format reports the sample rate and channel count of delivered frames.
	Format() Format
}

// Sink is a playback destination for PCM audio. Implementations buffer
// enqueued audio and play it in order.
type Sink interface {
	// Enqueue appends PCM bytes to the playback buffer.
	Enqueue(pcm []byte) error

	// Mark registers a callback invoked once playback has consumed everything
	// enqueued before the call. Marks registered after a Flush are measured
	// against the emptied buffer.
	Mark(name string, fn func(name string)) error

	// Flush discards all buffered audio and drops pending marks without
	// invoking them.
	Flush()

	// Close releases the underlying device.
	Close() error

	// Format reports the sample rate and channel count the sink expects.
	Format() Format
}
