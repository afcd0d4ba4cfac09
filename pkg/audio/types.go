package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the input device,
// scanned by the wake-word detector and VAD, buffered into speech segments, and
// played through the output device.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT-optimised capture, 48000 for playback).
	SampleRate int

	// Channels: 1 for mono (capture), 2 for stereo.
	Channels int

	// Seq is a monotonically increasing sequence number assigned at capture time.
	// Gaps indicate dropped frames.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM data. Returns 0 for
// invalid formats.
func (f AudioFrame) Duration() time.Duration {
	bytesPerSec := f.SampleRate * f.Channels * 2
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSec)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the number of PCM bytes in one frame of the given
// duration at this format. 16-bit samples are assumed.
func (f Format) FrameBytes(d time.Duration) int {
	return int(int64(f.SampleRate*f.Channels*2) * int64(d) / int64(time.Second))
}
