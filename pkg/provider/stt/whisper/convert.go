package whisper

import "encoding/binary"

// monoSamples converts 16-bit little-endian PCM into the normalised mono
// float32 samples the whisper model expects. Multi-channel audio is
// down-mixed by averaging each frame; a trailing partial frame is dropped.
func monoSamples(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := (i*channels + ch) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		out[i] = float32(sum) / (32768.0 * float32(channels))
	}
	return out
}
