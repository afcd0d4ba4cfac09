// Package coqui synthesises speech against a locally running Coqui TTS
// server.
//
// Two server flavours are supported, selected with [WithAPIMode]:
//
//   - [APIModeStandard] (default): the stock Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). One GET /api/tts per utterance; the voice
//     catalogue comes from GET /details.
//   - [APIModeXTTS]: the XTTS v2 API server. One POST /tts_to_audio/ per
//     utterance; the catalogue comes from GET /studio_speakers.
//
// Both servers are batch engines, so SynthesizeStream assembles incoming
// text fragments into utterances and issues one HTTP call per utterance. A
// few requests run concurrently to hide server latency while audio is still
// emitted in utterance order.
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pkarell/auric/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// inflightLimit caps concurrent synthesis requests per stream.
	inflightLimit = 4

	// emitChunkBytes is the slice size of PCM pushed to the audio channel.
	emitChunkBytes = 4096

	audioBuffer = 256
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"

	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code sent with every request ("en", "de",
// ...). Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP call to the server. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour. Default: [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples synthesised mono PCM to rate before
// emitting it, aligning the model's native rate with the playback device.
// Zero (the default) emits at the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider synthesises speech through a Coqui TTS server. Safe for
// concurrent use; streams are independent.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	outputRate int
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// xttsRequest is the JSON body of POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

type synthResult struct {
	pcm []byte
	err error
}

// SynthesizeStream assembles text fragments into utterances and synthesises
// each with one HTTP call, emitting the resulting PCM on the returned
// channel in utterance order. Up to inflightLimit requests overlap. The
// channel closes when all text is synthesised, on the first synthesis
// failure, or when ctx ends; callers distinguish the last case via
// ctx.Err().
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if p.apiMode == APIModeXTTS && voice.ID == "" {
		return nil, errors.New("coqui: XTTS mode requires a voice ID (speaker_wav)")
	}

	out := make(chan []byte, audioBuffer)
	pending := make(chan chan synthResult, inflightLimit)

	// Feeder: cut fragments into utterances, launch bounded concurrent
	// requests, and queue their result slots in order.
	go func() {
		defer close(pending)

		launch := func(utterance string) bool {
			utterance = strings.TrimSpace(utterance)
			if utterance == "" {
				return true
			}
			slot := make(chan synthResult, 1)
			select {
			case pending <- slot:
			case <-ctx.Done():
				return false
			}
			go func() {
				pcm, err := p.synthesize(ctx, utterance, voice)
				slot <- synthResult{pcm: pcm, err: err}
			}()
			return true
		}

		var carry string
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					launch(carry)
					return
				}
				var done []string
				done, carry = splitUtterances(carry + fragment)
				for _, u := range done {
					if !launch(u) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Emitter: drain result slots in order, slicing PCM into fixed chunks.
	go func() {
		defer close(out)
		for slot := range pending {
			var r synthResult
			select {
			case r = <-slot:
			case <-ctx.Done():
				return
			}
			if r.err != nil {
				// Keep draining slots so the feeder never blocks on a full
				// pending channel after the stream has already failed.
				go func() {
					for range pending {
					}
				}()
				return
			}
			for pcm := r.pcm; len(pcm) > 0; {
				n := min(emitChunkBytes, len(pcm))
				select {
				case out <- pcm[:n]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[n:]
			}
		}
	}()

	return out, nil
}

// synthesize performs one synthesis round trip and returns raw PCM.
func (p *Provider) synthesize(ctx context.Context, utterance string, voice tts.VoiceProfile) ([]byte, error) {
	req, err := p.buildRequest(ctx, utterance, voice)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: server returned status %d", resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read synthesis response: %w", err)
	}

	format, pcm, err := decodeWAV(wav)
	if err != nil {
		return nil, err
	}
	if p.outputRate > 0 && format.sampleRate != p.outputRate && format.channels == 1 {
		pcm = resampleMono16(pcm, format.sampleRate, p.outputRate)
	}
	return pcm, nil
}

func (p *Provider) buildRequest(ctx context.Context, utterance string, voice tts.VoiceProfile) (*http.Request, error) {
	if p.apiMode == APIModeXTTS {
		body, err := json.Marshal(xttsRequest{
			Text:       utterance,
			SpeakerWav: voice.ID,
			Language:   p.language,
		})
		if err != nil {
			return nil, fmt.Errorf("coqui: encode request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/tts_to_audio/", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("coqui: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/wav")
		return req, nil
	}

	q := url.Values{}
	q.Set("text", utterance)
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/api/tts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// ListVoices returns the server's voice catalogue. In standard mode this is
// one profile per speaker of the loaded model (or a single profile named
// after the model); in XTTS mode it is the studio speaker list.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		return p.listStudioSpeakers(ctx)
	}
	return p.listModelSpeakers(ctx)
}

func (p *Provider) listStudioSpeakers(ctx context.Context) ([]tts.VoiceProfile, error) {
	var speakers map[string]json.RawMessage
	if err := p.getJSON(ctx, "/studio_speakers", &speakers); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(speakers))
	for name := range speakers {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

func (p *Provider) listModelSpeakers(ctx context.Context) ([]tts.VoiceProfile, error) {
	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, "/details", &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)
		profiles := make([]tts.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{"type": "speaker", "model_name": details.ModelName},
			})
		}
		return profiles, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.VoiceProfile{{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{"type": "single-speaker", "model_name": name},
	}}, nil
}

func (p *Provider) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s response: %w", path, err)
	}
	return nil
}

// splitUtterances cuts s at sentence-ending punctuation that terminates the
// input or is followed by whitespace, so "3.14" and "Dr." glued to the next
// word stay intact. The unfinished tail is returned as rest.
func splitUtterances(s string) (complete []string, rest string) {
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				if u := strings.TrimSpace(s[start : i+1]); u != "" {
					complete = append(complete, u)
				}
				start = i + 1
			}
		}
	}
	return complete, s[start:]
}

// wavFormat is the audio format read from a WAV fmt chunk.
type wavFormat struct {
	sampleRate int
	channels   int
}

// decodeWAV walks the RIFF chunk list of wav and returns the audio format
// plus the raw samples of the data chunk. Scanning the chunks instead of
// assuming a 44-byte header keeps servers with extended fmt chunks working.
// A missing fmt chunk falls back to the server default of 22050 Hz mono.
func decodeWAV(wav []byte) (wavFormat, []byte, error) {
	if len(wav) < 12 || string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavFormat{}, nil, errors.New("coqui: response is not a RIFF/WAVE file")
	}

	format := wavFormat{sampleRate: 22050, channels: 1}
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		switch id {
		case "fmt ":
			if size >= 16 && off+8+16 <= len(wav) {
				format.channels = int(binary.LittleEndian.Uint16(wav[off+10 : off+12]))
				format.sampleRate = int(binary.LittleEndian.Uint32(wav[off+12 : off+16]))
			}
		case "data":
			end := off + 8 + size
			if end > len(wav) {
				end = len(wav)
			}
			return format, wav[off+8 : end], nil
		}
		off += 8 + size
		if size%2 != 0 {
			off++ // chunks are word-aligned
		}
	}
	return wavFormat{}, nil, errors.New("coqui: WAV data chunk not found")
}

// resampleMono16 linearly interpolates 16-bit little-endian mono PCM from
// srcRate to dstRate.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := len(pcm) / 2
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	out := make([]byte, dst*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)

		s0 := int16(binary.LittleEndian.Uint16(pcm[j*2:]))
		s1 := s0
		if j+1 < src {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(j+1)*2:]))
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
