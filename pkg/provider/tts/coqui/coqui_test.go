package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pkarell/auric/pkg/provider/tts"
)

// wavFile builds a minimal PCM WAV file around the given samples.
func wavFile(sampleRate, channels int, pcm []byte) []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(channels))
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&b, binary.LittleEndian, uint16(channels*2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

func collectAudio(t *testing.T, audio <-chan []byte) []byte {
	t.Helper()
	var out []byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-audio:
			if !ok {
				return out
			}
			out = append(out, chunk...)
		case <-timeout:
			t.Fatal("timed out draining audio channel")
		}
	}
}

func feed(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

// ---- streaming synthesis ----

func TestSynthesizeStream_StandardModeOrdered(t *testing.T) {
	// Requests overlap, so the payload is keyed off the utterance text. The
	// emitted audio must still follow utterance order.
	ordinals := map[string]byte{"Hello there.": 1, "How are you?": 2, "Good.": 3}
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		text := r.URL.Query().Get("text")
		n, ok := ordinals[text]
		if !ok {
			t.Errorf("unexpected utterance %q", text)
		}
		mu.Lock()
		seen = append(seen, text)
		mu.Unlock()
		w.Write(wavFile(22050, 1, bytes.Repeat([]byte{n, 0}, 4)))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audio, err := p.SynthesizeStream(context.Background(), feed("Hello there. How", " are you? Good."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	pcm := collectAudio(t, audio)

	mu.Lock()
	requests := len(seen)
	mu.Unlock()
	if requests != len(ordinals) {
		t.Errorf("server saw %d requests, want %d", requests, len(ordinals))
	}
	if len(pcm) != 3*8 {
		t.Fatalf("got %d audio bytes, want %d", len(pcm), 3*8)
	}
	for i := range 3 {
		if pcm[i*8] != byte(i+1) {
			t.Errorf("utterance %d audio carries ordinal %d", i, pcm[i*8])
		}
	}
}

func TestSynthesizeStream_SendsVoiceAndLanguage(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{
			"speaker_id":  r.URL.Query().Get("speaker_id"),
			"language_id": r.URL.Query().Get("language_id"),
		}
		w.Write(wavFile(22050, 1, []byte{0, 0}))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio, err := p.SynthesizeStream(context.Background(), feed("Hallo."), tts.VoiceProfile{ID: "thorsten"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	collectAudio(t, audio)

	if query["speaker_id"] != "thorsten" {
		t.Errorf("speaker_id = %q, want thorsten", query["speaker_id"])
	}
	if query["language_id"] != "de" {
		t.Errorf("language_id = %q, want de", query["language_id"])
	}
}

func TestSynthesizeStream_XTTSPostsJSON(t *testing.T) {
	var got xttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tts_to_audio/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write(wavFile(24000, 1, []byte{1, 0}))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio, err := p.SynthesizeStream(context.Background(), feed("Hi."), tts.VoiceProfile{ID: "claribel"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	collectAudio(t, audio)

	if got.Text != "Hi." || got.SpeakerWav != "claribel" || got.Language != "en" {
		t.Errorf("request body = %+v", got)
	}
}

func TestSynthesizeStream_XTTSRequiresVoiceID(t *testing.T) {
	p, err := New("http://localhost:8020", WithAPIMode(APIModeXTTS))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.SynthesizeStream(context.Background(), feed("Hi."), tts.VoiceProfile{}); err == nil {
		t.Error("expected error for XTTS synthesis without a voice ID")
	}
}

func TestSynthesizeStream_ServerErrorClosesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	audio, err := p.SynthesizeStream(ctx, feed("This will fail."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if pcm := collectAudio(t, audio); len(pcm) != 0 {
		t.Errorf("got %d audio bytes after server error, want 0", len(pcm))
	}
	if ctx.Err() != nil {
		t.Errorf("context unexpectedly done: %v", ctx.Err())
	}
}

func TestSynthesizeStream_ResamplesToOutputRate(t *testing.T) {
	const srcSamples = 100
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavFile(8000, 1, make([]byte, srcSamples*2)))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithOutputSampleRate(16000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio, err := p.SynthesizeStream(context.Background(), feed("Quiet."), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	pcm := collectAudio(t, audio)

	if got := len(pcm) / 2; got != srcSamples*2 {
		t.Errorf("got %d samples after 8k to 16k resampling, want %d", got, srcSamples*2)
	}
}

// ---- utterance splitting ----

func TestSplitUtterances(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		complete []string
		rest     string
	}{
		{"empty", "", nil, ""},
		{"no terminator", "hello wor", nil, "hello wor"},
		{"trailing terminator", "Hello there.", []string{"Hello there."}, ""},
		{"mid terminator", "One. Two is still going", []string{"One."}, " Two is still going"},
		{"multiple", "A! B? C.", []string{"A!", "B?", "C."}, ""},
		{"decimal stays intact", "Pi is 3.14 roughly", nil, "Pi is 3.14 roughly"},
		{"abbreviation glued", "See e.g.the docs", nil, "See e.g.the docs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			complete, rest := splitUtterances(tc.in)
			if !reflect.DeepEqual(complete, tc.complete) {
				t.Errorf("complete = %q, want %q", complete, tc.complete)
			}
			if rest != tc.rest {
				t.Errorf("rest = %q, want %q", rest, tc.rest)
			}
		})
	}
}

// ---- WAV decoding ----

func TestDecodeWAV_ReadsFormatAndData(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	format, data, err := decodeWAV(wavFile(16000, 2, pcm))
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if format.sampleRate != 16000 || format.channels != 2 {
		t.Errorf("format = %+v, want 16000 Hz / 2 ch", format)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("data = %v, want %v", data, pcm)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	// A LIST chunk between fmt and data, as some encoders emit.
	base := wavFile(22050, 1, []byte{9, 9})
	var b bytes.Buffer
	b.Write(base[:36]) // header + fmt chunk
	b.WriteString("LIST")
	binary.Write(&b, binary.LittleEndian, uint32(4))
	b.WriteString("INFO")
	b.Write(base[36:]) // data chunk

	format, data, err := decodeWAV(b.Bytes())
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if format.sampleRate != 22050 {
		t.Errorf("sampleRate = %d, want 22050", format.sampleRate)
	}
	if !bytes.Equal(data, []byte{9, 9}) {
		t.Errorf("data = %v, want [9 9]", data)
	}
}

func TestDecodeWAV_MissingFmtFallsBack(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(12))
	b.WriteString("WAVE")
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(2))
	b.Write([]byte{5, 5})

	format, data, err := decodeWAV(b.Bytes())
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if format.sampleRate != 22050 || format.channels != 1 {
		t.Errorf("fallback format = %+v, want 22050 Hz mono", format)
	}
	if len(data) != 2 {
		t.Errorf("data length = %d, want 2", len(data))
	}
}

func TestDecodeWAV_TruncatedDataClamped(t *testing.T) {
	full := wavFile(22050, 1, []byte{1, 2, 3, 4, 5, 6})
	_, data, err := decodeWAV(full[:len(full)-2])
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if len(data) != 4 {
		t.Errorf("data length = %d, want 4", len(data))
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	if _, _, err := decodeWAV([]byte("not audio at all")); err == nil {
		t.Error("expected error for non-RIFF input")
	}
	noData := wavFile(22050, 1, nil)[:36]
	if _, _, err := decodeWAV(noData); err == nil {
		t.Error("expected error for WAV without a data chunk")
	}
}

// ---- resampling ----

func TestResampleMono16_SameRateIdentity(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	if got := resampleMono16(pcm, 16000, 16000); !bytes.Equal(got, pcm) {
		t.Errorf("same-rate resample altered data: %v", got)
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// A ramp at 8 kHz doubled to 16 kHz: twice the samples, still monotonic.
	src := make([]byte, 0, 8)
	for _, v := range []int16{0, 100, 200, 300} {
		src = binary.LittleEndian.AppendUint16(src, uint16(v))
	}
	got := resampleMono16(src, 8000, 16000)
	if len(got) != 16 {
		t.Fatalf("got %d bytes, want 16", len(got))
	}
	prev := int16(-1)
	for i := 0; i < len(got); i += 2 {
		v := int16(binary.LittleEndian.Uint16(got[i:]))
		if v < prev {
			t.Fatalf("resampled ramp not monotonic at sample %d: %d < %d", i/2, v, prev)
		}
		prev = v
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	src := make([]byte, 200*2)
	got := resampleMono16(src, 48000, 16000)
	if want := 200 / 3 * 2; len(got) != want {
		t.Errorf("got %d bytes, want %d", len(got), want)
	}
}

// ---- ListVoices ----

func TestListVoices_ModelSpeakers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/details" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model_name": "tts_models/en/vctk/vits",
			"speakers":   []string{"p330", "p225"},
		})
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].ID != "p225" || voices[1].ID != "p330" {
		t.Errorf("voices not sorted: %q, %q", voices[0].ID, voices[1].ID)
	}
	if voices[0].Provider != "coqui" {
		t.Errorf("provider = %q, want coqui", voices[0].Provider)
	}
	if voices[0].Metadata["model_name"] != "tts_models/en/vctk/vits" {
		t.Errorf("metadata = %v", voices[0].Metadata)
	}
}

func TestListVoices_SingleSpeakerModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"model_name": "tts_models/de/thorsten/vits"})
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("got %d voices, want 1", len(voices))
	}
	if voices[0].ID != "tts_models/de/thorsten/vits" {
		t.Errorf("voice ID = %q", voices[0].ID)
	}
	if voices[0].Metadata["type"] != "single-speaker" {
		t.Errorf("metadata type = %q, want single-speaker", voices[0].Metadata["type"])
	}
}

func TestListVoices_StudioSpeakers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/studio_speakers" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"Claribel Dervla": map[string]any{"speaker_embedding": []float64{0.1}},
			"Ana Florence":    map[string]any{"speaker_embedding": []float64{0.2}},
		})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithAPIMode(APIModeXTTS))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].ID != "Ana Florence" || voices[1].ID != "Claribel Dervla" {
		t.Errorf("voices not sorted: %q, %q", voices[0].ID, voices[1].ID)
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Error("expected error for non-200 /details response")
	}
}

// ---- constructor ----

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty server URL")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	p, err := New("http://localhost:5002/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q", p.serverURL)
	}
	if p.apiMode != APIModeStandard {
		t.Errorf("apiMode = %q, want %q", p.apiMode, APIModeStandard)
	}
	if p.language != defaultLanguage {
		t.Errorf("language = %q, want %q", p.language, defaultLanguage)
	}
}
