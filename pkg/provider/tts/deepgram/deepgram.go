// Package deepgram provides a Deepgram Aura-backed TTS provider using the
// Deepgram speak streaming WebSocket API. It implements the tts.Provider
// interface.
//
// The speak protocol is text-in/audio-out over a single WebSocket: each text
// fragment is sent as a {"type":"Speak","text":...} message, a
// {"type":"Flush"} message forces synthesis of everything buffered so far,
// and the server acknowledges with a {"type":"Flushed"} control message once
// all audio for the flushed text has been delivered.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"

	"github.com/pkarell/auric/pkg/provider/tts"
)

const (
	speakEndpoint     = "wss://api.deepgram.com/v1/speak"
	defaultVoiceModel = "aura-asteria-en"
	defaultSampleRate = 16000
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithSampleRate sets the output PCM sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithEndpoint overrides the speak endpoint URL. Used for testing against a
// local WebSocket server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// Provider implements tts.Provider backed by the Deepgram speak streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	sampleRate int
}

// New creates a new Deepgram TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   speakEndpoint,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// speakMessage is the JSON payload carrying a text fragment to synthesise.
type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// controlMessage covers the Flush/Clear/Close commands and server control
// replies such as Flushed.
type controlMessage struct {
	Type string `json:"type"`
}

// SynthesizeStream opens a WebSocket to Deepgram, forwards text fragments as
// Speak messages, and returns a channel emitting raw PCM audio chunks. When
// the text channel closes a Flush is sent and the stream drains until the
// server acknowledges with Flushed.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	wsURL := p.buildURL(voice)

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial speak: %w", err)
	}

	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		// flushed is signalled when the server confirms the Flush.
		flushed := make(chan struct{}, 1)
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				msgType, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				if msgType == websocket.MessageBinary {
					if len(msg) == 0 {
						continue
					}
					select {
					case audioCh <- msg:
					case <-ctx.Done():
						return
					}
					continue
				}

				var ctrl controlMessage
				if err := json.Unmarshal(msg, &ctrl); err != nil {
					continue
				}
				if ctrl.Type == "Flushed" {
					select {
					case flushed <- struct{}{}:
					default:
					}
				}
			}
		}()

		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					// All text sent; flush and drain remaining audio until
					// the server confirms or the connection drops.
					flushBytes, _ := json.Marshal(controlMessage{Type: "Flush"})
					_ = conn.Write(ctx, websocket.MessageText, flushBytes)
					select {
					case <-flushed:
					case <-readDone:
					case <-ctx.Done():
					}
					closeBytes, _ := json.Marshal(controlMessage{Type: "Close"})
					_ = conn.Write(ctx, websocket.MessageText, closeBytes)
					return
				}
				if fragment == "" {
					continue
				}
				msgBytes, _ := json.Marshal(speakMessage{Type: "Speak", Text: fragment})
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					return
				}
			case <-ctx.Done():
				// Interrupted mid-synthesis; tell the server to drop its buffer.
				clearBytes, _ := json.Marshal(controlMessage{Type: "Clear"})
				_ = conn.Write(context.WithoutCancel(ctx), websocket.MessageText, clearBytes)
				return
			}
		}
	}()

	return audioCh, nil
}

// buildURL constructs the speak endpoint URL for the given voice. The voice ID
// is the Aura model name (e.g., "aura-asteria-en"); an empty ID selects the
// default voice.
func (p *Provider) buildURL(voice tts.VoiceProfile) string {
	model := voice.ID
	if model == "" {
		model = defaultVoiceModel
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("container", "none")

	return p.endpoint + "?" + q.Encode()
}

// auraVoices is the catalogue of Deepgram Aura voice models. Deepgram does not
// expose a voice listing endpoint for speak, so the catalogue is static.
var auraVoices = []struct {
	id     string
	name   string
	gender string
	accent string
}{
	{"aura-asteria-en", "Asteria", "female", "american"},
	{"aura-luna-en", "Luna", "female", "american"},
	{"aura-stella-en", "Stella", "female", "american"},
	{"aura-athena-en", "Athena", "female", "british"},
	{"aura-hera-en", "Hera", "female", "american"},
	{"aura-orion-en", "Orion", "male", "american"},
	{"aura-arcas-en", "Arcas", "male", "american"},
	{"aura-perseus-en", "Perseus", "male", "american"},
	{"aura-angus-en", "Angus", "male", "irish"},
	{"aura-orpheus-en", "Orpheus", "male", "american"},
	{"aura-helios-en", "Helios", "male", "british"},
	{"aura-zeus-en", "Zeus", "male", "american"},
}

// ListVoices returns the Aura voice catalogue.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	profiles := make([]tts.VoiceProfile, 0, len(auraVoices))
	for _, v := range auraVoices {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.id,
			Name:     v.name,
			Provider: "deepgram",
			Metadata: map[string]string{
				"gender": v.gender,
				"accent": v.accent,
			},
		})
	}
	return profiles, nil
}
