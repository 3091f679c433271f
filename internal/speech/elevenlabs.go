package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultElevenLabsURL is the ElevenLabs API base URL.
const DefaultElevenLabsURL = "https://api.elevenlabs.io"

// ElevenLabsSynthesizer streams text-to-speech audio over HTTP.
type ElevenLabsSynthesizer struct {
	APIKey         string
	BaseURL        string
	ModelID        string
	OutputFormat   string
	DefaultVoiceID string
	HTTPClient     *http.Client
}

// NewElevenLabsSynthesizer creates a synthesizer. defaultVoiceID is used
// when Synthesize is called without a voice.
func NewElevenLabsSynthesizer(apiKey, defaultVoiceID string) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		APIKey:         apiKey,
		BaseURL:        DefaultElevenLabsURL,
		ModelID:        "eleven_flash_v2_5",
		OutputFormat:   "pcm_16000",
		DefaultVoiceID: defaultVoiceID,
		// No overall timeout: the body is a long-lived audio stream.
		HTTPClient: &http.Client{},
	}
}

func (e *ElevenLabsSynthesizer) client() *http.Client {
	if e.HTTPClient != nil {
		return e.HTTPClient
	}
	return http.DefaultClient
}

// Synthesize implements Synthesizer.
func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text, voiceID, language string, sink AudioSink) error {
	if e.APIKey == "" {
		return errors.New("elevenlabs: api key is empty")
	}
	if voiceID == "" {
		voiceID = e.DefaultVoiceID
	}
	if voiceID == "" {
		return errors.New("elevenlabs: no voice selected")
	}

	u, err := url.Parse(strings.TrimRight(e.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream")
	if err != nil {
		return fmt.Errorf("elevenlabs: %w", err)
	}
	q := u.Query()
	q.Set("output_format", e.OutputFormat)
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": e.ModelID,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":        0.4,
			"similarity_boost": 0.7,
		},
	}
	if lang := primaryTag(language); lang != "" {
		body["language_code"] = lang
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("elevenlabs: %w", err)
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client().Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			sink.WriteAudio(out)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", rerr)
		}
	}
}

type elevenVoice struct {
	VoiceID           string            `json:"voice_id"`
	Name              string            `json:"name"`
	Labels            map[string]string `json:"labels"`
	VerifiedLanguages []struct {
		Language string `json:"language"`
		Locale   string `json:"locale"`
	} `json:"verified_languages"`
}

// Voices implements Synthesizer. Order follows the API response.
func (e *ElevenLabsSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	if e.APIKey == "" {
		return nil, errors.New("elevenlabs: api key is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(e.BaseURL, "/")+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	req.Header.Set("xi-api-key", e.APIKey)

	resp, err := e.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	var payload struct {
		Voices []elevenVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}

	voices := make([]Voice, 0, len(payload.Voices))
	for _, v := range payload.Voices {
		lang := v.Labels["language"]
		if len(v.VerifiedLanguages) > 0 {
			lang = v.VerifiedLanguages[0].Locale
			if lang == "" {
				lang = v.VerifiedLanguages[0].Language
			}
		}
		voices = append(voices, Voice{ID: v.VoiceID, Name: v.Name, Language: lang})
	}
	return voices, nil
}
