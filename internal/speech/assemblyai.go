package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/pkg/logger"
)

// DefaultAssemblyAIURL is the streaming v3 endpoint.
const DefaultAssemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAIRecognizer transcribes 16kHz little-endian PCM through the
// AssemblyAI streaming API. A turn with end_of_turn set is the final
// transcript.
type AssemblyAIRecognizer struct {
	APIKey     string
	URL        string
	SampleRate int
	Dialer     *websocket.Dialer
	logger     *logger.Logger
}

// NewAssemblyAIRecognizer creates a recognizer for apiKey.
func NewAssemblyAIRecognizer(apiKey string, log *logger.Logger) *AssemblyAIRecognizer {
	return &AssemblyAIRecognizer{
		APIKey:     apiKey,
		URL:        DefaultAssemblyAIURL,
		SampleRate: 16000,
		Dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     logger.OrGlobal(log),
	}
}

type assemblyMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	EndOfTurn  bool   `json:"end_of_turn,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Recognize implements Recognizer. language is passed through as
// language_code; the endpoint ignores it for English-only models.
func (r *AssemblyAIRecognizer) Recognize(ctx context.Context, audio <-chan []byte, language string, onPartial func(string)) (string, error) {
	if r.APIKey == "" {
		return "", errors.New("assemblyai: api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(r.SampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")
	if language != "" {
		params.Set("language_code", primaryTag(language))
	}
	header := http.Header{}
	header.Set("Authorization", r.APIKey)

	dialer := r.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, r.URL+"?"+params.Encode(), header)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("assemblyai: connect status=%d: %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("assemblyai: connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.pump(ctx, conn, audio, done)
	}()
	defer wg.Wait()
	defer close(done)

	var latest string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return latest, nil
			}
			return "", fmt.Errorf("assemblyai: read: %w", err)
		}

		var msg assemblyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Debug("assemblyai: unreadable message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case "Begin":
			r.logger.Debug("assemblyai session began", zap.String("id", msg.ID))
		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			latest = msg.Transcript
			if msg.EndOfTurn {
				return latest, nil
			}
			if onPartial != nil {
				onPartial(latest)
			}
		case "Termination":
			return latest, nil
		case "Error":
			return "", fmt.Errorf("assemblyai: %s", msg.Error)
		}
	}
}

// pump is the only writer on conn. It forwards audio until the reader is
// done, ctx ends or the audio channel closes, then asks the server to
// terminate the session.
func (r *AssemblyAIRecognizer) pump(ctx context.Context, conn *websocket.Conn, audio <-chan []byte, done <-chan struct{}) {
	terminate := func() {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Terminate"}`))
	}
	for {
		select {
		case <-done:
			terminate()
			return
		case <-ctx.Done():
			terminate()
			_ = conn.Close()
			return
		case frame, ok := <-audio:
			if !ok {
				terminate()
				r.drain(ctx, conn, done)
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				r.logger.Debug("assemblyai: write audio failed", zap.Error(err))
				r.drain(ctx, conn, done)
				return
			}
		}
	}
}

func (r *AssemblyAIRecognizer) drain(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
		_ = conn.Close()
	}
}
