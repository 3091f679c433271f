package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/internal/assistant"
	"github.com/capitalize-ai/listing-assistant/internal/middleware"
	"github.com/capitalize-ai/listing-assistant/internal/speech"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
)

const (
	audioWriteWait  = 10 * time.Second
	audioPongWait   = 60 * time.Second
	audioPingPeriod = audioPongWait * 9 / 10
	audioOutQueue   = 128
	maxAudioFrame   = 64 << 10
)

// audioEngine is the part of speech.Engine the audio socket needs.
type audioEngine interface {
	FeedAudio(pcm []byte)
	SetSink(sink speech.AudioSink)
	ClearSink(sink speech.AudioSink)
	StopSpeaking()
}

// audioControl is a JSON text frame on the audio socket.
type audioControl struct {
	Type string `json:"type"`
}

// AudioHandler bridges a browser's microphone and speaker to the session's
// speech engine. Binary frames in are 16kHz PCM; binary frames out are
// synthesized audio. The server sends {"type":"ready"} once audio is routed
// to the socket and {"type":"reset"} when the client should drop queued
// playback.
type AudioHandler struct {
	registry *assistant.Registry
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewAudioHandler creates an audio handler accepting the given origins.
// An empty list accepts any origin.
func NewAudioHandler(registry *assistant.Registry, allowedOrigins []string, log *logger.Logger) *AudioHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" || o == "https://*" || o == "http://*" {
			wildcard = true
		}
		origins[o] = true
	}
	return &AudioHandler{
		registry: registry,
		logger:   logger.OrGlobal(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxAudioFrame,
			WriteBufferSize: maxAudioFrame,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return wildcard || origin == "" || origins[origin]
			},
		},
	}
}

// Serve handles GET /api/v1/assistant/audio
func (h *AudioHandler) Serve(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	ctrl := h.registry.Get(r.Context(), sessionID)
	engine, ok := ctrl.Speech().(audioEngine)
	if !ok {
		writeError(w, http.StatusNotFound, "speech engine not available")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("audio websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.WithSession(sessionID)
	sink := newSocketSink()
	engine.SetSink(sink)
	defer engine.ClearSink(sink)
	sink.out <- socketFrame{websocket.TextMessage, []byte(`{"type":"ready"}`)}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.writeLoop(conn, log)
	}()
	defer wg.Wait()
	defer sink.close()

	conn.SetReadLimit(maxAudioFrame)
	conn.SetReadDeadline(time.Now().Add(audioPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(audioPongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("audio websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(audioPongWait))

		switch mt {
		case websocket.BinaryMessage:
			engine.FeedAudio(data)
		case websocket.TextMessage:
			var ctl audioControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				continue
			}
			if ctl.Type == "stop_speaking" {
				engine.StopSpeaking()
			}
		}
	}
}

type socketFrame struct {
	messageType int
	data        []byte
}

// socketSink queues synthesized audio for the connection's single writer.
type socketSink struct {
	out  chan socketFrame
	done chan struct{}
	once sync.Once
}

func newSocketSink() *socketSink {
	return &socketSink{
		out:  make(chan socketFrame, audioOutQueue),
		done: make(chan struct{}),
	}
}

func (s *socketSink) WriteAudio(chunk []byte) {
	select {
	case s.out <- socketFrame{websocket.BinaryMessage, chunk}:
	case <-s.done:
	}
}

// Reset drops queued audio and tells the client to flush its buffer.
func (s *socketSink) Reset() {
	for {
		select {
		case <-s.out:
			continue
		default:
		}
		break
	}
	select {
	case s.out <- socketFrame{websocket.TextMessage, []byte(`{"type":"reset"}`)}:
	case <-s.done:
	}
}

func (s *socketSink) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *socketSink) writeLoop(conn *websocket.Conn, log *logger.Logger) {
	ping := time.NewTicker(audioPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			conn.SetWriteDeadline(time.Now().Add(audioWriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-s.out:
			conn.SetWriteDeadline(time.Now().Add(audioWriteWait))
			if err := conn.WriteMessage(f.messageType, f.data); err != nil {
				log.Debug("audio websocket write failed", zap.Error(err))
				s.close()
				conn.Close()
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(audioWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				conn.Close()
				return
			}
		}
	}
}
