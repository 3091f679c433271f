package speech

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/pkg/logger"
	"github.com/capitalize-ai/listing-assistant/pkg/metrics"
)

// Recognizer transcribes one utterance from a stream of 16kHz PCM frames.
// It returns when the utterance is final, the audio channel is closed or
// ctx is done.
type Recognizer interface {
	Recognize(ctx context.Context, audio <-chan []byte, language string, onPartial func(string)) (string, error)
}

// Synthesizer streams synthesized audio for text into sink.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, language string, sink AudioSink) error
	Voices(ctx context.Context) ([]Voice, error)
}

// AudioSink consumes synthesized audio. Reset drops anything queued.
type AudioSink interface {
	WriteAudio(chunk []byte)
	Reset()
}

const audioQueueSize = 256

type listenSession struct {
	handle  Handle
	cb      Callbacks
	audio   chan []byte
	cancel  context.CancelFunc
	stopped bool
}

// Engine implements Adapter over optional recognition and synthesis
// backends. A nil backend disables the matching capability.
type Engine struct {
	recognizer  Recognizer
	synthesizer Synthesizer
	logger      *logger.Logger

	mu          sync.Mutex
	sink        AudioSink
	lastHandle  Handle
	active      *listenSession
	speakCancel context.CancelFunc
	speakSeq    uint64
	voices      []Voice
	listeners   map[int]func()
	nextID      int
}

// NewEngine creates an engine. Either backend may be nil.
func NewEngine(r Recognizer, s Synthesizer, log *logger.Logger) *Engine {
	return &Engine{
		recognizer:  r,
		synthesizer: s,
		logger:      logger.OrGlobal(log),
		voices:      []Voice{},
		listeners:   make(map[int]func()),
	}
}

// SetSink routes synthesized audio to sink. A nil sink discards it.
func (e *Engine) SetSink(sink AudioSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// ClearSink detaches sink if it is still the current one.
func (e *Engine) ClearSink(sink AudioSink) {
	e.mu.Lock()
	if e.sink == sink {
		e.sink = nil
	}
	e.mu.Unlock()
}

func (e *Engine) RecognitionSupported() bool { return e.recognizer != nil }
func (e *Engine) SynthesisSupported() bool   { return e.synthesizer != nil }

func (e *Engine) StartListening(cb Callbacks, language string) Handle {
	if e.recognizer == nil {
		return 0
	}

	e.mu.Lock()
	if e.active != nil {
		e.stopLocked(e.active)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.lastHandle++
	s := &listenSession{
		handle: e.lastHandle,
		cb:     cb,
		audio:  make(chan []byte, audioQueueSize),
		cancel: cancel,
	}
	e.active = s
	e.mu.Unlock()

	go e.run(ctx, s, language)
	return s.handle
}

func (e *Engine) run(ctx context.Context, s *listenSession, language string) {
	var (
		text string
		err  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("recognizer panic: %v", r)
			}
		}()
		text, err = e.recognizer.Recognize(ctx, s.audio, language, func(partial string) {
			if e.live(s) && s.cb.OnPartial != nil {
				s.cb.OnPartial(partial)
			}
		})
	}()

	e.mu.Lock()
	if s.stopped {
		e.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	if e.active == s {
		e.active = nil
	}
	e.mu.Unlock()

	text = strings.TrimSpace(text)
	switch {
	case err != nil:
		metrics.SpeechSessionsTotal.WithLabelValues("error").Inc()
		e.logger.Warn("speech recognition failed", zap.Uint64("handle", uint64(s.handle)), zap.Error(err))
		if s.cb.OnError != nil {
			s.cb.OnError(err.Error())
		}
	case text == "":
		metrics.SpeechSessionsTotal.WithLabelValues("no_speech").Inc()
		if s.cb.OnError != nil {
			s.cb.OnError(ErrNoSpeech.Error())
		}
	default:
		metrics.SpeechSessionsTotal.WithLabelValues("final").Inc()
		if s.cb.OnFinal != nil {
			s.cb.OnFinal(text)
		}
	}
}

func (e *Engine) live(s *listenSession) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !s.stopped
}

func (e *Engine) StopListening(h Handle) {
	if h == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil && e.active.handle == h {
		e.stopLocked(e.active)
	}
}

func (e *Engine) stopLocked(s *listenSession) {
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancel()
	close(s.audio)
	if e.active == s {
		e.active = nil
	}
	metrics.SpeechSessionsTotal.WithLabelValues("stopped").Inc()
}

// FeedAudio routes one microphone frame to the active session. Frames are
// dropped when nothing is listening or the queue is full.
func (e *Engine) FeedAudio(pcm []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.active.stopped {
		return
	}
	select {
	case e.active.audio <- pcm:
	default:
		e.logger.Debug("speech audio queue full, dropping frame")
	}
}

// Listening reports whether a session is active.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

func (e *Engine) Speak(text string, voice *Voice, language string) {
	if e.synthesizer == nil || strings.TrimSpace(text) == "" {
		return
	}
	voiceID := ""
	if voice != nil {
		voiceID = voice.ID
	}

	e.mu.Lock()
	if e.speakCancel != nil {
		e.speakCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.speakCancel = cancel
	e.speakSeq++
	seq := e.speakSeq
	sink := e.sink
	e.mu.Unlock()

	if sink == nil {
		sink = discardSink{}
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("speech synthesis panic", zap.Any("panic", r))
			}
			e.mu.Lock()
			if e.speakSeq == seq && e.speakCancel != nil {
				e.speakCancel()
				e.speakCancel = nil
			}
			e.mu.Unlock()
		}()
		if err := e.synthesizer.Synthesize(ctx, text, voiceID, language, sink); err != nil && ctx.Err() == nil {
			e.logger.Warn("speech synthesis failed", zap.String("voice_id", voiceID), zap.Error(err))
		}
	}()
}

// Speaking reports whether an utterance is in flight.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speakCancel != nil
}

func (e *Engine) StopSpeaking() {
	e.mu.Lock()
	if e.speakCancel != nil {
		e.speakCancel()
		e.speakCancel = nil
	}
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		sink.Reset()
	}
}

func (e *Engine) Voices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.voices)
}

func (e *Engine) OnVoicesChanged(fn func()) (cancel func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// RefreshVoices reloads the voice list from the synthesizer and notifies
// listeners when it changed.
func (e *Engine) RefreshVoices(ctx context.Context) error {
	if e.synthesizer == nil {
		return nil
	}
	voices, err := e.synthesizer.Voices(ctx)
	if err != nil {
		return fmt.Errorf("refresh voices: %w", err)
	}
	voices = slices.Clone(voices)
	if voices == nil {
		voices = []Voice{}
	}

	e.mu.Lock()
	if slices.Equal(e.voices, voices) {
		e.mu.Unlock()
		return nil
	}
	e.voices = voices
	notify := make([]func(), 0, len(e.listeners))
	for _, fn := range e.listeners {
		notify = append(notify, fn)
	}
	e.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// Close stops listening and speaking.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.active != nil {
		e.stopLocked(e.active)
	}
	e.mu.Unlock()
	e.StopSpeaking()
}

type discardSink struct{}

func (discardSink) WriteAudio([]byte) {}
func (discardSink) Reset()            {}
