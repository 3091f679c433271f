package assistant

import (
	"strings"

	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/internal/speech"
)

// ToggleListening starts or stops voice input. Without recognition support
// it raises VoiceUnsupportedNotice and leaves the state unchanged.
func (c *Controller) ToggleListening() error {
	c.mu.Lock()
	switch {
	case c.closed || c.state == StateCollapsed:
		c.mu.Unlock()
		return ErrCollapsed
	case c.state == StateAwaitingResponse:
		c.mu.Unlock()
		return ErrBusy
	case c.state == StateListening:
		handle := c.endListeningLocked()
		c.mu.Unlock()
		if handle != 0 {
			c.speech.StopListening(handle)
		}
		c.emitState(StateExpanded)
		return nil
	}

	if !c.speech.RecognitionSupported() {
		c.notice = VoiceUnsupportedNotice
		c.mu.Unlock()
		c.emit(model.Event{Type: model.EventTypeNotice, Text: VoiceUnsupportedNotice})
		return nil
	}

	c.notice = ""
	c.state = StateListening
	c.session = model.SpeechSession{Active: true}
	c.listenSeq++
	seq := c.listenSeq
	language := c.config.Language
	c.mu.Unlock()

	c.emitState(StateListening)

	handle := c.speech.StartListening(speech.Callbacks{
		OnPartial: func(text string) { c.onPartial(seq, text) },
		OnFinal:   func(text string) { c.onFinal(seq, text) },
		OnError:   func(reason string) { c.onError(seq, reason) },
	}, language)

	c.mu.Lock()
	if seq != c.listenSeq {
		// Stopped or finished before the handle came back.
		c.mu.Unlock()
		if handle != 0 {
			c.speech.StopListening(handle)
		}
		return nil
	}
	if handle == 0 {
		c.resetListeningLocked()
		c.notice = VoiceUnsupportedNotice
		c.mu.Unlock()
		c.emit(model.Event{Type: model.EventTypeNotice, Text: VoiceUnsupportedNotice})
		c.emitState(StateExpanded)
		return nil
	}
	c.handle = handle
	c.mu.Unlock()
	return nil
}

// endListeningLocked leaves Listening, discarding any partial transcript,
// and returns the handle the caller must stop after unlocking.
func (c *Controller) endListeningLocked() speech.Handle {
	if c.state != StateListening {
		return 0
	}
	handle := c.handle
	c.resetListeningLocked()
	return handle
}

func (c *Controller) resetListeningLocked() {
	c.listenSeq++
	c.handle = 0
	c.session = model.SpeechSession{}
	if c.state == StateListening {
		c.state = StateExpanded
	}
}

func (c *Controller) onPartial(seq uint64, text string) {
	c.mu.Lock()
	if seq != c.listenSeq || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.session.PartialTranscript = text
	c.mu.Unlock()

	c.emit(model.Event{Type: model.EventTypeTranscript, Text: text})
}

func (c *Controller) onFinal(seq uint64, text string) {
	c.mu.Lock()
	if seq != c.listenSeq || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	switch {
	case c.input == "":
		c.input = text
	case strings.HasSuffix(c.input, " "):
		c.input += text
	default:
		c.input += " " + text
	}
	c.resetListeningLocked()
	input := c.input
	c.mu.Unlock()

	c.emit(model.Event{Type: model.EventTypeTranscript, Text: input, State: "final"})
	c.emitState(StateExpanded)
}

func (c *Controller) onError(seq uint64, reason string) {
	c.mu.Lock()
	if seq != c.listenSeq || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.resetListeningLocked()
	c.notice = voiceErrorPrefix + reason
	notice := c.notice
	c.mu.Unlock()

	c.emit(model.Event{Type: model.EventTypeNotice, Text: notice})
	c.emitState(StateExpanded)
}
