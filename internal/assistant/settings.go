package assistant

import (
	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/internal/speech"
)

// ToggleMute flips the mute setting and returns the new value. Muting
// stops any reply being spoken.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	c.config.Muted = !c.config.Muted
	muted := c.config.Muted
	c.mu.Unlock()

	if muted {
		c.speech.StopSpeaking()
		c.emit(model.Event{Type: model.EventTypeNotice, Text: MutedNotice})
	} else {
		c.emit(model.Event{Type: model.EventTypeNotice})
	}
	return muted
}

// SetSpeechOutput enables or disables spoken replies.
func (c *Controller) SetSpeechOutput(enabled bool) {
	c.mu.Lock()
	c.config.SpeechOutputEnabled = enabled
	c.mu.Unlock()

	if !enabled {
		c.speech.StopSpeaking()
	}
}

// HasVoice reports whether id names an available voice.
func (c *Controller) HasVoice(id string) bool {
	return speech.FindVoice(c.speech.Voices(), id) != nil
}

// SelectVoice picks the voice used for replies.
func (c *Controller) SelectVoice(id string) error {
	v := speech.FindVoice(c.speech.Voices(), id)
	if v == nil {
		return ErrUnknownVoice
	}
	c.mu.Lock()
	c.config.VoiceID = v.ID
	c.voiceExplicit = true
	c.mu.Unlock()
	return nil
}

// SetLanguage changes the speech language. The voice is re-derived unless
// one was selected explicitly.
func (c *Controller) SetLanguage(tag string) {
	if tag == "" {
		tag = model.DefaultLanguage
	}
	c.mu.Lock()
	c.config.Language = tag
	c.mu.Unlock()
	c.voicesChanged()
}

// Voices lists the available synthesis voices.
func (c *Controller) Voices() []speech.Voice {
	return c.speech.Voices()
}

// Config returns the speech settings.
func (c *Controller) Config() model.AssistantConfiguration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// voicesChanged keeps the configured voice valid for the current list.
func (c *Controller) voicesChanged() {
	voices := c.speech.Voices()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voiceExplicit && speech.FindVoice(voices, c.config.VoiceID) != nil {
		return
	}
	c.voiceExplicit = false
	c.config.VoiceID = ""
	if v := speech.DefaultVoice(voices, c.config.Language); v != nil {
		c.config.VoiceID = v.ID
	} else if len(voices) > 0 {
		c.config.VoiceID = voices[0].ID
	}
}

func (c *Controller) currentVoiceLocked() *speech.Voice {
	if c.config.VoiceID == "" {
		return nil
	}
	return speech.FindVoice(c.speech.Voices(), c.config.VoiceID)
}
