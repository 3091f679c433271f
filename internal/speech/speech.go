// Package speech exposes a capability-checked interface over speech
// recognition and synthesis backends.
package speech

import (
	"errors"
	"strings"
)

// ErrNoSpeech terminates a listening session that ended without a
// transcript.
var ErrNoSpeech = errors.New("no speech was detected")

// Handle identifies one listening session. The zero value is the null
// handle.
type Handle uint64

// Voice is one synthesis voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Callbacks receive the events of one listening session: zero or more
// partials, then exactly one of OnFinal or OnError.
type Callbacks struct {
	OnPartial func(text string)
	OnFinal   func(text string)
	OnError   func(reason string)
}

// Adapter is the uniform speech interface used by the assistant.
type Adapter interface {
	RecognitionSupported() bool
	SynthesisSupported() bool

	// StartListening begins a single-utterance session. It returns the null
	// handle when recognition is unsupported.
	StartListening(cb Callbacks, language string) Handle
	// StopListening halts the session without further callbacks. Safe on
	// null, unknown and already-stopped handles.
	StopListening(h Handle)

	// Speak vocalizes text in the background. voice may be nil.
	Speak(text string, voice *Voice, language string)
	StopSpeaking()

	Voices() []Voice
	// OnVoicesChanged registers fn for voice list changes and returns a
	// function that unregisters it.
	OnVoicesChanged(fn func()) (cancel func())
}

// DefaultVoice picks the first voice whose language equals language, then
// the first sharing its primary subtag. It returns nil when none match.
func DefaultVoice(voices []Voice, language string) *Voice {
	for i := range voices {
		if strings.EqualFold(voices[i].Language, language) {
			v := voices[i]
			return &v
		}
	}
	primary := primaryTag(language)
	if primary == "" {
		return nil
	}
	for i := range voices {
		if primaryTag(voices[i].Language) == primary {
			v := voices[i]
			return &v
		}
	}
	return nil
}

// FindVoice returns the voice with id, or nil.
func FindVoice(voices []Voice, id string) *Voice {
	for i := range voices {
		if voices[i].ID == id {
			v := voices[i]
			return &v
		}
	}
	return nil
}

func primaryTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

// Unsupported returns an adapter without recognition or synthesis.
func Unsupported() Adapter {
	return unsupported{}
}

type unsupported struct{}

func (unsupported) RecognitionSupported() bool              { return false }
func (unsupported) SynthesisSupported() bool                { return false }
func (unsupported) StartListening(Callbacks, string) Handle { return 0 }
func (unsupported) StopListening(Handle)                    {}
func (unsupported) Speak(string, *Voice, string)            {}
func (unsupported) StopSpeaking()                           {}
func (unsupported) Voices() []Voice                         { return []Voice{} }
func (unsupported) OnVoicesChanged(func()) (cancel func())  { return func() {} }
