package model

import (
	"time"
)

// DefaultLanguage is the locale used for speech when none is configured.
const DefaultLanguage = "en-US"

// SpeechSession is the transient state of one listening session.
type SpeechSession struct {
	Active            bool   `json:"active"`
	PartialTranscript string `json:"partial_transcript,omitempty"`
	FinalTranscript   string `json:"final_transcript,omitempty"`
	Error             string `json:"error,omitempty"`
}

// AssistantConfiguration holds the user's speech settings. It is process
// local and never persisted.
type AssistantConfiguration struct {
	Muted               bool   `json:"muted"`
	SpeechOutputEnabled bool   `json:"speech_output_enabled"`
	VoiceID             string `json:"voice_id,omitempty"`
	Language            string `json:"language"`
}

// EventType represents the type of assistant event pushed to the UI.
type EventType string

const (
	EventTypeMessage    EventType = "message"
	EventTypeState      EventType = "state"
	EventTypePopup      EventType = "popup"
	EventTypeDirective  EventType = "directive"
	EventTypeTranscript EventType = "transcript"
	EventTypeNotice     EventType = "notice"
	EventTypeReset      EventType = "reset"
)

// Directive is a host side effect derived from an utterance.
type Directive struct {
	Filter     *FilterCriteria   `json:"filter,omitempty"`
	Navigation *NavigationTarget `json:"navigation,omitempty"`
}

// Event represents an observable change in an assistant session.
type Event struct {
	Type      EventType  `json:"type"`
	SessionID string     `json:"session_id"`
	State     string     `json:"state,omitempty"`
	Message   *Message   `json:"message,omitempty"`
	Directive *Directive `json:"directive,omitempty"`
	Text      string     `json:"text,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// HeartbeatEvent keeps idle event streams open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
