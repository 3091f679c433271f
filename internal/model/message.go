// Package model defines data structures for the listing assistant.
package model

import (
	"strings"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of the chat transcript. It is persisted verbatim.
type Message struct {
	From Sender `json:"from"`
	Text string `json:"text"`
}

// UserMessage builds a message authored by the user.
func UserMessage(text string) Message {
	return Message{From: SenderUser, Text: text}
}

// AssistantMessage builds a message authored by the assistant.
func AssistantMessage(text string) Message {
	return Message{From: SenderAssistant, Text: text}
}

// NavigationTarget is a page section the assistant can scroll to.
type NavigationTarget string

const (
	NavigateListings NavigationTarget = "listings"
	NavigateFilters  NavigationTarget = "filters"
)

// FilterCriteria is the structured filter extracted from one utterance.
type FilterCriteria struct {
	Location *string `json:"location,omitempty"`
	MaxPrice *int    `json:"maxPrice,omitempty"`
}

// IsEmpty reports whether no field is set.
func (f FilterCriteria) IsEmpty() bool {
	return f.Location == nil && f.MaxPrice == nil
}

// UserPreferences is the sparse preference record inferred from chat.
type UserPreferences struct {
	Location *string `json:"location,omitempty"`
	Budget   *int    `json:"budget,omitempty"`
}

// Merge returns p with every field set in f copied over. Fields absent
// from f keep their previous value.
func (p UserPreferences) Merge(f FilterCriteria) UserPreferences {
	out := p
	if f.Location != nil {
		loc := *f.Location
		out.Location = &loc
	}
	if f.MaxPrice != nil {
		budget := *f.MaxPrice
		out.Budget = &budget
	}
	return out
}

// Listing is one property record of the in-app dataset.
type Listing struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Beds     int    `json:"beds" yaml:"beds"`
	Baths    int    `json:"baths" yaml:"baths"`
	Price    int    `json:"price" yaml:"price"`
	Location string `json:"location" yaml:"location"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url"`
}

// Matches reports whether the listing satisfies every set field of f.
// Location matching is a case-insensitive substring test.
func (l Listing) Matches(f FilterCriteria) bool {
	if f.Location != nil {
		want := strings.ToLower(strings.TrimSpace(*f.Location))
		if want != "" && !strings.Contains(strings.ToLower(l.Location), want) {
			return false
		}
	}
	if f.MaxPrice != nil && l.Price > *f.MaxPrice {
		return false
	}
	return true
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }
