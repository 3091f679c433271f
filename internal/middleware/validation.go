package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength bounds one typed or spoken utterance in bytes.
const MaxMessageLength = 4000

var languageTag = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) > MaxMessageLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session id.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateLanguage validates a BCP 47 style language tag such as "en-US".
func ValidateLanguage(tag string) error {
	if !languageTag.MatchString(tag) {
		return errors.New("invalid language tag")
	}
	return nil
}

// ValidateVoiceID validates a voice identifier.
func ValidateVoiceID(id string) error {
	if len(id) == 0 {
		return errors.New("voice ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("voice ID exceeds maximum length")
	}
	return nil
}
