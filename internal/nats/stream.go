package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/listing-assistant/internal/model"
)

const (
	// StreamName is the name of the assistant journal stream.
	StreamName = "ASSISTANT"

	// SubjectPrefix is the prefix for all journal subjects.
	SubjectPrefix = "assistant"
)

// StreamManager publishes and replays session journals.
type StreamManager struct {
	js     jetstream.JetStream
	maxAge time.Duration
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{js: client.JetStream(), maxAge: 30 * 24 * time.Hour}
}

// EnsureStream creates the journal stream if it does not exist.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	if _, err := m.js.Stream(ctx, StreamName); err == nil {
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err := m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.maxAge,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Assistant session messages and events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// subjectToken makes s safe for use as one subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// MessageSubject returns the subject for a chat message.
func MessageSubject(sessionID string, from model.Sender) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, subjectToken(sessionID), subjectToken(string(from)))
}

// EventSubject returns the subject for a non-message event.
func EventSubject(sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, subjectToken(sessionID), subjectToken(string(eventType)))
}

// SessionFilter returns the filter subject for everything in a session.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, subjectToken(sessionID))
}

// Subject returns the subject ev is published on.
func Subject(ev model.Event) string {
	if ev.Type == model.EventTypeMessage && ev.Message != nil {
		return MessageSubject(ev.SessionID, ev.Message.From)
	}
	return EventSubject(ev.SessionID, ev.Type)
}

// Record publishes ev to the journal.
func (m *StreamManager) Record(ctx context.Context, ev model.Event) error {
	_, err := m.Publish(ctx, ev)
	return err
}

// Publish publishes ev and returns its stream sequence.
func (m *StreamManager) Publish(ctx context.Context, ev model.Event) (uint64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.js.Publish(ctx, Subject(ev), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return ack.Sequence, nil
}

// GetMessages replays the chat messages of a session recorded after
// afterSequence.
func (m *StreamManager) GetMessages(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	cfg := jetstream.ConsumerConfig{
		FilterSubject:     fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, subjectToken(sessionID)),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	}
	if afterSequence > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.js.CreateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch messages: %w", err)
	}

	messages := []model.Message{}
	lastSequence := afterSequence
	for msg := range batch.Messages() {
		var ev model.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil || ev.Message == nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			lastSequence = meta.Sequence.Stream
		}
		messages = append(messages, *ev.Message)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return messages, lastSequence, len(messages) == limit, nil
}
