package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
	"github.com/capitalize-ai/listing-assistant/pkg/metrics"
)

// Logical record keys.
const (
	PreferencesKey = "userPreferences"
	ChatHistoryKey = "chatHistory"
)

// Store is the typed view over a Backend. Loads never fail: missing,
// corrupt or unreachable records yield empty defaults. A Store without a
// backend does nothing.
type Store struct {
	backend Backend
	scope   string
	logger  *logger.Logger
}

// NewStore creates a store. backend may be nil when no durable storage is
// available.
func NewStore(backend Backend, log *logger.Logger) *Store {
	return &Store{backend: backend, logger: logger.OrGlobal(log)}
}

// Scoped returns a store over the same backend whose records are isolated
// under scope.
func (s *Store) Scoped(scope string) *Store {
	return &Store{
		backend: s.backend,
		scope:   scope,
		logger:  s.logger.With(zap.String("scope", scope)),
	}
}

// Available reports whether a backend is attached.
func (s *Store) Available() bool {
	return s != nil && s.backend != nil
}

func (s *Store) key(name string) string {
	if s.scope == "" {
		return name
	}
	return s.scope + ":" + name
}

// SavePreferences overwrites the stored preferences.
func (s *Store) SavePreferences(ctx context.Context, prefs model.UserPreferences) error {
	return s.save(ctx, PreferencesKey, prefs)
}

// LoadPreferences returns the stored preferences, or the empty value.
func (s *Store) LoadPreferences(ctx context.Context) model.UserPreferences {
	var prefs model.UserPreferences
	if !s.load(ctx, PreferencesKey, &prefs) {
		return model.UserPreferences{}
	}
	return prefs
}

// SaveChatHistory overwrites the stored chat history.
func (s *Store) SaveChatHistory(ctx context.Context, messages []model.Message) error {
	if messages == nil {
		messages = []model.Message{}
	}
	return s.save(ctx, ChatHistoryKey, messages)
}

// LoadChatHistory returns the stored chat history, or an empty slice.
func (s *Store) LoadChatHistory(ctx context.Context) []model.Message {
	var messages []model.Message
	if !s.load(ctx, ChatHistoryKey, &messages) || messages == nil {
		return []model.Message{}
	}
	return messages
}

// ResetMemory removes both records in one backend call.
func (s *Store) ResetMemory(ctx context.Context) error {
	if !s.Available() {
		return nil
	}
	if err := s.backend.Delete(ctx, s.key(PreferencesKey), s.key(ChatHistoryKey)); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("reset").Inc()
		return fmt.Errorf("reset memory: %w", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, name string, v any) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := s.backend.Set(ctx, s.key(name), data); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("save").Inc()
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, name string, dst any) bool {
	if !s.Available() {
		return false
	}
	data, err := s.backend.Get(ctx, s.key(name))
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("load").Inc()
		s.logger.Warn("memory load failed", zap.String("key", name), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("decode").Inc()
		s.logger.Warn("memory record corrupt", zap.String("key", name), zap.Error(err))
		return false
	}
	return true
}
