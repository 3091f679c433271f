package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "db", "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewStore(b, logger.NewNop())

			prefs := model.UserPreferences{Location: model.String("Austin"), Budget: model.Int(500000)}
			history := []model.Message{
				model.UserMessage("homes in Austin"),
				model.AssistantMessage("Here are some homes."),
			}
			require.NoError(t, s.SavePreferences(ctx, prefs))
			require.NoError(t, s.SaveChatHistory(ctx, history))

			assert.Equal(t, prefs, s.LoadPreferences(ctx))
			assert.Equal(t, history, s.LoadChatHistory(ctx))

			// Saves overwrite the whole record.
			require.NoError(t, s.SavePreferences(ctx, model.UserPreferences{Budget: model.Int(1)}))
			assert.Equal(t, model.UserPreferences{Budget: model.Int(1)}, s.LoadPreferences(ctx))
		})
	}
}

func TestStore_ResetClearsBoth(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewStore(b, logger.NewNop())
			require.NoError(t, s.SavePreferences(ctx, model.UserPreferences{Location: model.String("Miami")}))
			require.NoError(t, s.SaveChatHistory(ctx, []model.Message{model.UserMessage("hi")}))

			require.NoError(t, s.ResetMemory(ctx))

			assert.Equal(t, model.UserPreferences{}, s.LoadPreferences(ctx))
			assert.Equal(t, []model.Message{}, s.LoadChatHistory(ctx))
			require.NoError(t, s.ResetMemory(ctx))
		})
	}
}

func TestStore_MissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := NewStore(b, logger.NewNop())

	assert.Equal(t, model.UserPreferences{}, s.LoadPreferences(ctx))
	assert.Equal(t, []model.Message{}, s.LoadChatHistory(ctx))

	require.NoError(t, b.Set(ctx, PreferencesKey, []byte("{not json")))
	require.NoError(t, b.Set(ctx, ChatHistoryKey, []byte(`{"from":"user"}`)))
	assert.Equal(t, model.UserPreferences{}, s.LoadPreferences(ctx))
	assert.Equal(t, []model.Message{}, s.LoadChatHistory(ctx))

	require.NoError(t, b.Set(ctx, ChatHistoryKey, []byte("null")))
	assert.Equal(t, []model.Message{}, s.LoadChatHistory(ctx))
}

func TestStore_WireFormat(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := NewStore(b, logger.NewNop())

	require.NoError(t, s.SaveChatHistory(ctx, []model.Message{model.UserMessage("hi")}))
	raw, err := b.Get(ctx, ChatHistoryKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"from":"user","text":"hi"}]`, string(raw))

	require.NoError(t, s.SaveChatHistory(ctx, nil))
	raw, err = b.Get(ctx, ChatHistoryKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestStore_NoBackendIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, logger.NewNop())

	assert.False(t, s.Available())
	assert.NoError(t, s.SavePreferences(ctx, model.UserPreferences{Budget: model.Int(5)}))
	assert.NoError(t, s.SaveChatHistory(ctx, []model.Message{model.UserMessage("x")}))
	assert.NoError(t, s.ResetMemory(ctx))
	assert.Equal(t, model.UserPreferences{}, s.LoadPreferences(ctx))
	assert.Equal(t, []model.Message{}, s.LoadChatHistory(ctx))
	assert.False(t, s.Scoped("a").Available())
}

func TestStore_ScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	root := NewStore(NewMemoryBackend(), logger.NewNop())
	a, b := root.Scoped("a"), root.Scoped("b")

	require.NoError(t, a.SaveChatHistory(ctx, []model.Message{model.UserMessage("from a")}))
	assert.Equal(t, []model.Message{}, b.LoadChatHistory(ctx))
	assert.Len(t, a.LoadChatHistory(ctx), 1)

	require.NoError(t, b.ResetMemory(ctx))
	assert.Len(t, a.LoadChatHistory(ctx), 1)
}

func TestStore_UnreachableRedisYieldsDefaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	b := NewRedisBackend(rdb, time.Hour)
	t.Cleanup(func() { _ = b.Close() })
	s := NewStore(b, logger.NewNop())
	ctx := context.Background()

	assert.Equal(t, model.UserPreferences{}, s.LoadPreferences(ctx))
	assert.Equal(t, []model.Message{}, s.LoadChatHistory(ctx))
	assert.Error(t, s.SaveChatHistory(ctx, []model.Message{model.UserMessage("x")}))
	assert.Error(t, s.ResetMemory(ctx))
}

func TestRedisBackendFromURL_Invalid(t *testing.T) {
	_, err := NewRedisBackendFromURL("not a url", 0)
	assert.Error(t, err)
}
