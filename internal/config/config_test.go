package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("POPUP_DURATION", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "gemini", cfg.LLMProvider)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.PopupDuration)
	assert.Equal(t, "en-US", cfg.Language)
	assert.Empty(t, cfg.LLMAPIKey())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "oa-key")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("POPUP_DURATION", "2s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "oa-key", cfg.LLMAPIKey())
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.PopupDuration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestValidate_RejectsUnknownValues(t *testing.T) {
	t.Run("provider", func(t *testing.T) {
		t.Setenv("LLM_PROVIDER", "mystery")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("store", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "floppy")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("malformed duration falls back to default", func(t *testing.T) {
		t.Setenv("POPUP_DURATION", "soon")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.PopupDuration)
	})
}
