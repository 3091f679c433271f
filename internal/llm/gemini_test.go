package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewGeminiClient("test-key", Options{BaseURL: srv.URL, Model: "test-model", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestGemini_NoKey(t *testing.T) {
	_, err := NewGeminiClient("", Options{})
	assert.Error(t, err)
}

func TestGemini_RequestShape(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":" hello "}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":2}}`))
	})

	resp, err := c.Complete(context.Background(), &CompletionRequest{Parts: []string{"context", "question"}})
	require.NoError(t, err)

	assert.Equal(t, "/models/test-model:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, map[string]any{
		"contents": []any{
			map[string]any{"parts": []any{
				map[string]any{"text": "context"},
				map[string]any{"text": "question"},
			}},
		},
	}, gotBody)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 7, resp.TokensIn)
	assert.Equal(t, 2, resp.TokensOut)
	assert.Equal(t, "STOP", resp.StopReason)
}

func TestEncodeGeminiRequest_Deterministic(t *testing.T) {
	a, err := EncodeGeminiRequest([]string{"ctx <&>", "user text"})
	require.NoError(t, err)
	b, err := EncodeGeminiRequest([]string{"ctx <&>", "user text"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGemini_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("slow down"))
		}, func(t *testing.T, err error) {
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
			assert.Equal(t, "slow down", se.Body)
		}},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not-json"))
		}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNoContent)
		}},
		{"empty_candidates", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNoContent)
		}},
		{"missing_parts", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[{"content":{}}]}`))
		}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNoContent)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestGemini(t, tc.handler)
			_, err := c.Complete(context.Background(), &CompletionRequest{Parts: []string{"a", "b"}})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestGemini_TransportError(t *testing.T) {
	c, err := NewGeminiClient("key", Options{BaseURL: "http://example.invalid"})
	require.NoError(t, err)
	c.HTTPClient = &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}

	_, err = c.Complete(context.Background(), &CompletionRequest{Parts: []string{"a"}})
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
	assert.False(t, errors.Is(err, ErrNoContent))
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
