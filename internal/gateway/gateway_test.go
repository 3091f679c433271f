package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/listing-assistant/internal/llm"
	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
)

type staticListings []model.Listing

func (s staticListings) Listings() []model.Listing { return s }

var testHome = staticListings{{
	ID:       "t-1",
	Title:    "Test Home",
	Beds:     3,
	Baths:    2,
	Price:    1250000,
	Location: "Austin, TX",
}}

type fakeClient struct {
	resp  *llm.CompletionResponse
	err   error
	panic bool
	got   *llm.CompletionRequest
}

func (f *fakeClient) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.got = req
	if f.panic {
		panic("boom")
	}
	return f.resp, f.err
}

func (f *fakeClient) Name() string     { return "fake" }
func (f *fakeClient) Models() []string { return []string{"fake-1"} }

func TestBuildContext_ContainsListingAndRefusal(t *testing.T) {
	ctx := BuildContext(testHome)

	assert.Contains(t, ctx, "Test Home")
	assert.Contains(t, ctx, "$1,250,000")
	assert.Contains(t, ctx, "Austin, TX")
	assert.Contains(t, ctx, RefusalSentence)
	assert.Equal(t, ctx, BuildContext(testHome))
}

func TestBuildContext_NoListings(t *testing.T) {
	assert.Contains(t, BuildContext(nil), "(no listings available)")
}

func TestAsk_NotConfigured(t *testing.T) {
	g := New(nil, testHome, 0, logger.NewNop())

	assert.False(t, g.Configured())
	answer := g.Ask(context.Background(), "hi")
	assert.Equal(t, NotConfiguredMessage, answer)
	assert.Contains(t, answer, "GEMINI_API_KEY")
}

func TestAsk_SendsContextThenUserText(t *testing.T) {
	fc := &fakeClient{resp: &llm.CompletionResponse{Content: "  Sure.  ", Model: "fake-1"}}
	g := New(fc, testHome, 0, logger.NewNop())

	assert.Equal(t, "Sure.", g.Ask(context.Background(), "What is the price of Test Home?"))
	require.NotNil(t, fc.got)
	require.Len(t, fc.got.Parts, 2)
	assert.Equal(t, BuildContext(testHome), fc.got.Parts[0])
	assert.Equal(t, "What is the price of Test Home?", fc.got.Parts[1])
}

func TestAsk_IdenticalBodiesOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	client, err := llm.NewGeminiClient("key", llm.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	g := New(client, testHome, 0, logger.NewNop())

	assert.Equal(t, "ok", g.Ask(context.Background(), "Tell me about Test Home"))
	assert.Equal(t, "ok", g.Ask(context.Background(), "Tell me about Test Home"))

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
	assert.True(t, strings.Contains(bodies[0], "Test Home"))
}

func TestAsk_FailuresNeverSurface(t *testing.T) {
	cases := []struct {
		name   string
		client *fakeClient
		want   string
	}{
		{"status", &fakeClient{err: &llm.StatusError{Provider: "fake", StatusCode: 500}}, StatusMessage(500)},
		{"wrapped_status", &fakeClient{err: errors.Join(errors.New("x"), &llm.StatusError{StatusCode: 403})}, StatusMessage(403)},
		{"no_content", &fakeClient{err: llm.ErrNoContent}, NoResponseMessage},
		{"blank_text", &fakeClient{resp: &llm.CompletionResponse{Content: "   "}}, NoResponseMessage},
		{"transport", &fakeClient{err: errors.New("dial tcp: connection refused")}, TransportMessage},
		{"deadline", &fakeClient{err: context.DeadlineExceeded}, TransportMessage},
		{"panic", &fakeClient{panic: true}, TransportMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New(tc.client, testHome, 0, logger.NewNop())
			assert.Equal(t, tc.want, g.Ask(context.Background(), "question"))
		})
	}
}

func TestStatusMessage_EmbedsCode(t *testing.T) {
	assert.Contains(t, StatusMessage(429), "429")
}
