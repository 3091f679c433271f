// Package gateway answers user questions through a remote language model
// constrained to the in-app listing dataset.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/internal/llm"
	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
	"github.com/capitalize-ai/listing-assistant/pkg/metrics"
	"github.com/capitalize-ai/listing-assistant/pkg/tracing"
)

// User-facing replies for every failure path.
const (
	NotConfiguredMessage = "The assistant is not configured yet. Set GEMINI_API_KEY (or the key of the selected LLM_PROVIDER) in the server environment and restart the server to enable answers."
	TransportMessage     = "Sorry, I couldn't reach the assistant service right now. Please try again in a moment."
	NoResponseMessage    = "Sorry, I didn't get a response. Please try rephrasing your question."
)

// StatusMessage is the reply for a remote answer with a non-success status.
func StatusMessage(code int) string {
	return fmt.Sprintf("Sorry, the assistant service returned an error (status %d). Please try again later.", code)
}

// ListingSource supplies the current in-app dataset.
type ListingSource interface {
	Listings() []model.Listing
}

// Gateway builds the bounded context prompt and forwards questions to the
// configured provider. It never returns an error to its caller.
type Gateway struct {
	client   llm.Client
	listings ListingSource
	timeout  time.Duration
	logger   *logger.Logger
	tracer   trace.Tracer
}

// New creates a gateway. A nil client means no credential is configured.
func New(client llm.Client, listings ListingSource, timeout time.Duration, log *logger.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		client:   client,
		listings: listings,
		timeout:  timeout,
		logger:   logger.OrGlobal(log),
		tracer:   tracing.Tracer("github.com/capitalize-ai/listing-assistant/internal/gateway"),
	}
}

// Configured reports whether a provider credential is present.
func (g *Gateway) Configured() bool {
	return g.client != nil
}

// BuildRequest returns the request sent for userText: the context prompt
// and the raw user text as two parts of one turn.
func (g *Gateway) BuildRequest(userText string) *llm.CompletionRequest {
	var listings []model.Listing
	if g.listings != nil {
		listings = g.listings.Listings()
	}
	return &llm.CompletionRequest{
		Parts: []string{BuildContext(listings), userText},
	}
}

// Ask returns the assistant reply for userText, or a displayable fallback.
func (g *Gateway) Ask(ctx context.Context, userText string) (answer string) {
	if g.client == nil {
		return NotConfiguredMessage
	}

	provider := g.client.Name()
	ctx, span := g.tracer.Start(ctx, "gateway.ask", trace.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.Int("user_text.length", len(userText)),
	))
	defer span.End()

	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("gateway provider panic", zap.Any("panic", r))
			outcome = "panic"
			answer = TransportMessage
		}
		metrics.RecordGateway(provider, outcome, time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Complete(ctx, g.BuildRequest(userText))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var statusErr *llm.StatusError
		switch {
		case errors.As(err, &statusErr):
			outcome = "status_error"
			g.logger.Warn("gateway remote status error",
				zap.String("provider", provider),
				zap.Int("status", statusErr.StatusCode),
			)
			return StatusMessage(statusErr.StatusCode)
		case errors.Is(err, llm.ErrNoContent):
			outcome = "no_content"
			g.logger.Warn("gateway response had no content", zap.String("provider", provider), zap.Error(err))
			return NoResponseMessage
		default:
			outcome = "transport_error"
			g.logger.Warn("gateway transport error", zap.String("provider", provider), zap.Error(err))
			return TransportMessage
		}
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		outcome = "no_content"
		return NoResponseMessage
	}

	metrics.RecordTokens(resp.Model, resp.TokensIn, resp.TokensOut)
	g.logger.Debug("gateway answered",
		zap.String("provider", provider),
		zap.String("model", resp.Model),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return text
}
