package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// GeminiClient calls the generateContent endpoint directly over HTTP.
type GeminiClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

// GeminiRequest is the wire body of a generateContent call.
type GeminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
	FinishReason string `json:"finishReason"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey string, opts Options) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GeminiClient{
		HTTPClient: &http.Client{Timeout: timeout},
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Model:      model,
	}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Models returns available models.
func (c *GeminiClient) Models() []string {
	return []string{
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-1.5-flash",
		"gemini-1.5-pro",
	}
}

// EncodeGeminiRequest renders the request body for parts. The encoding is
// deterministic: identical parts always produce identical bytes.
func EncodeGeminiRequest(parts []string) ([]byte, error) {
	content := geminiContent{Parts: make([]geminiPart, len(parts))}
	for i, p := range parts {
		content.Parts[i] = geminiPart{Text: p}
	}
	return json.Marshal(GeminiRequest{Contents: []geminiContent{content}})
}

// Complete sends a completion request.
func (c *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.Model
	}

	body, err := EncodeGeminiRequest(req.Parts)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Provider: "gemini", StatusCode: resp.StatusCode, Body: string(b)}
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrNoContent, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, ErrNoContent
	}

	text := strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return nil, ErrNoContent
	}

	if gr.ModelVersion != "" {
		model = gr.ModelVersion
	}

	return &CompletionResponse{
		Content:    text,
		Model:      model,
		TokensIn:   gr.UsageMetadata.PromptTokenCount,
		TokensOut:  gr.UsageMetadata.CandidatesTokenCount,
		StopReason: gr.Candidates[0].FinishReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
