package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/internal/assistant"
	"github.com/capitalize-ai/listing-assistant/internal/middleware"
	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/internal/speech"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
)

// HistorySource replays journaled messages of a session.
type HistorySource interface {
	GetMessages(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error)
}

// AssistantHandler handles the assistant panel endpoints of the caller's
// session.
type AssistantHandler struct {
	registry *assistant.Registry
	history  HistorySource
	logger   *logger.Logger
}

// NewAssistantHandler creates an assistant handler. history may be nil.
func NewAssistantHandler(registry *assistant.Registry, history HistorySource, log *logger.Logger) *AssistantHandler {
	return &AssistantHandler{
		registry: registry,
		history:  history,
		logger:   logger.OrGlobal(log),
	}
}

func (h *AssistantHandler) controller(r *http.Request) *assistant.Controller {
	return h.registry.Get(r.Context(), middleware.GetSessionID(r.Context()))
}

// SendMessageRequest is the body of POST /messages. An empty content
// submits whatever is in the input buffer.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse carries the reply and the page the assistant left
// the user on.
type SendMessageResponse struct {
	Reply model.Message   `json:"reply"`
	State assistant.State `json:"state"`
	View  *View           `json:"view,omitempty"`
}

// InputRequest is the body of PUT /input.
type InputRequest struct {
	Text string `json:"text"`
}

// SettingsRequest is the body of PUT /settings. Absent fields are left
// unchanged.
type SettingsRequest struct {
	Muted        *bool   `json:"muted,omitempty"`
	SpeechOutput *bool   `json:"speech_output,omitempty"`
	VoiceID      *string `json:"voice_id,omitempty"`
	Language     *string `json:"language,omitempty"`
}

// VoicesResponse lists the available voices and the selected one.
type VoicesResponse struct {
	Voices   []speech.Voice `json:"voices"`
	Selected string         `json:"selected,omitempty"`
}

// HistoryResponse is one page of journaled messages.
type HistoryResponse struct {
	Messages     []model.Message `json:"messages"`
	LastSequence uint64          `json:"last_sequence"`
	HasMore      bool            `json:"has_more"`
}

// Snapshot handles GET /api/v1/assistant
func (h *AssistantHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller(r).Snapshot())
}

// Expand handles POST /api/v1/assistant/expand
func (h *AssistantHandler) Expand(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	ctrl.Expand()
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// Collapse handles POST /api/v1/assistant/collapse
func (h *AssistantHandler) Collapse(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	ctrl.Collapse()
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// PointerOutside handles POST /api/v1/assistant/pointer-outside
func (h *AssistantHandler) PointerOutside(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	ctrl.PointerOutside()
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// SetInput handles PUT /api/v1/assistant/input
func (h *AssistantHandler) SetInput(w http.ResponseWriter, r *http.Request) {
	var req InputRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl := h.controller(r)
	ctrl.SetInput(req.Text)
	writeJSON(w, http.StatusOK, map[string]string{"input": ctrl.Input()})
}

// SendMessage handles POST /api/v1/assistant/messages
func (h *AssistantHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl := h.controller(r)
	if strings.TrimSpace(req.Content) != "" {
		ctrl.SetInput(req.Content)
	}

	reply, err := ctrl.Submit(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}

	resp := SendMessageResponse{Reply: reply, State: ctrl.State()}
	if host, ok := ctrl.Host().(*SessionHost); ok {
		view := host.View()
		resp.View = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

// ToggleListening handles POST /api/v1/assistant/listen
func (h *AssistantHandler) ToggleListening(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	if err := ctrl.ToggleListening(); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

// DismissPopup handles POST /api/v1/assistant/popup/dismiss
func (h *AssistantHandler) DismissPopup(w http.ResponseWriter, r *http.Request) {
	dismissed := h.controller(r).DismissPopup()
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": dismissed})
}

// UpdateSettings handles PUT /api/v1/assistant/settings
func (h *AssistantHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Language != nil {
		if err := middleware.ValidateLanguage(*req.Language); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.VoiceID != nil {
		if err := middleware.ValidateVoiceID(*req.VoiceID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctrl := h.controller(r)
	// Resolve the voice before applying anything so a rejected request
	// leaves every setting untouched.
	if req.VoiceID != nil && !ctrl.HasVoice(*req.VoiceID) {
		writeControllerError(w, assistant.ErrUnknownVoice)
		return
	}
	if req.Language != nil {
		ctrl.SetLanguage(*req.Language)
	}
	if req.VoiceID != nil {
		if err := ctrl.SelectVoice(*req.VoiceID); err != nil {
			writeControllerError(w, err)
			return
		}
	}
	if req.SpeechOutput != nil {
		ctrl.SetSpeechOutput(*req.SpeechOutput)
	}
	if req.Muted != nil && *req.Muted != ctrl.Config().Muted {
		ctrl.ToggleMute()
	}

	writeJSON(w, http.StatusOK, ctrl.Config())
}

// Voices handles GET /api/v1/assistant/voices
func (h *AssistantHandler) Voices(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	writeJSON(w, http.StatusOK, VoicesResponse{
		Voices:   ctrl.Voices(),
		Selected: ctrl.Config().VoiceID,
	})
}

// ResetMemory handles DELETE /api/v1/assistant/memory
func (h *AssistantHandler) ResetMemory(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	if err := ctrl.ResetMemory(r.Context()); err != nil {
		h.logger.Error("failed to reset memory", zap.String("session_id", ctrl.ID()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset memory")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/v1/assistant/history
// Supports ?after_sequence=N&limit=M for paging through the journal.
func (h *AssistantHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history journal is not enabled")
		return
	}

	afterSequence := uint64(0)
	limit := 50

	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	sessionID := middleware.GetSessionID(r.Context())
	msgs, last, more, err := h.history.GetMessages(r.Context(), sessionID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to read history", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Messages:     msgs,
		LastSequence: last,
		HasMore:      more,
	})
}
