// Package assistant implements the per-session assistant controller: the
// state machine that sequences the command parser, the query gateway,
// persistence and speech output for one browser session.
package assistant

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/internal/command"
	"github.com/capitalize-ai/listing-assistant/internal/gateway"
	"github.com/capitalize-ai/listing-assistant/internal/memory"
	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/internal/speech"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
	"github.com/capitalize-ai/listing-assistant/pkg/metrics"
)

// State is the visible state of the assistant panel.
type State string

const (
	StateCollapsed        State = "collapsed"
	StateExpanded         State = "expanded"
	StateListening        State = "listening"
	StateAwaitingResponse State = "awaiting_response"
)

var (
	ErrEmptyInput   = errors.New("assistant: input is empty")
	ErrBusy         = errors.New("assistant: a response is already pending")
	ErrCollapsed    = errors.New("assistant: panel is collapsed")
	ErrUnknownVoice = errors.New("assistant: unknown voice")
)

// Inline notices.
const (
	VoiceUnsupportedNotice = "Voice input is not supported here. Please type your question instead."
	MutedNotice            = "Voice replies are muted."
	voiceErrorPrefix       = "Voice input stopped: "
)

// DefaultPopupDuration is how long a reply popup stays up when the panel
// is collapsed.
const DefaultPopupDuration = 5 * time.Second

// Asker answers a user question. Implementations never fail; every outcome
// is a displayable string.
type Asker interface {
	Ask(ctx context.Context, userText string) string
}

// Host receives UI side effects derived from utterances.
type Host interface {
	OnFilter(criteria model.FilterCriteria)
	OnScrollTo(target model.NavigationTarget)
}

// Journal records session events outside the process.
type Journal interface {
	Record(ctx context.Context, ev model.Event) error
}

// Deps are the collaborators of a Controller. Only SessionID is required.
type Deps struct {
	SessionID     string
	Gateway       Asker
	Store         *memory.Store
	Speech        speech.Adapter
	Host          Host
	Journal       Journal
	Logger        *logger.Logger
	PopupDuration time.Duration
	Language      string
}

// Snapshot is a copy of the observable controller state.
type Snapshot struct {
	SessionID            string                       `json:"session_id"`
	State                State                        `json:"state"`
	Pending              bool                         `json:"pending"`
	Input                string                       `json:"input"`
	Messages             []model.Message              `json:"messages"`
	Preferences          model.UserPreferences        `json:"preferences"`
	Speech               model.SpeechSession          `json:"speech"`
	Config               model.AssistantConfiguration `json:"config"`
	Popup                string                       `json:"popup,omitempty"`
	Notices              []string                     `json:"notices"`
	RecognitionSupported bool                         `json:"recognition_supported"`
	SynthesisSupported   bool                         `json:"synthesis_supported"`
}

// Controller owns the conversation state of one session. All methods are
// safe for concurrent use; collaborators are always called without the
// controller lock held.
type Controller struct {
	id            string
	gateway       Asker
	store         *memory.Store
	speech        speech.Adapter
	host          Host
	journal       Journal
	logger        *logger.Logger
	popupDuration time.Duration

	mu            sync.Mutex
	state         State
	pending       bool
	input         string
	messages      []model.Message
	prefs         model.UserPreferences
	session       model.SpeechSession
	listenSeq     uint64
	handle        speech.Handle
	config        model.AssistantConfiguration
	voiceExplicit bool
	notice        string
	popup         string
	popupSeq      uint64
	popupTimer    *time.Timer
	subscribers   map[int]chan model.Event
	nextSub       int
	journalQ      chan model.Event
	closed        bool

	cancelVoices func()
}

// New creates a controller and restores persisted history and preferences.
func New(ctx context.Context, deps Deps) *Controller {
	log := logger.OrGlobal(deps.Logger).WithSession(deps.SessionID)

	c := &Controller{
		id:            deps.SessionID,
		gateway:       deps.Gateway,
		store:         deps.Store,
		speech:        deps.Speech,
		host:          deps.Host,
		journal:       deps.Journal,
		logger:        log,
		popupDuration: deps.PopupDuration,
		state:         StateCollapsed,
		subscribers:   make(map[int]chan model.Event),
		config: model.AssistantConfiguration{
			SpeechOutputEnabled: true,
			Language:            deps.Language,
		},
	}
	if c.gateway == nil {
		c.gateway = gateway.New(nil, nil, 0, log)
	}
	if c.store == nil {
		c.store = memory.NewStore(nil, log)
	}
	if c.speech == nil {
		c.speech = speech.Unsupported()
	}
	if c.popupDuration <= 0 {
		c.popupDuration = DefaultPopupDuration
	}
	if c.config.Language == "" {
		c.config.Language = model.DefaultLanguage
	}

	if c.journal != nil {
		c.journalQ = make(chan model.Event, journalBuffer)
		go c.runJournal(c.journalQ)
	}

	c.messages = c.store.LoadChatHistory(ctx)
	c.prefs = c.store.LoadPreferences(ctx)

	c.cancelVoices = c.speech.OnVoicesChanged(c.voicesChanged)
	c.voicesChanged()

	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Speech returns the speech adapter the controller drives.
func (c *Controller) Speech() speech.Adapter { return c.speech }

// Host returns the host the controller reports directives to. It may be nil.
func (c *Controller) Host() Host { return c.host }

// Expand opens the panel.
func (c *Controller) Expand() {
	c.mu.Lock()
	if c.state != StateCollapsed {
		c.mu.Unlock()
		return
	}
	if c.pending {
		c.state = StateAwaitingResponse
	} else {
		c.state = StateExpanded
	}
	hadPopup := c.clearPopupLocked()
	state := c.state
	c.mu.Unlock()

	if hadPopup {
		c.emit(model.Event{Type: model.EventTypePopup})
	}
	c.emitState(state)
}

// Collapse closes the panel. An active listening session is stopped; a
// pending reply keeps running.
func (c *Controller) Collapse() {
	c.mu.Lock()
	if c.state == StateCollapsed {
		c.mu.Unlock()
		return
	}
	handle := c.endListeningLocked()
	c.state = StateCollapsed
	c.mu.Unlock()

	if handle != 0 {
		c.speech.StopListening(handle)
	}
	c.emitState(StateCollapsed)
}

// PointerOutside handles a pointer interaction outside the expanded panel.
func (c *Controller) PointerOutside() {
	c.Collapse()
}

// SetInput replaces the input buffer.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

// Input returns the input buffer.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Submit sends the input buffer. The local phase (buffer cleared, user
// message appended, parser side effects fired) completes before the
// gateway is called; the gateway call ignores cancellation of ctx so its
// reply is always appended.
func (c *Controller) Submit(ctx context.Context) (model.Message, error) {
	c.mu.Lock()
	text := strings.TrimSpace(c.input)
	switch {
	case c.closed || c.state == StateCollapsed:
		c.mu.Unlock()
		return model.Message{}, ErrCollapsed
	case c.pending:
		c.mu.Unlock()
		return model.Message{}, ErrBusy
	case text == "":
		c.mu.Unlock()
		return model.Message{}, ErrEmptyInput
	}

	handle := c.endListeningLocked()
	c.input = ""
	userMsg := model.UserMessage(text)
	c.messages = append(c.messages, userMsg)
	result := command.Parse(text)
	if result.HasFilter() {
		c.prefs = c.prefs.Merge(result.Filter)
	}
	c.pending = true
	c.state = StateAwaitingResponse
	history := slices.Clone(c.messages)
	prefs := c.prefs
	c.mu.Unlock()

	if handle != 0 {
		c.speech.StopListening(handle)
	}

	bg := context.WithoutCancel(ctx)
	metrics.MessagesTotal.WithLabelValues(string(model.SenderUser)).Inc()
	c.persist(bg, history, &prefs)
	c.emit(model.Event{Type: model.EventTypeMessage, Message: &userMsg})
	c.emitState(StateAwaitingResponse)
	c.applyDirectives(result)

	answer := c.gateway.Ask(bg, text)
	reply := model.AssistantMessage(answer)

	c.mu.Lock()
	c.messages = append(c.messages, reply)
	c.pending = false
	var popup bool
	switch c.state {
	case StateAwaitingResponse:
		c.state = StateExpanded
	case StateCollapsed:
		popup = !c.closed
		if popup {
			c.showPopupLocked(answer)
		}
	}
	state := c.state
	history = slices.Clone(c.messages)
	speak := !c.config.Muted && c.config.SpeechOutputEnabled && c.speech.SynthesisSupported()
	voice := c.currentVoiceLocked()
	language := c.config.Language
	c.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(model.SenderAssistant)).Inc()
	c.persist(bg, history, nil)
	c.emit(model.Event{Type: model.EventTypeMessage, Message: &reply})
	if popup {
		c.emit(model.Event{Type: model.EventTypePopup, Text: answer})
	}
	c.emitState(state)
	if speak {
		c.speech.Speak(answer, voice, language)
	}

	return reply, nil
}

func (c *Controller) applyDirectives(result command.Result) {
	if result.HasFilter() {
		filter := result.Filter
		if c.host != nil {
			c.host.OnFilter(filter)
		}
		c.emit(model.Event{Type: model.EventTypeDirective, Directive: &model.Directive{Filter: &filter}})
	}
	if result.Navigation != nil {
		target := *result.Navigation
		if c.host != nil {
			c.host.OnScrollTo(target)
		}
		c.emit(model.Event{Type: model.EventTypeDirective, Directive: &model.Directive{Navigation: &target}})
	}
}

func (c *Controller) persist(ctx context.Context, history []model.Message, prefs *model.UserPreferences) {
	if err := c.store.SaveChatHistory(ctx, history); err != nil {
		c.logger.Warn("failed to persist chat history", zap.Error(err))
	}
	if prefs == nil {
		return
	}
	if err := c.store.SavePreferences(ctx, *prefs); err != nil {
		c.logger.Warn("failed to persist preferences", zap.Error(err))
	}
}

// ResetMemory clears persisted and in-memory history and preferences.
func (c *Controller) ResetMemory(ctx context.Context) error {
	c.mu.Lock()
	c.messages = []model.Message{}
	c.prefs = model.UserPreferences{}
	c.mu.Unlock()

	err := c.store.ResetMemory(ctx)
	c.emit(model.Event{Type: model.EventTypeReset})
	return err
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := slices.Clone(c.messages)
	if messages == nil {
		messages = []model.Message{}
	}
	notices := []string{}
	if c.notice != "" {
		notices = append(notices, c.notice)
	}
	if c.config.Muted {
		notices = append(notices, MutedNotice)
	}
	return Snapshot{
		SessionID:            c.id,
		State:                c.state,
		Pending:              c.pending,
		Input:                c.input,
		Messages:             messages,
		Preferences:          c.prefs,
		Speech:               c.session,
		Config:               c.config,
		Popup:                c.popup,
		Notices:              notices,
		RecognitionSupported: c.speech.RecognitionSupported(),
		SynthesisSupported:   c.speech.SynthesisSupported(),
	}
}

// State returns the visible state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the message list.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Close releases timers, listening and speech, and ends all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	handle := c.endListeningLocked()
	c.clearPopupLocked()
	subs := c.subscribers
	c.subscribers = make(map[int]chan model.Event)
	if c.journalQ != nil {
		close(c.journalQ)
	}
	c.mu.Unlock()

	if handle != 0 {
		c.speech.StopListening(handle)
	}
	c.speech.StopSpeaking()
	if c.cancelVoices != nil {
		c.cancelVoices()
	}
	for _, ch := range subs {
		close(ch)
	}
}

func (c *Controller) showPopupLocked(text string) {
	if c.popupTimer != nil {
		c.popupTimer.Stop()
	}
	c.popup = text
	c.popupSeq++
	seq := c.popupSeq
	c.popupTimer = time.AfterFunc(c.popupDuration, func() { c.expirePopup(seq) })
}

func (c *Controller) clearPopupLocked() bool {
	if c.popupTimer != nil {
		c.popupTimer.Stop()
		c.popupTimer = nil
	}
	c.popupSeq++
	had := c.popup != ""
	c.popup = ""
	return had
}

func (c *Controller) expirePopup(seq uint64) {
	c.mu.Lock()
	if seq != c.popupSeq || c.popup == "" {
		c.mu.Unlock()
		return
	}
	c.popup = ""
	c.popupTimer = nil
	c.mu.Unlock()

	c.emit(model.Event{Type: model.EventTypePopup})
}

// DismissPopup hides the reply popup. It reports whether one was visible.
func (c *Controller) DismissPopup() bool {
	c.mu.Lock()
	had := c.clearPopupLocked()
	c.mu.Unlock()

	if had {
		c.emit(model.Event{Type: model.EventTypePopup})
	}
	return had
}
