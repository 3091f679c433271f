package assistant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/listing-assistant/internal/memory"
	"github.com/capitalize-ai/listing-assistant/internal/model"
	"github.com/capitalize-ai/listing-assistant/internal/speech"
	"github.com/capitalize-ai/listing-assistant/pkg/logger"
)

type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeAsker struct {
	answer  string
	release chan struct{}
	log     *eventLog
}

func (a *fakeAsker) Ask(_ context.Context, text string) string {
	if a.log != nil {
		a.log.add("ask:" + text)
	}
	if a.release != nil {
		<-a.release
	}
	if a.log != nil {
		a.log.add("answered")
	}
	return a.answer
}

type fakeHost struct {
	log *eventLog

	mu      sync.Mutex
	filters []model.FilterCriteria
	targets []model.NavigationTarget
}

func (h *fakeHost) OnFilter(f model.FilterCriteria) {
	h.mu.Lock()
	h.filters = append(h.filters, f)
	h.mu.Unlock()
	if h.log != nil {
		h.log.add("filter")
	}
}

func (h *fakeHost) OnScrollTo(t model.NavigationTarget) {
	h.mu.Lock()
	h.targets = append(h.targets, t)
	h.mu.Unlock()
}

func (h *fakeHost) filterCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.filters)
}

type fakeSpeech struct {
	recognition bool
	synthesis   bool
	refuse      bool

	mu        sync.Mutex
	last      speech.Handle
	cbs       map[speech.Handle]speech.Callbacks
	stopped   []speech.Handle
	spoken    []string
	voiceIDs  []string
	stops     int
	voices    []speech.Voice
	listeners []func()
}

func newFakeSpeech(recognition, synthesis bool) *fakeSpeech {
	return &fakeSpeech{recognition: recognition, synthesis: synthesis, cbs: map[speech.Handle]speech.Callbacks{}}
}

func (f *fakeSpeech) RecognitionSupported() bool { return f.recognition }
func (f *fakeSpeech) SynthesisSupported() bool   { return f.synthesis }

func (f *fakeSpeech) StartListening(cb speech.Callbacks, _ string) speech.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recognition || f.refuse {
		return 0
	}
	f.last++
	f.cbs[f.last] = cb
	return f.last
}

func (f *fakeSpeech) StopListening(h speech.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h)
}

func (f *fakeSpeech) Speak(text string, voice *speech.Voice, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	id := ""
	if voice != nil {
		id = voice.ID
	}
	f.voiceIDs = append(f.voiceIDs, id)
}

func (f *fakeSpeech) StopSpeaking() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSpeech) Voices() []speech.Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]speech.Voice(nil), f.voices...)
}

func (f *fakeSpeech) OnVoicesChanged(fn func()) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeSpeech) setVoices(v []speech.Voice) {
	f.mu.Lock()
	f.voices = v
	listeners := append([]func(){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (f *fakeSpeech) callbacks(h speech.Handle) speech.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cbs[h]
}

func (f *fakeSpeech) spokenTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

func newTestController(t *testing.T, deps Deps) *Controller {
	t.Helper()
	if deps.SessionID == "" {
		deps.SessionID = "sess-1"
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Gateway == nil {
		deps.Gateway = &fakeAsker{answer: "ok"}
	}
	c := New(context.Background(), deps)
	t.Cleanup(c.Close)
	return c
}

func submit(t *testing.T, c *Controller, text string) model.Message {
	t.Helper()
	c.SetInput(text)
	msg, err := c.Submit(context.Background())
	require.NoError(t, err)
	return msg
}

func TestController_FilterFiresBeforeDelayedReply(t *testing.T) {
	log := &eventLog{}
	asker := &fakeAsker{answer: "Here are homes in Austin.", release: make(chan struct{}), log: log}
	host := &fakeHost{log: log}
	c := newTestController(t, Deps{Gateway: asker, Host: host})

	c.Expand()
	c.SetInput("Show me properties in Austin")

	type result struct {
		msg model.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := c.Submit(context.Background())
		done <- result{msg, err}
	}()

	require.Eventually(t, func() bool { return host.filterCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateAwaitingResponse, c.State())
	assert.Equal(t, "", c.Input())
	assert.Equal(t, []model.Message{model.UserMessage("Show me properties in Austin")}, c.Messages())

	close(asker.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, model.AssistantMessage("Here are homes in Austin."), res.msg)

	assert.Equal(t, []string{"filter", "ask:Show me properties in Austin", "answered"}, log.list())
	assert.Equal(t, []model.FilterCriteria{{Location: model.String("Austin")}}, host.filters)
	assert.Equal(t, []model.Message{
		model.UserMessage("Show me properties in Austin"),
		model.AssistantMessage("Here are homes in Austin."),
	}, c.Messages())
	assert.Equal(t, StateExpanded, c.State())
}

func TestController_SubmitGuards(t *testing.T) {
	asker := &fakeAsker{answer: "ok", release: make(chan struct{})}
	c := newTestController(t, Deps{Gateway: asker})

	c.SetInput("hello")
	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrCollapsed)
	assert.Equal(t, "hello", c.Input())

	c.Expand()
	c.SetInput("   ")
	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, c.Messages())

	c.SetInput("first")
	go func() { _, _ = c.Submit(context.Background()) }()
	require.Eventually(t, func() bool { return c.Snapshot().Pending }, time.Second, 5*time.Millisecond)

	c.SetInput("second")
	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, "second", c.Input())

	close(asker.release)
	require.Eventually(t, func() bool { return !c.Snapshot().Pending }, time.Second, 5*time.Millisecond)
	assert.Len(t, c.Messages(), 2)
}

func TestController_NavigationDirective(t *testing.T) {
	host := &fakeHost{}
	c := newTestController(t, Deps{Host: host})
	c.Expand()

	submit(t, c, "Scroll to listings")
	submit(t, c, "show filters under $700,000")

	assert.Equal(t, []model.NavigationTarget{model.NavigateListings, model.NavigateFilters}, host.targets)
	assert.Equal(t, []model.FilterCriteria{{MaxPrice: model.Int(700000)}}, host.filters)
}

func TestController_PopupWhenCollapsedDuringReply(t *testing.T) {
	asker := &fakeAsker{answer: "Done!", release: make(chan struct{})}
	c := newTestController(t, Deps{Gateway: asker, PopupDuration: 300 * time.Millisecond})
	c.Expand()
	c.SetInput("hello")

	done := make(chan struct{})
	go func() {
		_, _ = c.Submit(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Pending }, time.Second, 5*time.Millisecond)

	c.PointerOutside()
	assert.Equal(t, StateCollapsed, c.State())
	close(asker.release)
	<-done

	snap := c.Snapshot()
	assert.Equal(t, "Done!", snap.Popup)
	assert.Equal(t, StateCollapsed, snap.State)
	assert.Len(t, snap.Messages, 2)

	require.Eventually(t, func() bool { return c.Snapshot().Popup == "" }, time.Second, 5*time.Millisecond)
	assert.False(t, c.DismissPopup())
}

func TestController_DismissPopupOnce(t *testing.T) {
	asker := &fakeAsker{answer: "Reply", release: make(chan struct{})}
	c := newTestController(t, Deps{Gateway: asker, PopupDuration: time.Hour})
	c.Expand()
	c.SetInput("hello")

	done := make(chan struct{})
	go func() {
		_, _ = c.Submit(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Pending }, time.Second, 5*time.Millisecond)
	c.Collapse()
	close(asker.release)
	<-done

	events, cancel := c.Subscribe()
	defer cancel()

	assert.True(t, c.DismissPopup())
	assert.False(t, c.DismissPopup())
	assert.Equal(t, "", c.Snapshot().Popup)

	ev := <-events
	assert.Equal(t, model.EventTypePopup, ev.Type)
	assert.Empty(t, ev.Text)
	select {
	case extra := <-events:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestController_ExpandWhilePending(t *testing.T) {
	asker := &fakeAsker{answer: "x", release: make(chan struct{})}
	c := newTestController(t, Deps{Gateway: asker})
	c.Expand()
	c.SetInput("hello")
	go func() { _, _ = c.Submit(context.Background()) }()
	require.Eventually(t, func() bool { return c.Snapshot().Pending }, time.Second, 5*time.Millisecond)

	c.Collapse()
	c.Expand()
	assert.Equal(t, StateAwaitingResponse, c.State())

	close(asker.release)
	require.Eventually(t, func() bool { return c.State() == StateExpanded }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", c.Snapshot().Popup)
}

func TestController_PreferencesMergeAndRestore(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryBackend(), logger.NewNop())
	c := newTestController(t, Deps{Store: store})
	c.Expand()

	submit(t, c, "homes in Denver")
	submit(t, c, "anything under $500,000")
	submit(t, c, "what about in Miami")

	want := model.UserPreferences{Location: model.String("Miami"), Budget: model.Int(500000)}
	assert.Equal(t, want, c.Snapshot().Preferences)

	ctx := context.Background()
	assert.Equal(t, want, store.LoadPreferences(ctx))
	assert.Len(t, store.LoadChatHistory(ctx), 6)

	restored := newTestController(t, Deps{SessionID: "sess-2", Store: store})
	snap := restored.Snapshot()
	assert.Equal(t, want, snap.Preferences)
	assert.Equal(t, c.Messages(), snap.Messages)
	assert.Equal(t, StateCollapsed, snap.State)
}

func TestController_ResetMemory(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryBackend(), logger.NewNop())
	c := newTestController(t, Deps{Store: store})
	c.Expand()
	submit(t, c, "homes in Austin")

	require.NoError(t, c.ResetMemory(context.Background()))

	snap := c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Equal(t, model.UserPreferences{}, snap.Preferences)
	assert.Equal(t, []model.Message{}, store.LoadChatHistory(context.Background()))
}

func TestController_ListeningFinalTranscript(t *testing.T) {
	sp := newFakeSpeech(true, false)
	c := newTestController(t, Deps{Speech: sp})

	assert.ErrorIs(t, c.ToggleListening(), ErrCollapsed)
	c.Expand()
	c.SetInput("show me")
	require.NoError(t, c.ToggleListening())
	assert.Equal(t, StateListening, c.State())
	assert.True(t, c.Snapshot().Speech.Active)

	cb := sp.callbacks(1)
	cb.OnPartial("homes in")
	assert.Equal(t, "homes in", c.Snapshot().Speech.PartialTranscript)

	cb.OnFinal("homes in Austin")
	snap := c.Snapshot()
	assert.Equal(t, StateExpanded, snap.State)
	assert.Equal(t, "show me homes in Austin", snap.Input)
	assert.Equal(t, model.SpeechSession{}, snap.Speech)

	cb.OnError("late")
	assert.Empty(t, c.Snapshot().Notices)
}

func TestController_ListeningManualStop(t *testing.T) {
	sp := newFakeSpeech(true, false)
	c := newTestController(t, Deps{Speech: sp})
	c.Expand()

	require.NoError(t, c.ToggleListening())
	cb := sp.callbacks(1)
	cb.OnPartial("partial words")

	require.NoError(t, c.ToggleListening())
	assert.Equal(t, StateExpanded, c.State())
	assert.Equal(t, []speech.Handle{1}, sp.stopped)

	cb.OnFinal("partial words and more")
	snap := c.Snapshot()
	assert.Equal(t, "", snap.Input)
	assert.Equal(t, model.SpeechSession{}, snap.Speech)
}

func TestController_ListeningErrorAndCollapse(t *testing.T) {
	sp := newFakeSpeech(true, false)
	c := newTestController(t, Deps{Speech: sp})
	c.Expand()

	require.NoError(t, c.ToggleListening())
	sp.callbacks(1).OnError("microphone unavailable")
	snap := c.Snapshot()
	assert.Equal(t, StateExpanded, snap.State)
	assert.Equal(t, []string{voiceErrorPrefix + "microphone unavailable"}, snap.Notices)

	require.NoError(t, c.ToggleListening())
	assert.Empty(t, c.Snapshot().Notices)
	c.Collapse()
	assert.Equal(t, StateCollapsed, c.State())
	assert.Equal(t, []speech.Handle{2}, sp.stopped)
}

func TestController_VoiceUnsupported(t *testing.T) {
	c := newTestController(t, Deps{})
	c.Expand()

	require.NoError(t, c.ToggleListening())
	snap := c.Snapshot()
	assert.Equal(t, StateExpanded, snap.State)
	assert.Equal(t, []string{VoiceUnsupportedNotice}, snap.Notices)
	assert.False(t, snap.RecognitionSupported)

	refusing := newFakeSpeech(true, false)
	refusing.refuse = true
	c2 := newTestController(t, Deps{SessionID: "sess-2", Speech: refusing})
	c2.Expand()
	require.NoError(t, c2.ToggleListening())
	assert.Equal(t, StateExpanded, c2.State())
	assert.Equal(t, []string{VoiceUnsupportedNotice}, c2.Snapshot().Notices)
}

func TestController_SubmitStopsListening(t *testing.T) {
	sp := newFakeSpeech(true, false)
	c := newTestController(t, Deps{Speech: sp})
	c.Expand()
	require.NoError(t, c.ToggleListening())
	c.SetInput("typed anyway")

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []speech.Handle{1}, sp.stopped)
	assert.Equal(t, StateExpanded, c.State())
}

func TestController_SpeaksUnlessMuted(t *testing.T) {
	sp := newFakeSpeech(false, true)
	sp.voices = []speech.Voice{
		{ID: "fr", Name: "Amelie", Language: "fr-FR"},
		{ID: "us", Name: "Sam", Language: "en-US"},
	}
	c := newTestController(t, Deps{Speech: sp, Gateway: &fakeAsker{answer: "Spoken reply"}})
	c.Expand()
	assert.Equal(t, "us", c.Config().VoiceID)

	submit(t, c, "hello")
	assert.Equal(t, []string{"Spoken reply"}, sp.spokenTexts())
	assert.Equal(t, []string{"us"}, sp.voiceIDs)

	assert.True(t, c.ToggleMute())
	assert.Contains(t, c.Snapshot().Notices, MutedNotice)
	submit(t, c, "hello again")
	assert.Len(t, sp.spokenTexts(), 1)
	assert.Len(t, c.Messages(), 4)

	assert.False(t, c.ToggleMute())
	c.SetSpeechOutput(false)
	submit(t, c, "and again")
	assert.Len(t, sp.spokenTexts(), 1)
	assert.GreaterOrEqual(t, sp.stops, 2)
}

func TestController_VoiceSelection(t *testing.T) {
	sp := newFakeSpeech(false, true)
	c := newTestController(t, Deps{Speech: sp})
	assert.Equal(t, "", c.Config().VoiceID)

	sp.setVoices([]speech.Voice{
		{ID: "gb", Language: "en-GB"},
		{ID: "fr", Language: "fr-FR"},
	})
	assert.Equal(t, "gb", c.Config().VoiceID)

	c.SetLanguage("fr-FR")
	assert.Equal(t, "fr", c.Config().VoiceID)

	assert.False(t, c.HasVoice("missing"))
	assert.True(t, c.HasVoice("gb"))
	assert.ErrorIs(t, c.SelectVoice("missing"), ErrUnknownVoice)
	require.NoError(t, c.SelectVoice("gb"))
	c.SetLanguage("fr-CA")
	assert.Equal(t, "gb", c.Config().VoiceID)

	sp.setVoices([]speech.Voice{{ID: "ca", Language: "fr-CA"}})
	assert.Equal(t, "ca", c.Config().VoiceID)
}

func TestController_SubscribeAndClose(t *testing.T) {
	c := New(context.Background(), Deps{SessionID: "s", Logger: logger.NewNop(), Gateway: &fakeAsker{answer: "hi"}})
	events, _ := c.Subscribe()

	c.Expand()
	ev := <-events
	assert.Equal(t, model.EventTypeState, ev.Type)
	assert.Equal(t, string(StateExpanded), ev.State)
	assert.Equal(t, "s", ev.SessionID)

	c.Close()
	for range events {
	}
	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrCollapsed)

	late, _ := c.Subscribe()
	_, open := <-late
	assert.False(t, open)
}

type recordingJournal struct {
	mu     sync.Mutex
	events []model.Event
	// gate, when set, holds the first Record call until it is closed.
	gate chan struct{}
	once sync.Once
}

func (j *recordingJournal) Record(_ context.Context, ev model.Event) error {
	if j.gate != nil {
		j.once.Do(func() { <-j.gate })
	}
	j.mu.Lock()
	j.events = append(j.events, ev)
	j.mu.Unlock()
	return nil
}

func (j *recordingJournal) types() []model.EventType {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.EventType, 0, len(j.events))
	for _, ev := range j.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestController_JournalsMessagesAndDirectives(t *testing.T) {
	j := &recordingJournal{}
	c := newTestController(t, Deps{Journal: j})
	c.Expand()
	submit(t, c, "homes in Austin")

	require.Eventually(t, func() bool { return len(j.types()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.EventType{
		model.EventTypeMessage, model.EventTypeDirective, model.EventTypeMessage,
	}, j.types())
}

func TestController_JournalKeepsEmitOrderBehindSlowWrite(t *testing.T) {
	j := &recordingJournal{gate: make(chan struct{})}
	c := newTestController(t, Deps{Journal: j})
	c.Expand()
	submit(t, c, "show listings in Miami, under $500,000")
	require.NoError(t, c.ResetMemory(context.Background()))

	// Everything after the first event is queued while it is still being written.
	assert.Empty(t, j.types())
	close(j.gate)

	want := []model.EventType{
		model.EventTypeMessage,
		model.EventTypeDirective,
		model.EventTypeDirective,
		model.EventTypeMessage,
		model.EventTypeReset,
	}
	require.Eventually(t, func() bool { return len(j.types()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, j.types())

	j.mu.Lock()
	defer j.mu.Unlock()
	assert.Equal(t, model.SenderUser, j.events[0].Message.From)
	assert.Equal(t, model.SenderAssistant, j.events[3].Message.From)
}

func TestController_CloseStopsJournaling(t *testing.T) {
	j := &recordingJournal{}
	c := New(context.Background(), Deps{SessionID: "s", Logger: logger.NewNop(), Gateway: &fakeAsker{answer: "hi"}, Journal: j})
	c.Close()
	c.Close()

	c.emit(model.Event{Type: model.EventTypeNotice, Text: "late"})
	assert.Empty(t, j.types())
}
