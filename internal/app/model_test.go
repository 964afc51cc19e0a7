package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwulff/dictapad/internal/db"
	"github.com/jwulff/dictapad/internal/session"
	"github.com/jwulff/dictapad/internal/source"
	"github.com/jwulff/dictapad/internal/transcript"
)

// fakeSource records commands and replays queued events.
type fakeSource struct {
	mu       sync.Mutex
	calls    []string
	startErr error
	events   chan source.Event
	closed   bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan source.Event, 16)}
}

func (f *fakeSource) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSource) Start(ctx context.Context) error {
	f.record("start")
	return f.startErr
}

func (f *fakeSource) Stop(ctx context.Context) error {
	f.record("stop")
	return nil
}

func (f *fakeSource) Next(ctx context.Context) (source.Event, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-ctx.Done():
		return source.Event{}, ctx.Err()
	}
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestModel() Model {
	log := quietLogger()
	m := New(Options{Session: session.New(session.WithLogger(log)), Logger: log})
	m.width = 80
	m.height = 24
	return m
}

// connectedModel returns a model already connected to a fake source.
func connectedModel(t *testing.T) (Model, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	m := newTestModel()
	m.dial = func(context.Context) (source.Source, error) { return src, nil }
	m, cmd := applyUpdate(m, SourceConnectedMsg{Source: src})
	if cmd == nil {
		t.Fatal("connecting should start reading events")
	}
	return m, src
}

func applyUpdate(m Model, msg tea.Msg) (Model, tea.Cmd) {
	newModel, cmd := m.Update(msg)
	return newModel.(Model), cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case KeyTab:
		return tea.KeyMsg{Type: tea.KeyTab}
	case KeyEnter:
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestNewModel(t *testing.T) {
	m := New(Options{})
	if m.connected {
		t.Error("new model should not be connected")
	}
	if m.sess.Recording() {
		t.Error("new model should not be recording")
	}
	if m.focusedPanel != FocusPad {
		t.Error("new model should focus the pad")
	}
	if m.statusText != "No recognizer configured" {
		t.Errorf("statusText = %q", m.statusText)
	}
}

func TestInitWithoutDialOrArchive(t *testing.T) {
	m := newTestModel()
	if cmd := m.Init(); cmd != nil {
		t.Error("Init with nothing configured should return no command")
	}
}

func TestConnectCmd(t *testing.T) {
	src := newFakeSource()
	msg := connectCmd(func(context.Context) (source.Source, error) { return src, nil })()
	connected, ok := msg.(SourceConnectedMsg)
	if !ok {
		t.Fatalf("msg = %T, want SourceConnectedMsg", msg)
	}
	if connected.Source != src {
		t.Error("connected source mismatch")
	}

	msg = connectCmd(func(context.Context) (source.Source, error) { return nil, errors.New("refused") })()
	if _, ok := msg.(SourceConnectErrorMsg); !ok {
		t.Fatalf("msg = %T, want SourceConnectErrorMsg", msg)
	}
}

func TestSourceConnectError(t *testing.T) {
	m := newTestModel()

	m, cmd := applyUpdate(m, SourceConnectErrorMsg{Err: fmt.Errorf("connection refused")})

	if m.connected {
		t.Error("should not be connected after error")
	}
	if !m.reconnecting {
		t.Error("should be reconnecting after connect error")
	}
	if cmd == nil {
		t.Error("should schedule a reconnect")
	}
}

func TestReadEventCmd(t *testing.T) {
	src := newFakeSource()
	src.events <- source.Event{Kind: source.KindStarted}

	msg := readEventCmd(src)()
	ev, ok := msg.(SourceEventMsg)
	if !ok {
		t.Fatalf("msg = %T, want SourceEventMsg", msg)
	}
	if ev.Event.Kind != source.KindStarted {
		t.Errorf("kind = %v, want started", ev.Event.Kind)
	}
}

func TestSpaceStartsAndSeedsFromDisplay(t *testing.T) {
	m, src := connectedModel(t)
	m.sess.Seed("typed by hand")

	m, cmd := applyUpdate(m, key(KeySpace))
	if !m.sess.Recording() {
		t.Fatal("space should start recording")
	}
	if got := m.sess.Text(); got != "Typed by hand" {
		t.Errorf("pad = %q, want %q", got, "Typed by hand")
	}
	if cmd == nil {
		t.Fatal("space should issue a start command")
	}

	m, _ = applyUpdate(m, cmd())
	if m.statusText != "Recording" {
		t.Errorf("statusText = %q, want Recording", m.statusText)
	}
	if len(src.calls) != 1 || src.calls[0] != "start" {
		t.Errorf("calls = %v, want [start]", src.calls)
	}
}

func TestStartFailure(t *testing.T) {
	m, src := connectedModel(t)
	src.startErr = errors.New("Microphone permission denied")

	m, cmd := applyUpdate(m, key(KeySpace))
	m, cmd = applyUpdate(m, cmd())

	if m.sess.Recording() {
		t.Error("failed start should leave the session idle")
	}
	if m.errorMessage != "Microphone permission denied" {
		t.Errorf("errorMessage = %q", m.errorMessage)
	}
	if cmd == nil {
		t.Error("start failure should schedule clearing the error")
	}
}

func TestSpaceStopsAndSettles(t *testing.T) {
	m, src := connectedModel(t)

	m, _ = applyUpdate(m, key(KeySpace))
	m.handleEvent(source.Event{Kind: source.KindBatch, Batch: []transcript.Fragment{
		{Text: "hello", IsFinal: true},
		{Text: "wor"},
	}})
	if got := m.sess.Display(); got != "Hello wor" {
		t.Errorf("display = %q, want %q", got, "Hello wor")
	}

	m, cmd := applyUpdate(m, key(KeySpace))
	if cmd == nil {
		t.Fatal("space while recording should issue a stop command")
	}
	m, _ = applyUpdate(m, cmd())

	if m.sess.Recording() {
		t.Error("should be idle after stop")
	}
	if got := m.sess.Display(); got != "Hello" {
		t.Errorf("display after stop = %q, want %q", got, "Hello")
	}
	if src.calls[len(src.calls)-1] != "stop" {
		t.Errorf("calls = %v, want stop last", src.calls)
	}
}

func TestStartOnLostConnectionReconnects(t *testing.T) {
	m, src := connectedModel(t)
	src.startErr = fmt.Errorf("start: %w", source.ErrDisconnected)

	m, cmd := applyUpdate(m, key(KeySpace))
	m, _ = applyUpdate(m, cmd())

	if m.sess.Recording() {
		t.Error("failed start should leave the session idle")
	}
	if !src.closed {
		t.Error("source with a lost command connection should be closed")
	}
	if m.connected {
		t.Error("should not report connected after losing the command connection")
	}

	// Closing the source ends the outstanding read.
	m, cmd = applyUpdate(m, SourceEventErrorMsg{Err: errors.New("read event: connection closed")})
	if !m.reconnecting || cmd == nil {
		t.Fatal("lost read should schedule a reconnect")
	}

	fresh := newFakeSource()
	m.dial = func(context.Context) (source.Source, error) { return fresh, nil }
	m, _ = applyUpdate(m, ReconnectTickMsg{})
	m, _ = applyUpdate(m, connectCmd(m.dial)())
	m, cmd = applyUpdate(m, key(KeySpace))
	m, _ = applyUpdate(m, cmd())

	if !m.sess.Recording() || m.statusText != "Recording" {
		t.Errorf("recording = %v, status = %q after reconnect", m.sess.Recording(), m.statusText)
	}
	if len(fresh.calls) != 1 || fresh.calls[0] != "start" {
		t.Errorf("calls = %v, want [start]", fresh.calls)
	}
}

func TestStartRejectedKeepsSource(t *testing.T) {
	m, src := connectedModel(t)
	src.startErr = errors.New("Microphone permission denied")

	m, cmd := applyUpdate(m, key(KeySpace))
	m, _ = applyUpdate(m, cmd())

	if src.closed || !m.connected {
		t.Error("a rejected command should not drop the source")
	}
}

func TestSpaceWithoutSource(t *testing.T) {
	m := newTestModel()

	m, cmd := applyUpdate(m, key(KeySpace))

	if m.sess.Recording() {
		t.Error("should not record without a source")
	}
	if m.errorMessage != "Recognizer not connected" {
		t.Errorf("errorMessage = %q", m.errorMessage)
	}
	if cmd == nil {
		t.Error("expected clear command for transient error")
	}
}

func TestStartedEventFromElsewhere(t *testing.T) {
	m, _ := connectedModel(t)
	m.sess.Seed("already here")

	m.handleEvent(source.Event{Kind: source.KindStarted})
	if !m.sess.Recording() {
		t.Fatal("started event should mark recording")
	}
	m.handleEvent(source.Event{Kind: source.KindBatch, Batch: []transcript.Fragment{{Text: "more", IsFinal: true}}})
	if got := m.sess.Text(); got != "Already here more" {
		t.Errorf("pad = %q", got)
	}

	m.handleEvent(source.Event{Kind: source.KindStopped})
	if m.sess.Recording() {
		t.Error("stopped event should end recording")
	}
}

func TestErrorEvents(t *testing.T) {
	m, _ := connectedModel(t)
	m, _ = applyUpdate(m, key(KeySpace))

	cmd := m.handleEvent(source.Event{Kind: source.KindError, Message: "no speech detected", Transient: true})
	if m.errorMessage != "no speech detected" {
		t.Errorf("errorMessage = %q", m.errorMessage)
	}
	if cmd == nil {
		t.Error("transient error should return a clear command")
	}
	if !m.sess.Recording() {
		t.Error("transient error should not end recording")
	}

	m.handleEvent(source.Event{Kind: source.KindBatch, Batch: []transcript.Fragment{
		{Text: "kept", IsFinal: true},
		{Text: "dropped"},
	}})
	cmd = m.handleEvent(source.Event{Kind: source.KindError, Message: "engine crashed"})
	if cmd != nil {
		t.Error("fatal error should stay on screen")
	}
	if m.sess.Recording() {
		t.Error("fatal error should end recording")
	}
	if got := m.sess.Display(); got != "Kept" {
		t.Errorf("display = %q, want committed text only", got)
	}
	if m.sess.LastError() != "engine crashed" {
		t.Errorf("LastError = %q", m.sess.LastError())
	}
}

func TestClearTransientError(t *testing.T) {
	m := newTestModel()
	m.setError("brief", true)

	m, _ = applyUpdate(m, ClearTransientErrorMsg{})
	if m.errorMessage != "" {
		t.Errorf("errorMessage = %q, want empty", m.errorMessage)
	}

	m.setError("sticky", false)
	m, _ = applyUpdate(m, ClearTransientErrorMsg{})
	if m.errorMessage != "sticky" {
		t.Errorf("non-transient error cleared: %q", m.errorMessage)
	}
}

func TestSourceEventErrorReconnects(t *testing.T) {
	m, src := connectedModel(t)
	m, _ = applyUpdate(m, key(KeySpace))

	m, cmd := applyUpdate(m, SourceEventErrorMsg{Err: errors.New("EOF")})

	if m.connected {
		t.Error("should be disconnected")
	}
	if !src.closed {
		t.Error("lost source should be closed")
	}
	if m.sess.Recording() {
		t.Error("lost source should end recording")
	}
	if cmd == nil {
		t.Fatal("should schedule a reconnect")
	}

	m, cmd = applyUpdate(m, ReconnectTickMsg{})
	if m.reconnectAttempt != 1 {
		t.Errorf("reconnectAttempt = %d, want 1", m.reconnectAttempt)
	}
	if cmd == nil {
		t.Fatal("tick should dial again")
	}
	m, _ = applyUpdate(m, cmd())
	if !m.connected || m.reconnectAttempt != 0 {
		t.Errorf("connected = %v attempt = %d", m.connected, m.reconnectAttempt)
	}
}

func TestSaveKey(t *testing.T) {
	m := newTestModel()

	m, cmd := applyUpdate(m, key(KeySave))
	if m.errorMessage != "Nothing to save" {
		t.Errorf("errorMessage = %q, want Nothing to save", m.errorMessage)
	}
	if cmd == nil {
		t.Error("empty save should schedule clearing the error")
	}

	m.sess.Seed("first note")
	m, _ = applyUpdate(m, key(KeySave))
	if m.sess.NoteCount() != 1 {
		t.Fatalf("notes = %d, want 1", m.sess.NoteCount())
	}
	if !strings.HasPrefix(m.statusText, "Saved note") {
		t.Errorf("statusText = %q", m.statusText)
	}
}

func TestNoteNavigationDeleteAndSend(t *testing.T) {
	m := newTestModel()
	for _, text := range []string{"a", "b", "c"} {
		if _, err := m.sess.SaveText(text); err != nil {
			t.Fatal(err)
		}
	}

	// j is ignored until the notes panel has focus.
	m, _ = applyUpdate(m, key(KeyJ))
	if m.selected != 0 {
		t.Errorf("selected = %d, want 0", m.selected)
	}

	m, _ = applyUpdate(m, key(KeyTab))
	if m.focusedPanel != FocusNotes {
		t.Fatal("tab should focus notes")
	}
	m, _ = applyUpdate(m, key(KeyJ))
	m, _ = applyUpdate(m, key(KeyJ))
	m, _ = applyUpdate(m, key(KeyJ))
	if m.selected != 2 {
		t.Errorf("selected = %d, want 2 (clamped)", m.selected)
	}
	m, _ = applyUpdate(m, key(KeyK))
	if m.selected != 1 {
		t.Errorf("selected = %d, want 1", m.selected)
	}

	// Deleting "b" keeps the order of the rest.
	m, _ = applyUpdate(m, key(KeyDelete))
	got := m.sess.Notes()
	if len(got) != 2 || got[0].Text != "c" || got[1].Text != "a" {
		t.Fatalf("notes = %+v", got)
	}

	m, _ = applyUpdate(m, key(KeyDelete))
	if m.selected != 0 {
		t.Errorf("selected = %d after deleting last, want 0", m.selected)
	}

	m, _ = applyUpdate(m, key(KeyEnter))
	if m.sess.Text() != "C" {
		t.Errorf("pad = %q, want %q", m.sess.Text(), "C")
	}
	if m.focusedPanel != FocusPad {
		t.Error("sending to pad should focus the pad")
	}
}

func TestDeleteStaleIndex(t *testing.T) {
	m := newTestModel()
	m.focusedPanel = FocusNotes

	m, _ = applyUpdate(m, key(KeyDelete))

	if !strings.Contains(m.errorMessage, "out of range") {
		t.Errorf("errorMessage = %q, want index error", m.errorMessage)
	}
}

func TestClearKey(t *testing.T) {
	m := newTestModel()
	m.sess.Seed("scratch")

	m, _ = applyUpdate(m, key(KeyClear))

	if m.sess.Display() != "" {
		t.Errorf("display = %q, want empty", m.sess.Display())
	}
}

func TestImportWithoutArchive(t *testing.T) {
	m := newTestModel()

	m, cmd := applyUpdate(m, key(KeyImport))

	if cmd == nil || m.errorMessage == "" {
		t.Error("import without an archive should report an error")
	}
}

func TestImportResult(t *testing.T) {
	m := newTestModel()
	m.sess.Seed("before")

	m, _ = applyUpdate(m, ImportResultMsg{
		Session: &db.Session{ID: "sess-1", Title: "Standup", StartedAt: time.Now()},
		Batch: []transcript.Fragment{
			{Text: "first point period", IsFinal: true, ResultIndex: 1},
			{Text: "second", IsFinal: true, ResultIndex: 2},
		},
	})

	if got := m.sess.Text(); got != "Before first point. Second" {
		t.Errorf("pad = %q", got)
	}
	if m.statusText != "Imported 2 segments from Standup" {
		t.Errorf("statusText = %q", m.statusText)
	}

	m, _ = applyUpdate(m, ImportResultMsg{})
	if m.errorMessage != "No recorded sessions" {
		t.Errorf("errorMessage = %q", m.errorMessage)
	}
}

func TestQuitClosesSource(t *testing.T) {
	m, src := connectedModel(t)

	_, cmd := applyUpdate(m, key(KeyQuit))

	if !src.closed {
		t.Error("quit should close the source")
	}
	if cmd == nil {
		t.Fatal("quit should return tea.Quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit command should produce QuitMsg")
	}
}

func TestViewRendersWithSize(t *testing.T) {
	m, _ := connectedModel(t)
	m.width = 160
	m.height = 40
	if _, err := m.sess.SaveText("remember the milk"); err != nil {
		t.Fatal(err)
	}
	m.sess.Seed("dictated words")

	view := m.View()
	for _, want := range []string{"DICTAPAD", "NOTES (1)", "remember the milk", "PAD", "Dictated words"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewWithoutSize(t *testing.T) {
	m := New(Options{})
	view := m.View()
	if view != "Initializing..." {
		t.Errorf("view without size = %q, want 'Initializing...'", view)
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three\nfour", 7)
	want := []string{"one two", "three", "four"}
	if len(got) != len(want) {
		t.Fatalf("wrapText = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}
