package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jwulff/dictapad/internal/db"
	"github.com/jwulff/dictapad/internal/notes"
	"github.com/jwulff/dictapad/internal/session"
	"github.com/jwulff/dictapad/internal/source"
	"github.com/jwulff/dictapad/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusNotes PanelFocus = iota
	FocusPad
)

const commandTimeout = 5 * time.Second

// DialFunc connects to a recognizer.
type DialFunc func(ctx context.Context) (source.Source, error)

// Options configures a Model.
type Options struct {
	Session *session.Session
	// Dial is nil when no recognizer is configured.
	Dial DialFunc
	// ArchivePath enables importing recorded sessions when set.
	ArchivePath string
	Logger      *slog.Logger
}

// Model is the root bubbletea model for the dictapad TUI.
type Model struct {
	sess *session.Session
	log  *slog.Logger

	// Connection state
	dial             DialFunc
	src              source.Source
	connected        bool
	connError        string
	reconnecting     bool
	reconnectAttempt int

	// Recording archive
	archivePath string
	store       *db.Store

	// UI state
	focusedPanel PanelFocus
	selected     int
	width        int
	height       int

	// Errors
	errorMessage   string
	errorTransient bool

	// Status
	statusText string
}

// New creates a new Model with default state.
func New(opts Options) Model {
	sess := opts.Session
	if sess == nil {
		sess = session.New()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	status := "No recognizer configured"
	if opts.Dial != nil {
		status = "Connecting to recognizer..."
	}
	return Model{
		sess:         sess,
		log:          log,
		dial:         opts.Dial,
		archivePath:  opts.ArchivePath,
		focusedPanel: FocusPad,
		statusText:   status,
	}
}

// Init connects to the recognizer and opens the recording archive.
func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.dial != nil {
		cmds = append(cmds, connectCmd(m.dial))
	}
	if m.archivePath != "" {
		cmds = append(cmds, openStoreCmd(m.archivePath))
	}
	return tea.Batch(cmds...)
}

// connectCmd dials the recognizer.
func connectCmd(dial DialFunc) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		src, err := dial(ctx)
		if err != nil {
			return SourceConnectErrorMsg{Err: err}
		}
		return SourceConnectedMsg{Source: src}
	}
}

// readEventCmd reads the next event from the source. Only one read is
// outstanding at a time, so events reach Update in arrival order.
func readEventCmd(src source.Source) tea.Cmd {
	return func() tea.Msg {
		ev, err := src.Next(context.Background())
		if err != nil {
			return SourceEventErrorMsg{Err: err}
		}
		return SourceEventMsg{Event: ev}
	}
}

// startCmd asks the source to start recognizing.
func startCmd(src source.Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return StartResultMsg{Err: src.Start(ctx)}
	}
}

// stopCmd asks the source to stop recognizing.
func stopCmd(src source.Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return StopResultMsg{Err: src.Stop(ctx)}
	}
}

// importCmd loads the latest recorded session from the archive.
func importCmd(store *db.Store) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		sess, batch, err := store.LatestTranscript(ctx)
		return ImportResultMsg{Session: sess, Batch: batch, Err: err}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

// openStoreCmd opens the SQLite archive.
func openStoreCmd(path string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		store, err := db.Open(ctx, path)
		if err != nil {
			return nil // the archive appears once the recognizer has recorded something
		}
		return storeOpenedMsg{store: store}
	}
}

type storeOpenedMsg struct{ store *db.Store }

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SourceConnectedMsg:
		m.src = msg.Source
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		m.log.Info("recognizer connected")
		return m, readEventCmd(m.src)

	case SourceConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "Recognizer not running. Reconnecting..."
		m.log.Warn("recognizer connect failed",
			slog.String("error", msg.Err.Error()),
			slog.Int("attempt", m.reconnectAttempt))
		return m, reconnectCmd(m.reconnectAttempt)

	case SourceEventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, readEventCmd(m.src))

	case SourceEventErrorMsg:
		if m.sess.Recording() {
			m.sess.Fail(msg.Err)
		}
		m.connected = false
		m.connError = msg.Err.Error()
		m.statusText = "Disconnected. Reconnecting..."
		m.reconnecting = true
		m.log.Warn("recognizer stream lost", slog.String("error", msg.Err.Error()))
		if m.src != nil {
			m.src.Close()
			m.src = nil
		}
		return m, reconnectCmd(m.reconnectAttempt)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		if m.dial == nil {
			return m, nil
		}
		return m, connectCmd(m.dial)

	case StartResultMsg:
		if msg.Err != nil {
			m.sess.Fail(msg.Err)
			m.statusText = "Idle"
			m.dropBrokenSource(msg.Err)
			return m, m.setError(msg.Err.Error(), true)
		}
		m.statusText = "Recording"
		return m, nil

	case StopResultMsg:
		m.sess.Stop()
		m.statusText = "Idle"
		if msg.Err != nil {
			m.dropBrokenSource(msg.Err)
			return m, m.setError(msg.Err.Error(), true)
		}
		return m, nil

	case ImportResultMsg:
		return m.handleImport(msg)

	case storeOpenedMsg:
		m.store = msg.store
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

// dropBrokenSource closes a source whose command connection is gone. The
// outstanding read then fails and SourceEventErrorMsg drives the reconnect.
func (m *Model) dropBrokenSource(err error) {
	if !errors.Is(err, source.ErrDisconnected) || m.src == nil {
		return
	}
	m.log.Warn("recognizer command connection lost", slog.String("error", err.Error()))
	m.connected = false
	m.statusText = "Disconnected. Reconnecting..."
	m.src.Close()
}

// handleEvent applies a source event to the session and returns any
// resulting command.
func (m *Model) handleEvent(ev source.Event) tea.Cmd {
	switch ev.Kind {
	case source.KindBatch:
		m.sess.Apply(ev.Batch)

	case source.KindStarted:
		// Recording may have been started outside this TUI.
		if !m.sess.Recording() {
			m.sess.Start(m.sess.Display())
		}
		m.statusText = "Recording"

	case source.KindStopped:
		if m.sess.Recording() {
			m.sess.Stop()
		}
		m.statusText = "Idle"

	case source.KindError:
		if ev.Transient {
			return m.setError(ev.Message, true)
		}
		m.sess.Fail(errors.New(ev.Message))
		m.statusText = "Idle"
		return m.setError(ev.Message, false)
	}

	return nil
}

func (m Model) handleImport(msg ImportResultMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Err != nil:
		m.log.Warn("import failed", slog.String("error", msg.Err.Error()))
		return m, m.setError(msg.Err.Error(), true)
	case msg.Session == nil:
		return m, m.setError("No recorded sessions", true)
	case len(msg.Batch) == 0:
		return m, m.setError("Latest session has no segments", true)
	}

	m.sess.Apply(msg.Batch)
	name := msg.Session.Title
	if name == "" {
		name = msg.Session.StartedAt.Format(notes.StampLayout)
	}
	m.statusText = fmt.Sprintf("Imported %d segments from %s", len(msg.Batch), name)
	m.log.Info("session imported",
		slog.String("session", msg.Session.ID),
		slog.Int("segments", len(msg.Batch)))
	return m, nil
}

// setError shows message in the error bar. Transient errors clear
// themselves.
func (m *Model) setError(message string, transient bool) tea.Cmd {
	m.errorMessage = message
	m.errorTransient = transient
	if transient {
		return clearTransientErrorCmd()
	}
	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.src != nil {
			m.src.Close()
		}
		if m.store != nil {
			m.store.Close()
		}
		return m, tea.Quit

	case KeySpace, KeySpaceName:
		if !m.connected || m.src == nil {
			return m, m.setError("Recognizer not connected", true)
		}
		if m.sess.Recording() {
			m.statusText = "Stopping..."
			return m, stopCmd(m.src)
		}
		m.sess.Start(m.sess.Display())
		m.errorMessage = ""
		m.statusText = "Starting..."
		return m, startCmd(m.src)

	case KeySave:
		n, err := m.sess.Save()
		if errors.Is(err, notes.ErrEmptyText) {
			return m, m.setError("Nothing to save", true)
		}
		if err != nil {
			return m, m.setError(err.Error(), true)
		}
		m.selected = 0
		m.statusText = "Saved note " + n.Stamp
		return m, nil

	case KeyClear:
		m.sess.Reset()
		m.statusText = "Pad cleared"
		return m, nil

	case KeyImport:
		if m.store == nil {
			return m, m.setError("No recording archive available", true)
		}
		m.statusText = "Importing latest session..."
		return m, importCmd(m.store)

	case KeyTab:
		if m.focusedPanel == FocusNotes {
			m.focusedPanel = FocusPad
		} else {
			m.focusedPanel = FocusNotes
		}
		return m, nil

	case KeyJ, KeyDown:
		if m.focusedPanel == FocusNotes && m.selected < m.sess.NoteCount()-1 {
			m.selected++
		}
		return m, nil

	case KeyK, KeyUp:
		if m.focusedPanel == FocusNotes && m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyDelete:
		if m.focusedPanel != FocusNotes {
			return m, nil
		}
		if err := m.sess.Delete(m.selected); err != nil {
			return m, m.setError(err.Error(), true)
		}
		if m.selected >= m.sess.NoteCount() {
			m.selected = max(0, m.sess.NoteCount()-1)
		}
		m.statusText = "Note deleted"
		return m, nil

	case KeyEnter:
		if m.focusedPanel != FocusNotes {
			return m, nil
		}
		if _, err := m.sess.SendToPad(m.selected); err != nil {
			return m, m.setError(err.Error(), true)
		}
		m.focusedPanel = FocusPad
		m.statusText = "Note sent to pad"
		return m, nil
	}

	return m, nil
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(1) + divider(1) + error(1) + footer(1) + padding
	reserved := 7
	return max(5, m.height-reserved)
}

func (m Model) notesPanelWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(20, m.width*30/100)
}

func (m Model) padPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.notesPanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string

	sections = append(sections, ui.TitleStyle.Render("DICTAPAD"))
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderStatusBar() string {
	var dot string
	if m.sess.Recording() {
		dot = ui.RecordingDotStyle.Render("● REC")
	} else {
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}
	return dot + "  " + ui.StatusStyle.Render(m.statusText)
}

func (m Model) renderMainContent() string {
	notesW := m.notesPanelWidth()
	padW := m.padPanelWidth()
	contentH := m.contentHeight()

	notesLines := strings.Split(m.renderNotesPanel(notesW, contentH), "\n")
	padLines := strings.Split(m.renderPadPanel(padW, contentH), "\n")

	divider := ui.DividerStyle.Render("│")

	var rows []string
	for i := 0; i < contentH; i++ {
		nl := strings.Repeat(" ", notesW)
		if i < len(notesLines) {
			nl = notesLines[i]
		}
		pl := ""
		if i < len(padLines) {
			pl = padLines[i]
		}
		rows = append(rows, nl+divider+pl)
	}

	return strings.Join(rows, "\n")
}

func (m Model) renderNotesPanel(width, height int) string {
	list := m.sess.Notes()

	title := fmt.Sprintf("NOTES (%d)", len(list))
	var header string
	if m.focusedPanel == FocusNotes {
		header = ui.PanelTitleActiveStyle.Render(title)
	} else {
		header = ui.PanelTitleStyle.Render(title)
	}

	lines := []string{header}

	if len(list) == 0 {
		lines = append(lines, ui.DimStyle.Render("  No notes yet..."))
		lines = append(lines, ui.DimStyle.Render("  Press s to save the pad"))
	} else {
		for i, n := range list {
			first, _, _ := strings.Cut(n.Text, "\n")
			stamp := ui.StampStyle.Render(n.Stamp)
			var line string
			if i == m.selected && m.focusedPanel == FocusNotes {
				line = ui.SelectedStyle.Render("> ") + stamp + " " + ui.SelectedStyle.Render(first)
			} else {
				line = "  " + stamp + " " + first
			}
			lines = append(lines, truncateToWidth(line, width))
		}
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderPadPanel(width, height int) string {
	var header string
	if m.focusedPanel == FocusPad {
		header = ui.PanelTitleActiveStyle.Render("PAD")
	} else {
		header = ui.PanelTitleStyle.Render("PAD")
	}
	if m.sess.Recording() {
		header += ui.LiveBadgeStyle.Render(" LIVE")
	}

	lines := []string{header}
	contentHeight := height - 1

	display := m.sess.Display()
	switch {
	case display != "":
		if m.sess.Recording() && display != m.sess.Text() {
			display += ui.PreviewStyle.Render("▌")
		}
		wrapped := wrapText(display, max(10, width-2))
		start := 0
		if len(wrapped) > contentHeight {
			start = len(wrapped) - contentHeight
		}
		for _, wl := range wrapped[start:] {
			lines = append(lines, "  "+wl)
		}
	case m.dial == nil:
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  No recognizer configured."))
		lines = append(lines, ui.DimStyle.Render("  Press l to import a recorded session"))
	case !m.connected && m.reconnecting:
		lines = append(lines, "")
		lines = append(lines, ui.ErrorTextStyle.Render("  Recognizer disconnected. Reconnecting..."))
	case !m.connected:
		lines = append(lines, ui.DimStyle.Render("  Connecting to recognizer..."))
	default:
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  Press Space to start dictating"))
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	key := func(k, desc string) {
		parts = append(parts, ui.FooterKeyStyle.Render(k)+ui.FooterDescStyle.Render(" "+desc))
	}

	if m.connected {
		if m.sess.Recording() {
			key("Space", "Stop")
		} else {
			key("Space", "Record")
		}
	}
	key("s", "Save")
	key("c", "Clear")
	if m.store != nil {
		key("l", "Import")
	}
	key("Tab", "Focus")
	if m.focusedPanel == FocusNotes {
		key("j/k", "Nav")
		key("Enter", "To pad")
		key("d", "Delete")
	}
	key("q", "Quit")

	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

// wrapText breaks text on spaces, keeping the pad's own line breaks.
func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if lipgloss.Width(current)+1+lipgloss.Width(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
