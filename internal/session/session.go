// Package session owns the pad transcript and the saved notes for one run of
// the program and serializes every operation on them.
package session

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jwulff/dictapad/internal/notes"
	"github.com/jwulff/dictapad/internal/transcript"
)

const meterName = "github.com/jwulff/dictapad/internal/session"

// Session is safe for concurrent use. Batches must still be applied in the
// order the recognizer produced them.
type Session struct {
	mu        sync.Mutex
	acc       *transcript.Accumulator
	notes     *notes.Store
	display   string
	recording bool
	lastErr   string

	log     *slog.Logger
	meters  metric.MeterProvider
	metrics instruments
}

type instruments struct {
	fragments metric.Int64Counter
	saved     metric.Int64Counter
	deleted   metric.Int64Counter
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMeterProvider sets where counters are recorded. Defaults to the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Session) { s.meters = mp }
}

// WithNotes replaces the note store.
func WithNotes(store *notes.Store) Option {
	return func(s *Session) { s.notes = store }
}

// New returns an idle session with an empty pad and no notes.
func New(opts ...Option) *Session {
	s := &Session{
		acc:   transcript.New(),
		notes: notes.NewStore(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meters == nil {
		s.meters = otel.GetMeterProvider()
	}
	s.metrics = newInstruments(s.meters.Meter(meterName), s.log)
	return s
}

func newInstruments(meter metric.Meter, log *slog.Logger) instruments {
	var in instruments
	var err error
	if in.fragments, err = meter.Int64Counter("dictapad.fragments",
		metric.WithDescription("Recognizer fragments applied to the pad")); err != nil {
		log.Warn("create fragments counter", slog.String("error", err.Error()))
	}
	if in.saved, err = meter.Int64Counter("dictapad.notes.saved",
		metric.WithDescription("Notes saved")); err != nil {
		log.Warn("create notes saved counter", slog.String("error", err.Error()))
	}
	if in.deleted, err = meter.Int64Counter("dictapad.notes.deleted",
		metric.WithDescription("Notes deleted")); err != nil {
		log.Warn("create notes deleted counter", slog.String("error", err.Error()))
	}
	return in
}

func add(c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil || n == 0 {
		return
	}
	c.Add(context.Background(), n, metric.WithAttributes(attrs...))
}

// Start seeds the pad with the text currently shown to the user and marks
// the session as recording.
func (s *Session) Start(padText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acc.Seed(padText)
	s.display = s.acc.Text()
	s.recording = true
	s.lastErr = ""
	s.log.Info("recording started", slog.Int("pad_len", len(s.display)))
}

// Stop settles the transcript, drops any pending preview and returns the
// final pad text.
func (s *Session) Stop() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := s.acc.Settle()
	s.display = text
	if s.recording {
		s.log.Info("recording stopped", slog.Int("pad_len", len(text)))
	}
	s.recording = false
	return text
}

// Fail records a recognizer error. The committed pad is left as is and the
// uncommitted preview is dropped.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.display = s.acc.Text()
	s.recording = false
	if err != nil {
		s.lastErr = err.Error()
		s.log.Warn("recognizer failed", slog.String("error", err.Error()))
	}
}

// Apply folds one recognizer batch into the pad.
func (s *Session) Apply(batch []transcript.Fragment) transcript.Preview {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.acc.Apply(batch)
	s.display = p.DisplayText

	var finals int64
	for _, f := range batch {
		if f.IsFinal {
			finals++
		}
	}
	add(s.metrics.fragments, finals, attribute.Bool("final", true))
	add(s.metrics.fragments, int64(len(batch))-finals, attribute.Bool("final", false))
	s.log.Debug("batch applied",
		slog.Int("fragments", len(batch)),
		slog.Int64("final", finals),
		slog.Int("pad_len", len(p.AuthoritativeText)))
	return p
}

// Display returns the most recent display text.
func (s *Session) Display() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// Text returns the authoritative pad text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Text()
}

// Seed replaces the pad with text.
func (s *Session) Seed(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acc.Seed(text)
	s.display = s.acc.Text()
	return s.display
}

// Reset clears the pad.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acc.Reset()
	s.display = ""
	s.log.Info("pad cleared")
}

// Save stores the authoritative pad text as a new note.
func (s *Session) Save() (notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(s.acc.Text())
}

// SaveText stores text as a new note without touching the pad.
func (s *Session) SaveText(text string) (notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(text)
}

func (s *Session) save(text string) (notes.Note, error) {
	n, err := s.notes.Save(text)
	if err != nil {
		return notes.Note{}, err
	}
	add(s.metrics.saved, 1)
	s.log.Info("note saved", slog.String("id", n.ID), slog.Int("len", len(n.Text)))
	return n, nil
}

// Delete removes the note at index.
func (s *Session) Delete(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.notes.Delete(index); err != nil {
		s.log.Debug("note delete rejected", slog.Int("index", index), slog.String("error", err.Error()))
		return err
	}
	add(s.metrics.deleted, 1)
	s.log.Info("note deleted", slog.Int("index", index))
	return nil
}

// SendToPad replaces the pad with the note at index.
func (s *Session) SendToPad(index int) (notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.notes.Get(index)
	if err != nil {
		return notes.Note{}, err
	}
	s.acc.Seed(n.Text)
	s.display = s.acc.Text()
	s.log.Info("note sent to pad", slog.String("id", n.ID))
	return n, nil
}

// Notes returns the saved notes, newest first.
func (s *Session) Notes() []notes.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes.List()
}

// NoteCount returns the number of saved notes.
func (s *Session) NoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes.Count()
}

// Recording reports whether a recording is in progress.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// LastError returns the message of the most recent recognizer failure.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
