// Package notes keeps an in-memory list of saved transcript snapshots.
package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StampLayout is the display format fixed on a note when it is saved.
const StampLayout = "Jan 2, 3:04 PM"

// ErrEmptyText is returned when a save is attempted with blank text.
var ErrEmptyText = errors.New("nothing to save")

// ErrIndex matches every IndexError via errors.Is.
var ErrIndex = errors.New("note index out of range")

// IndexError reports a position outside the current collection.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("note index %d out of range [0,%d)", e.Index, e.Len)
}

// Is reports whether target is ErrIndex.
func (e *IndexError) Is(target error) bool {
	return target == ErrIndex
}

// Note is an immutable snapshot of transcript text.
type Note struct {
	ID        string
	Text      string
	CreatedAt time.Time
	Stamp     string
}

// Store holds notes newest first. It is not safe for concurrent use.
type Store struct {
	notes []Note
	clock func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for CreatedAt.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithIDFunc sets the generator used for note IDs.
func WithIDFunc(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{clock: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save trims text and stores it as the newest note.
func (s *Store) Save(text string) (Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Note{}, ErrEmptyText
	}
	now := s.clock()
	n := Note{
		ID:        s.newID(),
		Text:      text,
		CreatedAt: now,
		Stamp:     now.Format(StampLayout),
	}
	s.notes = append([]Note{n}, s.notes...)
	return n, nil
}

// Delete removes the note at index, keeping the order of the rest.
func (s *Store) Delete(index int) error {
	if err := s.check(index); err != nil {
		return err
	}
	s.notes = append(s.notes[:index:index], s.notes[index+1:]...)
	return nil
}

// Get returns the note at index.
func (s *Store) Get(index int) (Note, error) {
	if err := s.check(index); err != nil {
		return Note{}, err
	}
	return s.notes[index], nil
}

// List returns a copy of the notes, newest first.
func (s *Store) List() []Note {
	out := make([]Note, len(s.notes))
	copy(out, s.notes)
	return out
}

// Count returns the number of notes.
func (s *Store) Count() int {
	return len(s.notes)
}

func (s *Store) check(index int) error {
	if index < 0 || index >= len(s.notes) {
		return &IndexError{Index: index, Len: len(s.notes)}
	}
	return nil
}
