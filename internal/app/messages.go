package app

import (
	"github.com/jwulff/dictapad/internal/db"
	"github.com/jwulff/dictapad/internal/source"
	"github.com/jwulff/dictapad/internal/transcript"
)

// SourceConnectedMsg is sent when the recognizer source is ready.
type SourceConnectedMsg struct {
	Source source.Source
}

// SourceConnectErrorMsg is sent when connecting to the recognizer fails.
type SourceConnectErrorMsg struct {
	Err error
}

// SourceEventMsg wraps one event read from the source.
type SourceEventMsg struct {
	Event source.Event
}

// SourceEventErrorMsg is sent when reading from the source fails.
type SourceEventErrorMsg struct {
	Err error
}

// StartResultMsg carries the outcome of asking the source to start.
type StartResultMsg struct {
	Err error
}

// StopResultMsg carries the outcome of asking the source to stop.
type StopResultMsg struct {
	Err error
}

// ImportResultMsg carries the latest recorded session as a batch of finals.
type ImportResultMsg struct {
	Session *db.Session
	Batch   []transcript.Fragment
	Err     error
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}
