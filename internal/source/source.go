// Package source adapts speech recognizers into an ordered stream of
// fragment batches.
package source

import (
	"context"
	"errors"

	"github.com/jwulff/dictapad/internal/transcript"
)

// ErrDisconnected reports that a command found the recognizer connection
// gone. The source should be closed and dialed again.
var ErrDisconnected = errors.New("recognizer disconnected")

// Kind identifies what an Event carries.
type Kind int

const (
	KindBatch Kind = iota
	KindStarted
	KindStopped
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindBatch:
		return "batch"
	case KindStarted:
		return "started"
	case KindStopped:
		return "stopped"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Event is one item delivered by a Source.
type Event struct {
	Kind      Kind
	Batch     []transcript.Fragment
	Message   string
	Transient bool
}

// Source delivers recognizer events in the order they were produced. Next
// must not be called concurrently with itself.
type Source interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) (Event, error)
	Close() error
}
