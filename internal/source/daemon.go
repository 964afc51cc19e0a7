package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwulff/dictapad/internal/daemon"
	"github.com/jwulff/dictapad/internal/transcript"
)

// DaemonOptions configures a DaemonSource.
type DaemonOptions struct {
	SocketPath string
	Locale     string
	Device     string
	Logger     *slog.Logger
}

// DaemonSource reads from a steno daemon over two connections: one for
// commands and one subscribed to the event stream.
type DaemonSource struct {
	opts   DaemonOptions
	cmd    *daemon.Client
	events *daemon.Client
	log    *slog.Logger
}

// DialDaemon connects both daemon connections and subscribes to the
// transcript events.
func DialDaemon(ctx context.Context, opts DaemonOptions) (*DaemonSource, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cmd, err := daemon.Connect(ctx, opts.SocketPath)
	if err != nil {
		return nil, err
	}
	events, err := daemon.Connect(ctx, opts.SocketPath)
	if err != nil {
		cmd.Close()
		return nil, err
	}
	if err := events.Subscribe(ctx,
		daemon.EventPartial, daemon.EventSegment, daemon.EventResult,
		daemon.EventStatus, daemon.EventError); err != nil {
		cmd.Close()
		events.Close()
		return nil, err
	}

	log.Info("connected to daemon", slog.String("socket", opts.SocketPath))
	return &DaemonSource{opts: opts, cmd: cmd, events: events, log: log}, nil
}

// Start asks the daemon to begin recognition.
func (s *DaemonSource) Start(ctx context.Context) error {
	return s.send(ctx, daemon.Command{Cmd: daemon.CmdStart, Locale: s.opts.Locale, Device: s.opts.Device})
}

// Stop asks the daemon to end recognition.
func (s *DaemonSource) Stop(ctx context.Context) error {
	return s.send(ctx, daemon.Command{Cmd: daemon.CmdStop})
}

func (s *DaemonSource) send(ctx context.Context, cmd daemon.Command) error {
	resp, err := s.cmd.SendCommand(ctx, cmd)
	if errors.Is(err, daemon.ErrClosed) {
		return fmt.Errorf("%s: %w: %w", cmd.Cmd, ErrDisconnected, err)
	}
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s: %s", cmd.Cmd, resp.Error)
	}
	return nil
}

// Next blocks until the daemon streams an event this program understands.
func (s *DaemonSource) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		raw, err := s.events.ReadEvent(ctx)
		if err != nil {
			return Event{}, err
		}
		if ev, ok := fromDaemonEvent(raw); ok {
			return ev, nil
		}
		s.log.Debug("skipping daemon event", slog.String("event", raw.Event))
	}
}

// Close drops both connections.
func (s *DaemonSource) Close() error {
	cmdErr := s.cmd.Close()
	if err := s.events.Close(); err != nil {
		return err
	}
	return cmdErr
}

func fromDaemonEvent(raw daemon.Event) (Event, bool) {
	switch raw.Event {
	case daemon.EventPartial:
		return Event{Kind: KindBatch, Batch: []transcript.Fragment{{Text: raw.Text}}}, true

	case daemon.EventSegment:
		f := transcript.Fragment{Text: raw.Text, IsFinal: true}
		if raw.SequenceNumber != nil {
			f.ResultIndex = *raw.SequenceNumber
		}
		return Event{Kind: KindBatch, Batch: []transcript.Fragment{f}}, true

	case daemon.EventResult:
		batch := make([]transcript.Fragment, len(raw.Fragments))
		for i, f := range raw.Fragments {
			batch[i] = transcript.Fragment{Text: f.Text, IsFinal: f.IsFinal, ResultIndex: f.ResultIndex}
		}
		return Event{Kind: KindBatch, Batch: batch}, true

	case daemon.EventStatus:
		if raw.Recording == nil {
			return Event{}, false
		}
		if *raw.Recording {
			return Event{Kind: KindStarted}, true
		}
		return Event{Kind: KindStopped}, true

	case daemon.EventError:
		return Event{
			Kind:      KindError,
			Message:   raw.Message,
			Transient: raw.Transient != nil && *raw.Transient,
		}, true
	}
	return Event{}, false
}
