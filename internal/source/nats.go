package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jwulff/dictapad/internal/transcript"
)

// Bus subjects used by loqa-style speech services.
const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"

	transcriptWildcard = "stt.text.*"
)

// busTranscript is the transcript message published on the bus.
type busTranscript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// NATSOptions configures a NATSSource.
type NATSOptions struct {
	Servers        []string
	Username       string
	Password       string
	Token          string
	ConnectTimeout time.Duration
	// SessionID limits the source to one recognizer session when set.
	SessionID string
	Logger    *slog.Logger
}

// NATSSource listens to transcript messages on a NATS bus. Partial and final
// subjects share one subscription so their relative order is kept.
type NATSSource struct {
	conn    *nats.Conn
	session string
	log     *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// DialNATS connects to the bus. Nothing is received until Start.
func DialNATS(opts NATSOptions) (*NATSSource, error) {
	if len(opts.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	options := []nats.Option{nats.Name("dictapad")}
	if opts.ConnectTimeout > 0 {
		options = append(options, nats.Timeout(opts.ConnectTimeout))
	}
	if opts.Username != "" || opts.Password != "" {
		options = append(options, nats.UserInfo(opts.Username, opts.Password))
	}
	if opts.Token != "" {
		options = append(options, nats.Token(opts.Token))
	}

	url := strings.Join(opts.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("servers", url))

	return newNATSSource(conn, opts.SessionID, log), nil
}

func newNATSSource(conn *nats.Conn, session string, log *slog.Logger) *NATSSource {
	return &NATSSource{
		conn:    conn,
		session: session,
		log:     log,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the transcript subjects.
func (s *NATSSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return nil
	}
	sub, err := s.conn.Subscribe(transcriptWildcard, s.handle)
	if errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("subscribe transcripts: %w: %w", ErrDisconnected, err)
	}
	if err != nil {
		return fmt.Errorf("subscribe transcripts: %w", err)
	}
	s.sub = sub
	return s.push(ctx, Event{Kind: KindStarted})
}

// Stop unsubscribes. Messages already received are still delivered first.
func (s *NATSSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe transcripts: %w", err)
	}
	s.sub = nil
	return s.push(ctx, Event{Kind: KindStopped})
}

// Next returns the next event in arrival order.
func (s *NATSSource) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.done:
		return Event{}, errors.New("source closed")
	}
}

// Close drains the connection.
func (s *NATSSource) Close() error {
	s.once.Do(func() { close(s.done) })
	if s.conn == nil {
		return nil
	}
	s.log.Info("closing NATS connection")
	err := s.conn.Drain()
	s.conn.Close()
	return err
}

func (s *NATSSource) handle(msg *nats.Msg) {
	ev, ok, err := decodeTranscript(msg.Data, s.session)
	if err != nil {
		s.log.Warn("failed to decode transcript", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *NATSSource) push(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.New("source closed")
	}
}

// decodeTranscript turns one bus message into a single-fragment batch.
// Messages for other sessions and blank text are skipped.
func decodeTranscript(data []byte, session string) (Event, bool, error) {
	var msg busTranscript
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false, err
	}
	if session != "" && msg.SessionID != session {
		return Event{}, false, nil
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Event{}, false, nil
	}
	return Event{
		Kind:  KindBatch,
		Batch: []transcript.Fragment{{Text: msg.Text, IsFinal: !msg.Partial}},
	}, true, nil
}
