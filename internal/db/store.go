package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jwulff/dictapad/internal/transcript"
)

// Store provides read-only access to the steno SQLite database.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "Application Support", "Steno", "steno.sqlite")
}

// Open opens the database in read-only mode with WAL.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const sessionColumns = `id, locale, startedAt, endedAt, title, status, createdAt`

// ActiveSession returns the most recent active session, if any.
func (s *Store) ActiveSession(ctx context.Context) (*Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = 'active'
		ORDER BY startedAt DESC
		LIMIT 1
	`))
}

// LatestSession returns the most recent session regardless of status.
func (s *Store) LatestSession(ctx context.Context) (*Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY startedAt DESC
		LIMIT 1
	`))
}

func (s *Store) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var startedAt, createdAt float64
	var endedAt sql.NullFloat64
	var title sql.NullString

	if err := row.Scan(&sess.ID, &sess.Locale, &startedAt, &endedAt,
		&title, &sess.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.StartedAt = timeFromUnix(startedAt)
	sess.CreatedAt = timeFromUnix(createdAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	if title.Valid {
		sess.Title = title.String
	}
	return &sess, nil
}

// SegmentsForSession returns the finalized segments of a session in
// sequence order.
func (s *Store) SegmentsForSession(ctx context.Context, sessionID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sessionId, text, startedAt, endedAt, confidence, sequenceNumber, source
		FROM segments
		WHERE sessionId = ?
		ORDER BY sequenceNumber ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var startedAt, endedAt float64
		var confidence sql.NullFloat64
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Text, &startedAt, &endedAt,
			&confidence, &seg.SequenceNumber, &seg.Source); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.StartedAt = timeFromUnix(startedAt)
		seg.EndedAt = timeFromUnix(endedAt)
		if confidence.Valid {
			c := confidence.Float64
			seg.Confidence = &c
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Fragments converts recorded segments into a batch of final fragments.
func Fragments(segments []Segment) []transcript.Fragment {
	batch := make([]transcript.Fragment, 0, len(segments))
	for _, seg := range segments {
		batch = append(batch, transcript.Fragment{
			Text:        seg.Text,
			IsFinal:     true,
			ResultIndex: seg.SequenceNumber,
		})
	}
	return batch
}

// LatestTranscript returns the session being recorded, or else the latest
// session, with its segments as a batch of final fragments. A database with
// no sessions yields a nil session.
func (s *Store) LatestTranscript(ctx context.Context) (*Session, []transcript.Fragment, error) {
	sess, err := s.ActiveSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		if sess, err = s.LatestSession(ctx); err != nil || sess == nil {
			return nil, nil, err
		}
	}
	segments, err := s.SegmentsForSession(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	return sess, Fragments(segments), nil
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
