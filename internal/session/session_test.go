package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jwulff/dictapad/internal/notes"
	"github.com/jwulff/dictapad/internal/transcript"
)

func newTestSession() *Session {
	return New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestStartSeedsFromDisplayedText(t *testing.T) {
	s := newTestSession()

	s.Start("typed by hand ,then dictated")
	s.Apply([]transcript.Fragment{{Text: "more words", IsFinal: true}})

	assert.True(t, s.Recording())
	assert.Equal(t, "Typed by hand, then dictated more words", s.Text())
}

func TestStopDropsPreview(t *testing.T) {
	s := newTestSession()
	s.Start("")
	s.Apply([]transcript.Fragment{
		{Text: "kept", IsFinal: true},
		{Text: "pending"},
	})
	require.Equal(t, "Kept pending", s.Display())

	text := s.Stop()

	assert.Equal(t, "Kept", text)
	assert.Equal(t, "Kept", s.Display())
	assert.False(t, s.Recording())
}

func TestFailLeavesPadUntouched(t *testing.T) {
	s := newTestSession()
	s.Start("Before.")
	s.Apply([]transcript.Fragment{{Text: "half said"}})

	s.Fail(errors.New("network"))

	assert.Equal(t, "Before.", s.Text())
	assert.Equal(t, "Before.", s.Display())
	assert.False(t, s.Recording())
	assert.Equal(t, "network", s.LastError())
}

func TestResetClearsDisplay(t *testing.T) {
	s := newTestSession()
	s.Apply([]transcript.Fragment{{Text: "something", IsFinal: true}, {Text: "else"}})
	_, err := s.Save()
	require.NoError(t, err)

	s.Reset()

	assert.Equal(t, "", s.Display())
	assert.Equal(t, "", s.Text())
	assert.Equal(t, 1, s.NoteCount())
}

func TestSaveSnapshotsAuthoritativeText(t *testing.T) {
	s := newTestSession()
	s.Apply([]transcript.Fragment{{Text: "committed", IsFinal: true}, {Text: "not yet"}})

	n, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, "Committed", n.Text)

	s.Apply([]transcript.Fragment{{Text: "later", IsFinal: true}})
	assert.Equal(t, "Committed", s.Notes()[0].Text)
}

func TestSaveEmptyPad(t *testing.T) {
	s := newTestSession()

	_, err := s.Save()

	assert.ErrorIs(t, err, notes.ErrEmptyText)
	assert.Equal(t, 0, s.NoteCount())
}

func TestSendToPadThenSaveCreatesNewNote(t *testing.T) {
	s := newTestSession()
	_, err := s.SaveText("Restored text.")
	require.NoError(t, err)

	_, err = s.SendToPad(0)
	require.NoError(t, err)
	s.Apply([]transcript.Fragment{{Text: "great", IsFinal: true}})
	assert.Equal(t, "Restored text. Great", s.Display())

	_, err = s.Save()
	require.NoError(t, err)

	list := s.Notes()
	require.Len(t, list, 2)
	assert.Equal(t, "Restored text. Great", list[0].Text)
	assert.Equal(t, "Restored text.", list[1].Text)
}

func TestSendToPadStaleIndex(t *testing.T) {
	s := newTestSession()
	s.Seed("Keep me")

	_, err := s.SendToPad(3)

	assert.ErrorIs(t, err, notes.ErrIndex)
	assert.Equal(t, "Keep me", s.Text())
}

func TestDelete(t *testing.T) {
	s := newTestSession()
	_, _ = s.SaveText("a")

	assert.ErrorIs(t, s.Delete(1), notes.ErrIndex)
	assert.Equal(t, 1, s.NoteCount())

	require.NoError(t, s.Delete(0))
	assert.Equal(t, 0, s.NoteCount())
}

func TestConcurrentCallers(t *testing.T) {
	s := newTestSession()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.SaveText("note")
		}()
		go func() {
			defer wg.Done()
			_ = s.Notes()
			_ = s.Display()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, s.NoteCount())
}

func TestCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	s := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithMeterProvider(mp))

	s.Apply([]transcript.Fragment{
		{Text: "one", IsFinal: true},
		{Text: "two", IsFinal: true},
		{Text: "thr"},
	})
	_, err := s.Save()
	require.NoError(t, err)
	require.NoError(t, s.Delete(0))
	_, err = s.Save()
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T", m.Name, m.Data)
			for _, dp := range sum.DataPoints {
				key := m.Name
				if v, ok := dp.Attributes.Value(attribute.Key("final")); ok {
					key += "/" + v.Emit()
				}
				got[key] += dp.Value
			}
		}
	}

	assert.Equal(t, map[string]int64{
		"dictapad.fragments/true":  2,
		"dictapad.fragments/false": 1,
		"dictapad.notes.saved":     2,
		"dictapad.notes.deleted":   1,
	}, got)
}
