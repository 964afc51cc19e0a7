// Package transcript folds recognizer fragments into a single normalized
// transcript and builds a preview that includes uncommitted interim speech.
package transcript

import (
	"strings"

	"github.com/jwulff/dictapad/internal/normalize"
)

// Fragment is one unit of recognized speech.
type Fragment struct {
	Text        string
	IsFinal     bool
	ResultIndex int
}

// Preview is the outcome of applying one batch.
type Preview struct {
	// DisplayText is the authoritative text plus any interim tail.
	DisplayText string
	// AuthoritativeText is the committed transcript after the batch.
	AuthoritativeText string
}

// Accumulator owns the authoritative transcript. The zero value is an empty
// transcript ready for use. An Accumulator is not safe for concurrent use.
type Accumulator struct {
	text string
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Apply commits the final fragments of batch in arrival order and previews
// the interim ones. Interim text never reaches the authoritative transcript.
func (a *Accumulator) Apply(batch []Fragment) Preview {
	var interim []string
	for _, f := range batch {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		if f.IsFinal {
			a.text = normalize.Text(join(a.text, strings.TrimSpace(f.Text)))
			continue
		}
		// Interim text goes into the preview as the recognizer sent it.
		interim = append(interim, f.Text)
	}

	display := a.text
	if len(interim) > 0 {
		display = normalize.Text(join(a.text, strings.Join(interim, " ")))
	}
	return Preview{DisplayText: display, AuthoritativeText: a.text}
}

// Reset empties the transcript.
func (a *Accumulator) Reset() {
	a.text = ""
}

// Seed replaces the transcript with the normalized form of text.
func (a *Accumulator) Seed(text string) {
	a.text = normalize.Text(text)
}

// Text returns the authoritative transcript.
func (a *Accumulator) Text() string {
	return a.text
}

// Settle runs the final normalization pass expected when recognition stops.
func (a *Accumulator) Settle() string {
	a.text = normalize.Text(a.text)
	return a.text
}

func join(base, tail string) string {
	if base == "" {
		return tail
	}
	return base + " " + tail
}
