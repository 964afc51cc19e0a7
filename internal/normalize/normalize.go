// Package normalize rewrites dictated text into readable prose: spoken
// punctuation keywords become symbols, spacing around punctuation is fixed,
// lines are trimmed and sentences are capitalized.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// Whitespace is the ASCII set matched by \s. Every step uses the same set so
// that Text stays idempotent.
const (
	space      = " \t\n\f\r"
	horizontal = " \t\f"
)

type keyword struct {
	spoken  []string
	pattern *regexp.Regexp
	symbol  string
}

// Multi-word keywords are matched before their single-word parts.
var keywords = []keyword{
	newKeyword(".", "full stop", "period"),
	newKeyword("?", "question mark"),
	newKeyword("!", "exclamation mark", "exclamation point"),
	newKeyword("\n", "new line", "newline"),
	newKeyword(",", "comma"),
}

func newKeyword(symbol string, spoken ...string) keyword {
	alts := make([]string, len(spoken))
	for i, s := range spoken {
		alts[i] = strings.ReplaceAll(regexp.QuoteMeta(s), " ", `[ \t]+`)
	}
	return keyword{
		spoken:  spoken,
		pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`),
		symbol:  symbol,
	}
}

var (
	spaceBeforePunct = regexp.MustCompile(`[ \t\f]+([,.!?])`)
	sentenceStart    = regexp.MustCompile(`(?:^\s*|[.!?]\s+)\p{Ll}`)
)

// Text normalizes dictated text. It never fails; empty input yields empty
// output, and Text(Text(s)) == Text(s) for every s.
func Text(input string) string {
	if input == "" {
		return ""
	}
	s := replaceKeywords(input)
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	s = spaceAfterPunct(s)
	s = trimLines(s)
	s = capitalize(s)
	return strings.Trim(s, space)
}

// Keywords lists the spoken forms that Text turns into punctuation.
func Keywords() []string {
	var out []string
	for _, k := range keywords {
		out = append(out, k.spoken...)
	}
	return out
}

func replaceKeywords(s string) string {
	for _, k := range keywords {
		s = k.pattern.ReplaceAllLiteralString(s, k.symbol)
	}
	return s
}

func isPunct(b byte) bool {
	return b == ',' || b == '.' || b == '!' || b == '?'
}

// spaceAfterPunct inserts a space after punctuation that is directly followed
// by anything other than whitespace. Multi-byte runes never start with an
// ASCII byte, so scanning bytes is safe.
func spaceAfterPunct(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/8)
	for i := 0; i < len(s); i++ {
		b.WriteByte(s[i])
		if isPunct(s[i]) && i+1 < len(s) && strings.IndexByte(space, s[i+1]) < 0 {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func trimLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Trim(l, horizontal)
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	return sentenceStart.ReplaceAllStringFunc(s, func(m string) string {
		// The match ends with exactly one lowercase rune.
		r := []rune(m)
		r[len(r)-1] = unicode.ToUpper(r[len(r)-1])
		return string(r)
	})
}
