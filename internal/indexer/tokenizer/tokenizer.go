// Package tokenizer turns field text into the ordered token sequence that
// the index is built from. The default implementation lower-cases, splits
// on non-alphanumeric runes, drops stop-words and strips common suffixes.
package tokenizer

import (
	"iter"
	"strings"
	"unicode"
)

// Tokenizer produces a finite, restartable sequence of tokens from text.
type Tokenizer interface {
	Tokenize(text string) iter.Seq[string]
}

// Func adapts a plain function to Tokenizer.
type Func func(text string) iter.Seq[string]

// Tokenize calls f.
func (f Func) Tokenize(text string) iter.Seq[string] { return f(text) }

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Standard is the default Tokenizer. The zero value keeps stop-words and
// single-character words out and stems.
type Standard struct {
	KeepStopWords bool
	NoStem        bool
}

// Tokenize lower-cases text and yields its words of two or more letters,
// dropping stop words and stemming unless configured otherwise.
func (s Standard) Tokenize(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for word := range strings.FieldsFuncSeq(strings.ToLower(text), isSeparator) {
			if len(word) < 2 {
				continue
			}
			if !s.KeepStopWords {
				if _, stop := stopWords[word]; stop {
					continue
				}
			}
			if !s.NoStem {
				word = stem(word)
			}
			if word == "" {
				continue
			}
			if !yield(word) {
				return
			}
		}
	}
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Collect drains a token sequence into a slice.
func Collect(seq iter.Seq[string]) []string {
	var out []string
	for tok := range seq {
		out = append(out, tok)
	}
	return out
}

type suffixRule struct {
	suffix      string
	replacement string
	minLen      int
}

var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem strips the first matching suffix whose remainder is long enough.
func stem(word string) string {
	for _, rule := range suffixRules {
		if base, ok := strings.CutSuffix(word, rule.suffix); ok {
			if candidate := base + rule.replacement; len(candidate) >= rule.minLen {
				return candidate
			}
		}
	}
	return word
}
