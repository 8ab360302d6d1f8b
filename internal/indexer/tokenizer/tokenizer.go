// Package tokenizer provides text tokenisation for the line index.
// It splits input on whitespace, lower-cases each word and strips every
// character that is not a letter or a digit. There is no stemming and no
// stop-word removal.
package tokenizer

import (
	"strings"
	"unicode"
)

// Normalize lower-cases word and removes all non-alphanumeric characters.
// The result may be empty. Normalize is idempotent.
func Normalize(word string) string {
	lowered := strings.ToLower(word)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tokenize breaks text into normalised terms. Words that normalise to the
// empty string are dropped; order and repetitions are preserved.
func Tokenize(text string) []string {
	words := strings.Fields(text)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if term := Normalize(word); term != "" {
			tokens = append(tokens, term)
		}
	}
	return tokens
}
