package vault

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MinTokenLength is the shortest token, in runes, that is indexed.
const MinTokenLength = 2

// Tokenize splits text into normalized search tokens: NFKC-normalized,
// case-folded runs of letters and digits at least MinTokenLength runes
// long. Duplicates are dropped, keeping the first occurrence.
func Tokenize(text string) []string {
	// A Caser carries state and must not be shared between goroutines.
	folded := cases.Fold().String(norm.NFKC.String(text))
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(words))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < MinTokenLength || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}
