package findings

import (
	"strings"
	"unicode"
)

// minKeywordLen drops short tokens that carry no meaning on their own.
const minKeywordLen = 3

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "this": {}, "that": {}, "with": {}, "from": {},
	"are": {}, "was": {}, "were": {}, "not": {}, "but": {}, "can": {}, "should": {},
	"could": {}, "would": {}, "may": {}, "might": {}, "into": {}, "when": {}, "which": {},
	"has": {}, "have": {}, "its": {}, "use": {}, "used": {}, "using": {}, "also": {},
	"line": {}, "file": {}, "here": {}, "there": {}, "than": {}, "then": {}, "does": {},
}

// keywords returns the normalized keyword set of a description.
func keywords(desc string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(desc), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < minKeywordLen {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
