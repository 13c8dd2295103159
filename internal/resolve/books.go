// Package resolve contains the pure matching functions that route
// classification output onto existing domain entities: proposed topic names
// onto books, and proposed completion actions onto open tasks. Both are
// deterministic given identical inputs and input ordering, with no side
// effects — the engine applies whatever effects follow from a match.
package resolve

import (
	"strings"

	"github.com/ovalle/braindump/internal/storage"
)

// ResolveBook routes a proposed topic name onto an existing book. Matching
// runs exact-first, then fuzzy; the first matching book in list order wins.
// Returns ok=false when no book matches and the caller should create one.
//
// Fuzzy rule: any word of the proposed name longer than 2 characters that
// appears inside the book's name or its running context is a match, as is
// whole-name containment in either direction. Ties carry no business
// meaning beyond first-candidate-wins.
func ResolveBook(proposed string, books []storage.Book) (storage.Book, bool) {
	name := strings.ToLower(strings.TrimSpace(proposed))
	if name == "" {
		return storage.Book{}, false
	}

	// Pass 1: exact, case-insensitive, trimmed.
	for _, b := range books {
		if strings.ToLower(strings.TrimSpace(b.Name)) == name {
			return b, true
		}
	}

	// Pass 2: fuzzy token and containment matching.
	tokens := significantTokens(name)
	for _, b := range books {
		bookName := strings.ToLower(b.Name)
		bookContext := strings.ToLower(b.Context)

		if strings.Contains(bookName, name) || strings.Contains(name, bookName) {
			return b, true
		}
		for _, tok := range tokens {
			if strings.Contains(bookName, tok) || strings.Contains(bookContext, tok) {
				return b, true
			}
		}
	}

	return storage.Book{}, false
}

// significantTokens splits a name into lowercase words longer than 2
// characters. Short words ("a", "of", "el") carry no routing signal.
func significantTokens(name string) []string {
	fields := strings.Fields(name)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
