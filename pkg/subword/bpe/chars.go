package bpe

import (
	"sort"
	"unicode/utf8"
)

// ExtractChars returns the sorted unique non-terminal and terminal characters
// of words. A terminal character sits on the word boundary that carries the
// boundary marker: the last character in prepend mode, the first in
// postpend mode. All other characters are non-terminal.
func ExtractChars(words []string, postpend bool) (internal, terminal []string) {
	internalSet := make(map[string]struct{})
	terminalSet := make(map[string]struct{})

	for _, w := range words {
		runes := []rune(w)
		if len(runes) == 0 {
			continue
		}
		boundary := len(runes) - 1
		if postpend {
			boundary = 0
		}
		for i, r := range runes {
			if i == boundary {
				terminalSet[string(r)] = struct{}{}
			} else {
				internalSet[string(r)] = struct{}{}
			}
		}
	}

	return sortedKeys(internalSet), sortedKeys(terminalSet)
}

// RenderInternal attaches the separator to a non-terminal character on the
// side facing the rest of the word.
func RenderInternal(c, separator string, postpend bool) string {
	if postpend {
		return separator + c
	}
	return c + separator
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitSymbols turns a word into its initial symbol sequence with the
// boundary marker attached.
func splitSymbols(word string, postpend bool) []string {
	symbols := make([]string, 0, utf8.RuneCountInString(word))
	for _, r := range word {
		symbols = append(symbols, string(r))
	}
	if len(symbols) == 0 {
		return symbols
	}
	if postpend {
		symbols[0] = BeginOfWord + symbols[0]
	} else {
		symbols[len(symbols)-1] += EndOfWord
	}
	return symbols
}

// mergeAll replaces every non-overlapping occurrence of m, scanning left to
// right. It returns the input slice when m does not occur.
func mergeAll(symbols []string, m Merge) []string {
	var out []string
	for i := 0; i < len(symbols); i++ {
		if i+1 < len(symbols) && symbols[i] == m.Left && symbols[i+1] == m.Right {
			if out == nil {
				out = make([]string, 0, len(symbols)-1)
				out = append(out, symbols[:i]...)
			}
			out = append(out, m.Joined())
			i++
			continue
		}
		if out != nil {
			out = append(out, symbols[i])
		}
	}
	if out == nil {
		return symbols
	}
	return out
}
