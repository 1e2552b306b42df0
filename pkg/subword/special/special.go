package special

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/cognicore/subword/pkg/subword/ingest"
	"github.com/cognicore/subword/pkg/subword/internalerr"
)

// Load reads a special vocabulary file: one word per line, order and
// duplicates preserved. An empty path yields a nil list, which disables all
// special-vocabulary handling.
func Load(ctx context.Context, path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open special vocabulary: %w", err)
	}
	defer f.Close()

	return Read(ctx, f, path)
}

// Read parses a special vocabulary from r.
// Carriage returns, newlines and spaces are stripped from both ends; blank lines
// are skipped. A word that still contains whitespace cannot be a single
// token and is rejected as malformed.
func Read(ctx context.Context, r io.Reader, source string) ([]string, error) {
	words := []string{}
	err := ingest.EachLine(ctx, r, func(i int, line string) error {
		word := strings.Trim(line, "\r\n ")
		if word == "" {
			return nil
		}
		if strings.IndexFunc(word, unicode.IsSpace) >= 0 {
			return &internalerr.MalformedInputError{
				Source: source,
				Line:   i,
				Raw:    line,
				Reason: "special word contains whitespace",
			}
		}
		words = append(words, word)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return words, nil
}
