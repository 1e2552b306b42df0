package bpe

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/cognicore/subword/pkg/subword/ingest"
	"github.com/cognicore/subword/pkg/subword/internalerr"
)

const (
	// Header is the first line of every codebook file.
	Header = "#version: 0.2"
	// EndOfWord marks the last symbol of a word in prepend mode.
	EndOfWord = "</w>"
	// BeginOfWord marks the first symbol of a word in postpend mode.
	BeginOfWord = "<w>"
)

// Merge replaces the adjacent symbols Left and Right by their concatenation.
type Merge struct {
	Left  string
	Right string
}

func (m Merge) String() string { return m.Left + " " + m.Right }

// Joined returns the merged symbol.
func (m Merge) Joined() string { return m.Left + m.Right }

// Codebook is an ordered list of merges; earlier merges take priority.
type Codebook []Merge

// WriteTo writes the header followed by one merge per line.
func (cb Codebook) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	n, err := bw.WriteString(Header + "\n")
	written += int64(n)
	if err != nil {
		return written, err
	}
	for _, m := range cb {
		n, err := bw.WriteString(m.String() + "\n")
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// ReadCodebook parses a codebook. A leading version header and blank lines
// are skipped; every other line must hold exactly two symbols.
func ReadCodebook(ctx context.Context, r io.Reader, source string) (Codebook, error) {
	var cb Codebook
	err := ingest.EachLine(ctx, r, func(i int, line string) error {
		trimmed := strings.Trim(line, "\r\n ")
		if trimmed == "" {
			return nil
		}
		if i == 0 && strings.HasPrefix(trimmed, "#version:") {
			return nil
		}
		parts := strings.Split(trimmed, " ")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return &internalerr.MalformedInputError{Source: source, Line: i, Raw: line, Reason: "expected two symbols"}
		}
		cb = append(cb, Merge{Left: parts[0], Right: parts[1]})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cb, nil
}
