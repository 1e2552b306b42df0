package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cognicore/subword/pkg/subword/internalerr"
	"github.com/cognicore/subword/pkg/subword/vocab"
)

// Mode selects how corpus lines are interpreted.
type Mode int

const (
	// ModeText treats each line as whitespace-separated words.
	ModeText Mode = iota
	// ModeDict treats each line as a "word count" pair.
	ModeDict
)

func (m Mode) String() string {
	if m == ModeDict {
		return "dict"
	}
	return "text"
}

// ctxCheckInterval is how many lines are read between context checks.
const ctxCheckInterval = 4096

// EachLine calls fn for every line of r with its 0-based index. The line
// passed to fn has its trailing "\r\n" removed. Iteration stops at the first
// error returned by fn.
func EachLine(ctx context.Context, r io.Reader, fn func(i int, line string) error) error {
	br := bufio.NewReader(r)
	for i := 0; ; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if ferr := fn(i, strings.TrimRight(line, "\r\n")); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Extract builds a frequency mapping from r. In text mode every
// whitespace-separated token counts once; in dict mode every line must be a
// "word count" pair, and the first malformed line aborts extraction with a
// *internalerr.MalformedInputError naming source and line.
func Extract(ctx context.Context, r io.Reader, source string, mode Mode) (*vocab.Counter, error) {
	counts := vocab.NewCounter()
	err := EachLine(ctx, r, func(i int, line string) error {
		if mode == ModeDict {
			e, err := vocab.ParseEntry(line)
			if err != nil {
				return &internalerr.MalformedInputError{Source: source, Line: i, Raw: line, Reason: err.Error()}
			}
			counts.Add(e.Symbol, e.Count)
			return nil
		}
		for _, w := range strings.Fields(line) {
			counts.Add(w, 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ExtractCorpus opens c, extracts its frequency mapping and closes it.
func ExtractCorpus(ctx context.Context, c Corpus, mode Mode) (*vocab.Counter, error) {
	rc, err := c.Open()
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", c.Name(), err)
	}
	defer rc.Close()

	return Extract(ctx, rc, c.Name(), mode)
}
