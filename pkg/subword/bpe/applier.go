package bpe

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cognicore/subword/pkg/subword/internalerr"
	"github.com/cognicore/subword/pkg/subword/metrics"
)

// DefaultCacheSize is the number of segmented words an Applier remembers.
const DefaultCacheSize = 100000

// ApplierConfig configures an Applier.
type ApplierConfig struct {
	// Separator marks a piece boundary: appended to non-final pieces, or
	// prefixed to non-initial pieces when Postpend is set.
	Separator string
	Postpend  bool
	// CacheSize bounds the word cache; zero selects DefaultCacheSize.
	CacheSize int
}

// Applier segments words by greedily applying a codebook in priority order.
// It is safe for concurrent use.
type Applier struct {
	ranks     map[Merge]int
	separator string
	postpend  bool
	cache     *lru.Cache[string, []string]
}

var (
	errEmptyWord   = errors.New("empty word")
	errInvalidUTF8 = errors.New("invalid UTF-8")
	errWhitespace  = errors.New("word contains whitespace")
)

// NewApplier builds an Applier from codes. When a merge appears more than
// once, its earliest position wins.
func NewApplier(codes Codebook, cfg ApplierConfig) (*Applier, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmentation cache: %w", err)
	}

	ranks := make(map[Merge]int, len(codes))
	for i, m := range codes {
		if _, ok := ranks[m]; !ok {
			ranks[m] = i
		}
	}

	return &Applier{
		ranks:     ranks,
		separator: cfg.Separator,
		postpend:  cfg.Postpend,
		cache:     cache,
	}, nil
}

// Segment splits word into subword pieces with separators attached.
func (a *Applier) Segment(word string) ([]string, error) {
	switch {
	case word == "":
		return nil, fmt.Errorf("%w: %w", internalerr.ErrSegmentation, errEmptyWord)
	case !utf8.ValidString(word):
		return nil, fmt.Errorf("%w: %w", internalerr.ErrSegmentation, errInvalidUTF8)
	case strings.IndexFunc(word, unicode.IsSpace) >= 0:
		return nil, fmt.Errorf("%w: %w", internalerr.ErrSegmentation, errWhitespace)
	}

	pieces := a.encode(word)
	out := make([]string, len(pieces))
	for i, p := range pieces {
		switch {
		case a.postpend && i > 0:
			out[i] = a.separator + p
		case !a.postpend && i < len(pieces)-1:
			out[i] = p + a.separator
		default:
			out[i] = p
		}
	}
	return out, nil
}

// SegmentLine segments every whitespace-delimited token of line and joins
// the pieces of a token with single spaces. Whitespace between and around
// tokens is kept as is.
func (a *Applier) SegmentLine(line string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(line) + len(line)/2)

	start := -1
	flush := func(end int) error {
		pieces, err := a.Segment(line[start:end])
		if err != nil {
			return err
		}
		sb.WriteString(strings.Join(pieces, " "))
		start = -1
		return nil
	}

	for i, r := range line {
		if unicode.IsSpace(r) {
			if start >= 0 {
				if err := flush(i); err != nil {
					return "", err
				}
			}
			sb.WriteRune(r)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		if err := flush(len(line)); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// encode returns the bare pieces of word. Cached slices are shared and must
// not be modified.
func (a *Applier) encode(word string) []string {
	metrics.SegmentRequests.Inc()
	if pieces, ok := a.cache.Get(word); ok {
		metrics.SegmentCacheHits.Inc()
		return pieces
	}

	symbols := splitSymbols(word, a.postpend)
	if len(symbols) == 1 {
		pieces := []string{word}
		a.cache.Add(word, pieces)
		return pieces
	}

	for len(symbols) > 1 {
		best := -1
		var bestPair Merge
		for j := 0; j+1 < len(symbols); j++ {
			p := Merge{Left: symbols[j], Right: symbols[j+1]}
			if r, ok := a.ranks[p]; ok && (best < 0 || r < best) {
				best, bestPair = r, p
			}
		}
		if best < 0 {
			break
		}
		symbols = mergeAll(symbols, bestPair)
	}

	pieces := a.stripMarker(symbols)
	a.cache.Add(word, pieces)
	return pieces
}

func (a *Applier) stripMarker(symbols []string) []string {
	if a.postpend {
		first := symbols[0]
		if first == BeginOfWord {
			return symbols[1:]
		}
		symbols[0] = strings.TrimPrefix(first, BeginOfWord)
		return symbols
	}
	last := len(symbols) - 1
	if symbols[last] == EndOfWord {
		return symbols[:last]
	}
	symbols[last] = strings.TrimSuffix(symbols[last], EndOfWord)
	return symbols
}
