package vocab

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"sort"
	"strconv"
	"strings"
)

// Counter maps words (or subword symbols) to occurrence counts.
// It is not safe for concurrent mutation.
type Counter struct {
	counts map[string]int64
}

// Entry is one symbol and its count.
type Entry struct {
	Symbol string
	Count  int64
}

// NewCounter creates an empty counter
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int64)}
}

// Add increments the count of word by n, creating the entry if absent.
func (c *Counter) Add(word string, n int64) {
	c.counts[word] += n
}

// Set overwrites the count of word.
func (c *Counter) Set(word string, n int64) {
	c.counts[word] = n
}

// Get returns the count of word, or 0 when absent.
func (c *Counter) Get(word string) int64 {
	return c.counts[word]
}

// Len returns the number of unique entries
func (c *Counter) Len() int {
	return len(c.counts)
}

// Total returns the sum of all counts
func (c *Counter) Total() int64 {
	var total int64
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Max returns the largest count, or 0 for an empty counter.
func (c *Counter) Max() int64 {
	var best int64
	for _, n := range c.counts {
		if n > best {
			best = n
		}
	}
	return best
}

// Merge adds every count of other into c.
func (c *Counter) Merge(other *Counter) {
	for w, n := range other.counts {
		c.counts[w] += n
	}
}

// Words returns all keys in ascending order.
func (c *Counter) Words() []string {
	words := make([]string, 0, len(c.counts))
	for w := range c.counts {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// Sorted returns all entries ordered by count descending, then by symbol
// ascending. This is the order of every emitted vocabulary file.
func (c *Counter) Sorted() []Entry {
	entries := make([]Entry, 0, len(c.counts))
	for w, n := range c.counts {
		entries = append(entries, Entry{Symbol: w, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Symbol < entries[j].Symbol
	})
	return entries
}

// Lines yields "word count" strings in Sorted order.
func (c *Counter) Lines() iter.Seq[string] {
	entries := c.Sorted()
	return func(yield func(string) bool) {
		for _, e := range entries {
			if !yield(e.String()) {
				return
			}
		}
	}
}

// WriteEntries writes one "symbol count" line per entry, in the given order.
func WriteEntries(w io.Writer, entries []Entry) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for _, e := range entries {
		n, err := bw.WriteString(e.String() + "\n")
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

func (e Entry) String() string {
	return e.Symbol + " " + strconv.FormatInt(e.Count, 10)
}

var (
	errFieldCount    = errors.New("expected a word and a count")
	errCountNotInt   = errors.New("count is not an integer")
	errCountNegative = errors.New("count is negative")
)

// ParseEntry parses a "word count" line. Surrounding whitespace is ignored;
// anything other than exactly two fields with a non-negative integer count
// is rejected.
func ParseEntry(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Entry{}, errFieldCount
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entry{}, errCountNotInt
	}
	if n < 0 {
		return Entry{}, errCountNegative
	}
	return Entry{Symbol: fields[0], Count: n}, nil
}
