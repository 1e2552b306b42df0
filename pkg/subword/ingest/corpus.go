package ingest

import (
	"io"
	"os"
	"strings"
)

// Corpus is a re-readable text source. Every call to Open starts from the
// beginning, so a corpus can be counted once for learning and read again
// for re-segmentation.
type Corpus interface {
	Name() string
	Open() (io.ReadCloser, error)
}

type fileCorpus struct {
	path string
}

// FileCorpus returns a corpus backed by a UTF-8 text file.
func FileCorpus(path string) Corpus {
	return fileCorpus{path: path}
}

func (f fileCorpus) Name() string { return f.path }

func (f fileCorpus) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

type textCorpus struct {
	name string
	text string
}

// TextCorpus returns an in-memory corpus.
func TextCorpus(name, text string) Corpus {
	return textCorpus{name: name, text: text}
}

func (c textCorpus) Name() string { return c.name }

func (c textCorpus) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(c.text)), nil
}
