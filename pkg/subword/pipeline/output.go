package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// stager writes artifacts next to their destination and moves them into
// place only on commit, so a failed run leaves earlier files untouched.
type stager struct {
	mu    sync.Mutex
	files []stagedFile
}

type stagedFile struct {
	final string
	tmp   string
}

// write stages the output of fn for path and returns the xxhash64 digest of
// the bytes written.
func (s *stager) write(path string, fn func(w io.Writer) error) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", path, err)
	}

	s.mu.Lock()
	s.files = append(s.files, stagedFile{final: path, tmp: f.Name()})
	s.mu.Unlock()

	if err := f.Chmod(0o644); err != nil {
		f.Close()
		return "", fmt.Errorf("stage %s: %w", path, err)
	}

	digest := xxhash.New()
	bw := bufio.NewWriter(io.MultiWriter(f, digest))
	if err := fn(bw); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return fmt.Sprintf("%016x", digest.Sum64()), nil
}

// commit renames every staged file onto its destination.
func (s *stager) commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sf := range s.files {
		if err := os.Rename(sf.tmp, sf.final); err != nil {
			s.files = s.files[i:]
			return fmt.Errorf("commit %s: %w", sf.final, err)
		}
	}
	s.files = nil
	return nil
}

// discard removes staged files that were not committed.
func (s *stager) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sf := range s.files {
		os.Remove(sf.tmp)
	}
	s.files = nil
}
