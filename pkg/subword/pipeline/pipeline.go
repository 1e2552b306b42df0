package pipeline

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/cognicore/subword/pkg/subword/bpe"
	"github.com/cognicore/subword/pkg/subword/ingest"
	"github.com/cognicore/subword/pkg/subword/internalerr"
	"github.com/cognicore/subword/pkg/subword/logging"
	"github.com/cognicore/subword/pkg/subword/metrics"
	"github.com/cognicore/subword/pkg/subword/special"
	"github.com/cognicore/subword/pkg/subword/store"
	"github.com/cognicore/subword/pkg/subword/vocab"
)

// Config holds the settings of one joint learning run.
type Config struct {
	// Inputs are the training corpora, one per language.
	Inputs []ingest.Corpus
	// VocabPaths receive the re-derived vocabulary of the corpus at the
	// same position in Inputs.
	VocabPaths []string
	// CodesPath receives the learned codebook.
	CodesPath string

	Symbols      int
	MinFrequency int
	// SpecialVocabPath names a file of words, one per line, that should
	// survive segmentation whole. Empty disables the feature.
	SpecialVocabPath string
	Separator        string
	Postpend         bool
	TotalSymbols     bool
	// CharacterVocab adds every character of the joint vocabulary to each
	// corpus vocabulary with a count above every real entry.
	CharacterVocab bool
	// DictInput reads every corpus as "word count" lines instead of text.
	DictInput bool
	Verbose   bool

	// Workers bounds how many corpora are re-derived concurrently.
	Workers int
	// ScratchDir holds temporary segmented text; empty means os.TempDir.
	ScratchDir string
	// CacheSize bounds the applier word cache; zero selects the default.
	CacheSize int
	// Store, when set, records every successful run.
	Store store.Store
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Symbols:      10000,
		MinFrequency: 2,
		Separator:    "@@",
		Workers:      1,
	}
}

// Validate reports configuration errors before any file is read or written.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("at least one input corpus is required: %w", internalerr.ErrInvalidConfig)
	}
	if len(c.Inputs) != len(c.VocabPaths) {
		return &internalerr.ConfigMismatchError{Inputs: len(c.Inputs), Outputs: len(c.VocabPaths)}
	}
	if c.CodesPath == "" {
		return fmt.Errorf("codes output path is required: %w", internalerr.ErrInvalidConfig)
	}
	for i, p := range c.VocabPaths {
		if p == "" {
			return fmt.Errorf("vocabulary path %d is empty: %w", i, internalerr.ErrInvalidConfig)
		}
	}
	if c.Symbols <= 0 {
		return fmt.Errorf("symbols must be positive, got %d: %w", c.Symbols, internalerr.ErrInvalidConfig)
	}
	if c.MinFrequency <= 0 {
		return fmt.Errorf("min frequency must be positive, got %d: %w", c.MinFrequency, internalerr.ErrInvalidConfig)
	}
	if c.Separator == "" {
		return fmt.Errorf("separator must not be empty: %w", internalerr.ErrInvalidConfig)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d: %w", c.Workers, internalerr.ErrInvalidConfig)
	}
	return nil
}

// Warning reports a special word that the learned codebook still splits.
type Warning struct {
	Corpus string
	Word   string
	// Position is the index of Word in the loaded special vocabulary.
	Position int
	Pieces   []string
}

func (w Warning) String() string {
	return fmt.Sprintf("special vocab '%s' not captured by merges, split into '%s'", w.Word, strings.Join(w.Pieces, " "))
}

// CorpusVocabulary is the vocabulary re-derived for one corpus.
type CorpusVocabulary struct {
	Corpus  string
	Path    string
	Digest  string
	Entries []vocab.Entry
}

// Result is the outcome of a successful run. All files it names have been
// written.
type Result struct {
	RunID        string
	CreatedAt    time.Time
	Codebook     bpe.Codebook
	Vocabularies []CorpusVocabulary
	Warnings     []Warning
	// Digests maps every written path to the xxhash64 of its content.
	Digests map[string]string
}

// Run learns one codebook over all inputs, re-segments each input with it
// and writes the codebook plus one vocabulary per input. Either every output
// is written or, on error, none is.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := klog.FromContext(ctx).WithName("pipeline")
	started := time.Now()

	mode := ingest.ModeText
	if cfg.DictInput {
		mode = ingest.ModeDict
	}

	specialWords, err := special.Load(ctx, cfg.SpecialVocabPath)
	if err != nil {
		return nil, err
	}

	combined := vocab.NewCounter()
	for _, in := range cfg.Inputs {
		counts, err := ingest.ExtractCorpus(ctx, in, mode)
		if err != nil {
			return nil, err
		}
		logger.V(logging.DEBUG).Info("read corpus", "corpus", in.Name(), "unique", counts.Len())
		combined.Merge(counts)
	}
	for _, w := range specialWords {
		combined.Add(w, 1)
	}
	logger.Info("Vocabulary got unique items", "unique", combined.Len())

	codes, err := bpe.Learn(ctx, combined.Lines(), bpe.LearnOptions{
		Symbols:      cfg.Symbols,
		MinFrequency: cfg.MinFrequency,
		Postpend:     cfg.Postpend,
		TotalSymbols: cfg.TotalSymbols,
		Special:      specialWords,
		Verbose:      cfg.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("learn codebook: %w", err)
	}
	logger.V(logging.DEBUG).Info("codebook learned", "merges", len(codes))

	applier, err := bpe.NewApplier(codes, bpe.ApplierConfig{
		Separator: cfg.Separator,
		Postpend:  cfg.Postpend,
		CacheSize: cfg.CacheSize,
	})
	if err != nil {
		return nil, err
	}

	st := &stager{}
	committed := false
	defer func() {
		if !committed {
			st.discard()
		}
	}()

	codesDigest, err := st.write(cfg.CodesPath, func(w io.Writer) error {
		_, err := codes.WriteTo(w)
		return err
	})
	if err != nil {
		return nil, err
	}

	d := &deriver{
		cfg:     cfg,
		mode:    mode,
		applier: applier,
		special: specialWords,
		stager:  st,
		logger:  logger,
	}
	if cfg.CharacterVocab {
		d.internalChars, d.terminalChars = bpe.ExtractChars(combined.Words(), cfg.Postpend)
	}

	workers := max(cfg.Workers, 1)
	results := make([]derived, len(cfg.Inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range cfg.Inputs {
		g.Go(func() error {
			r, err := d.corpus(gctx, i)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := st.commit(); err != nil {
		return nil, err
	}
	committed = true

	res := &Result{
		RunID:     ulid.MustNew(ulid.Timestamp(started), ulid.Monotonic(rand.Reader, 0)).String(),
		CreatedAt: started,
		Codebook:  codes,
		Digests:   map[string]string{cfg.CodesPath: codesDigest},
	}
	for _, r := range results {
		res.Vocabularies = append(res.Vocabularies, r.vocab)
		res.Warnings = append(res.Warnings, r.warnings...)
		res.Digests[r.vocab.Path] = r.vocab.Digest
	}
	logger.Info("run complete", "run", res.RunID, "merges", len(codes),
		"corpora", len(res.Vocabularies), "warnings", len(res.Warnings), "elapsed", time.Since(started))

	if cfg.Store != nil {
		if err := cfg.Store.RecordRun(ctx, runRecord(cfg, specialWords, res)); err != nil {
			// Outputs are already in place; the caller still gets them.
			return res, fmt.Errorf("record run %s: %w", res.RunID, err)
		}
	}
	return res, nil
}

func runRecord(cfg Config, specialWords []string, res *Result) store.Run {
	r := store.Run{
		ID:             res.RunID,
		CreatedAt:      res.CreatedAt,
		Symbols:        cfg.Symbols,
		MinFrequency:   cfg.MinFrequency,
		Separator:      cfg.Separator,
		Postpend:       cfg.Postpend,
		TotalSymbols:   cfg.TotalSymbols,
		CharacterVocab: cfg.CharacterVocab,
		DictInput:      cfg.DictInput,
		CodesPath:      cfg.CodesPath,
		CodesDigest:    res.Digests[cfg.CodesPath],
		Special:        specialWords,
		Codebook:       res.Codebook,
	}
	for _, v := range res.Vocabularies {
		r.Corpora = append(r.Corpora, store.Corpus{Name: v.Corpus, Path: v.Path, Digest: v.Digest, Entries: v.Entries})
	}
	return r
}

// deriver re-derives per-corpus vocabularies with a fixed applier.
type deriver struct {
	cfg     Config
	mode    ingest.Mode
	applier *bpe.Applier
	special []string
	stager  *stager
	logger  klog.Logger

	internalChars []string
	terminalChars []string
}

type derived struct {
	vocab    CorpusVocabulary
	warnings []Warning
}

func (d *deriver) corpus(ctx context.Context, i int) (derived, error) {
	in := d.cfg.Inputs[i]
	path := d.cfg.VocabPaths[i]
	logger := d.logger.WithValues("corpus", in.Name())
	start := time.Now()
	defer func() { metrics.CorpusDuration.Observe(time.Since(start).Seconds()) }()

	var (
		counts *vocab.Counter
		err    error
	)
	if d.mode == ingest.ModeDict {
		counts, err = d.segmentDict(ctx, in)
	} else {
		counts, err = d.segmentText(ctx, in)
	}
	if err != nil {
		return derived{}, err
	}

	warnings, err := d.foldSpecial(counts, in.Name(), logger)
	if err != nil {
		return derived{}, err
	}
	logger.Info("Vocabulary got unique items", "unique", counts.Len(), "tokens", counts.Total())

	if d.cfg.CharacterVocab {
		top := counts.Max()
		for _, c := range d.terminalChars {
			counts.Set(c, top+2)
		}
		for _, c := range d.internalChars {
			counts.Set(bpe.RenderInternal(c, d.cfg.Separator, d.cfg.Postpend), top+1)
		}
		logger.Info("Got non-terminal and terminal characters",
			"nonTerminal", len(d.internalChars), "terminal", len(d.terminalChars))
	}

	entries := counts.Sorted()
	digest, err := d.stager.write(path, func(w io.Writer) error {
		_, err := vocab.WriteEntries(w, entries)
		return err
	})
	if err != nil {
		return derived{}, err
	}
	metrics.CorporaProcessed.Inc()
	logger.V(logging.DEBUG).Info("vocabulary staged", "path", path, "entries", len(entries))

	return derived{
		vocab:    CorpusVocabulary{Corpus: in.Name(), Path: path, Digest: digest, Entries: entries},
		warnings: warnings,
	}, nil
}

// segmentDict segments every dictionary word and credits its count to each
// of its pieces.
func (d *deriver) segmentDict(ctx context.Context, in ingest.Corpus) (*vocab.Counter, error) {
	rc, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", in.Name(), err)
	}
	defer rc.Close()

	counts := vocab.NewCounter()
	err = ingest.EachLine(ctx, rc, func(i int, line string) error {
		e, err := vocab.ParseEntry(line)
		if err != nil {
			return &internalerr.MalformedInputError{Source: in.Name(), Line: i, Raw: line, Reason: err.Error()}
		}
		pieces, err := d.applier.Segment(e.Symbol)
		if err != nil {
			return &internalerr.SegmentationError{Source: in.Name(), Line: i, Word: e.Symbol, Malformed: true, Err: err}
		}
		for _, p := range pieces {
			counts.Add(p, e.Count)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// segmentText writes the segmented corpus to a scratch file and counts the
// pieces of that file.
func (d *deriver) segmentText(ctx context.Context, in ingest.Corpus) (*vocab.Counter, error) {
	rc, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", in.Name(), err)
	}
	defer rc.Close()

	scratch, err := os.CreateTemp(d.cfg.ScratchDir, "subword-segmented-*.txt")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	defer func() {
		scratch.Close()
		os.Remove(scratch.Name())
	}()

	bw := bufio.NewWriter(scratch)
	err = ingest.EachLine(ctx, rc, func(i int, line string) error {
		out, err := d.applier.SegmentLine(line)
		if err != nil {
			return &internalerr.SegmentationError{Source: in.Name(), Line: i, Word: line, Err: err}
		}
		bw.WriteString(out)
		return bw.WriteByte('\n')
	})
	if err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind scratch file: %w", err)
	}
	return ingest.Extract(ctx, scratch, in.Name(), ingest.ModeText)
}

// foldSpecial adds one occurrence of every piece of every special word.
func (d *deriver) foldSpecial(counts *vocab.Counter, corpus string, logger klog.Logger) ([]Warning, error) {
	var warnings []Warning
	for pos, w := range d.special {
		pieces, err := d.applier.Segment(w)
		if err != nil {
			return nil, &internalerr.SegmentationError{Source: d.cfg.SpecialVocabPath, Line: pos, Word: w, Err: err}
		}
		if len(pieces) > 1 {
			warn := Warning{Corpus: corpus, Word: w, Position: pos, Pieces: pieces}
			warnings = append(warnings, warn)
			metrics.SpecialSplits.Inc()
			logger.Info("WARNING: special vocab not captured by merges",
				"word", w, "position", pos, "pieces", strings.Join(pieces, " "))
		}
		for _, p := range pieces {
			counts.Add(p, 1)
		}
	}
	return warnings, nil
}
