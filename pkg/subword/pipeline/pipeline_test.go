package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/subword/pkg/subword/bpe"
	"github.com/cognicore/subword/pkg/subword/ingest"
	"github.com/cognicore/subword/pkg/subword/internalerr"
	"github.com/cognicore/subword/pkg/subword/store/memstore"
	"github.com/cognicore/subword/pkg/subword/vocab"
)

const (
	dictA = "low 5\nlowest 2\n"
	dictB = "newer 6\nwider 3\n"
	textA = "low low low low low\nlowest lowest\n"
	textB = "newer newer newer\nnewer newer newer  wider\n\nwider wider\n"
)

var wantCodes = bpe.Codebook{
	{Left: "e", Right: "r</w>"},
	{Left: "l", Right: "o"},
	{Left: "w", Right: "er</w>"},
	{Left: "n", Right: "e"},
	{Left: "ne", Right: "wer</w>"},
	{Left: "lo", Right: "w</w>"},
	{Left: "w", Right: "i"},
	{Left: "wi", Right: "d"},
	{Left: "wid", Right: "er</w>"},
	{Left: "w", Right: "e"},
}

func testConfig(t *testing.T, dict bool, corpora ...string) (Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Symbols = 10
	cfg.DictInput = dict
	cfg.ScratchDir = t.TempDir()
	cfg.CodesPath = filepath.Join(dir, "codes.bpe")
	for i, text := range corpora {
		name := fmt.Sprintf("train.%d", i)
		cfg.Inputs = append(cfg.Inputs, ingest.TextCorpus(name, text))
		cfg.VocabPaths = append(cfg.VocabPaths, filepath.Join(dir, "vocab."+name))
	}
	return cfg, dir
}

func entryMap(entries []vocab.Entry) map[string]int64 {
	m := make(map[string]int64, len(entries))
	for _, e := range entries {
		m[e.Symbol] = e.Count
	}
	return m
}

// wordTokens sums the counts of pieces that end a word.
func wordTokens(entries []vocab.Entry, sep string) int64 {
	var n int64
	for _, e := range entries {
		if !strings.HasSuffix(e.Symbol, sep) {
			n += e.Count
		}
	}
	return n
}

func TestRunDictionaryInputs(t *testing.T) {
	cfg, _ := testConfig(t, true, dictA, dictB)

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, wantCodes, res.Codebook)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Vocabularies, 2)

	a := res.Vocabularies[0]
	assert.Equal(t, "train.0", a.Corpus)
	assert.Equal(t, []vocab.Entry{
		{Symbol: "low", Count: 5},
		{Symbol: "lo@@", Count: 2},
		{Symbol: "s@@", Count: 2},
		{Symbol: "t", Count: 2},
		{Symbol: "we@@", Count: 2},
	}, a.Entries)
	assert.Equal(t, int64(7), wordTokens(a.Entries, "@@"))

	b := res.Vocabularies[1]
	assert.Equal(t, []vocab.Entry{{Symbol: "newer", Count: 6}, {Symbol: "wider", Count: 3}}, b.Entries)
	assert.Equal(t, int64(9), wordTokens(b.Entries, "@@"))
}

func TestRunWritesFiles(t *testing.T) {
	cfg, _ := testConfig(t, true, dictA, dictB)

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	codes, err := os.ReadFile(cfg.CodesPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(codes), "#version: 0.2\ne r</w>\nl o\n"))
	assert.Len(t, strings.Split(strings.TrimSpace(string(codes)), "\n"), 11)

	data, err := os.ReadFile(cfg.VocabPaths[0])
	require.NoError(t, err)
	assert.Equal(t, "low 5\nlo@@ 2\ns@@ 2\nt 2\nwe@@ 2\n", string(data))

	require.Len(t, res.Digests, 3)
	for _, path := range append([]string{cfg.CodesPath}, cfg.VocabPaths...) {
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%016x", xxhash.Sum64(content)), res.Digests[path], path)
	}

	info, err := os.Stat(cfg.CodesPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestRunTextMatchesDictionary(t *testing.T) {
	dictCfg, _ := testConfig(t, true, dictA, dictB)
	textCfg, _ := testConfig(t, false, textA, textB)

	fromDict, err := Run(context.Background(), dictCfg)
	require.NoError(t, err)
	fromText, err := Run(context.Background(), textCfg)
	require.NoError(t, err)

	assert.Equal(t, fromDict.Codebook, fromText.Codebook)
	for i := range fromDict.Vocabularies {
		assert.Equal(t, fromDict.Vocabularies[i].Entries, fromText.Vocabularies[i].Entries)
	}

	scratch, err := os.ReadDir(textCfg.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, scratch, "scratch files are removed")
}

func TestRunConfigMismatch(t *testing.T) {
	cfg, dir := testConfig(t, true, dictA, dictB)
	cfg.VocabPaths = cfg.VocabPaths[:1]

	_, err := Run(context.Background(), cfg)
	var mismatch *internalerr.ConfigMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 2, mismatch.Inputs)
	assert.Equal(t, 1, mismatch.Outputs)
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestValidate(t *testing.T) {
	base, _ := testConfig(t, true, dictA)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no inputs", func(c *Config) { c.Inputs, c.VocabPaths = nil, nil }},
		{"no codes path", func(c *Config) { c.CodesPath = "" }},
		{"empty vocab path", func(c *Config) { c.VocabPaths[0] = "" }},
		{"zero symbols", func(c *Config) { c.Symbols = 0 }},
		{"zero min frequency", func(c *Config) { c.MinFrequency = 0 }},
		{"empty separator", func(c *Config) { c.Separator = "" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.VocabPaths = append([]string(nil), base.VocabPaths...)
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), internalerr.ErrInvalidConfig)
		})
	}
	assert.NoError(t, base.Validate())
}

func TestRunSpecialWordWarning(t *testing.T) {
	cfg, dir := testConfig(t, true, dictA, dictB)
	cfg.SpecialVocabPath = filepath.Join(dir, "special.txt")
	require.NoError(t, os.WriteFile(cfg.SpecialVocabPath, []byte("\nunbelievable\n"), 0o644))

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, wantCodes, res.Codebook, "a count of one never outranks the learned pairs")
	require.Len(t, res.Warnings, 2, "one warning per corpus")

	w := res.Warnings[0]
	assert.Equal(t, "train.0", w.Corpus)
	assert.Equal(t, "unbelievable", w.Word)
	assert.Equal(t, 0, w.Position)
	require.Len(t, w.Pieces, 12)
	assert.Equal(t, "u@@", w.Pieces[0])
	assert.Equal(t, "e", w.Pieces[11])
	assert.True(t, strings.HasPrefix(w.String(), "special vocab 'unbelievable' not captured by merges, split into 'u@@ n@@ b@@"))
	assert.Equal(t, "train.1", res.Warnings[1].Corpus)

	// Each piece of the special word is credited once per corpus.
	b := entryMap(res.Vocabularies[1].Entries)
	assert.Equal(t, int64(1), b["u@@"])
	assert.Equal(t, int64(2), b["b@@"])
	assert.Equal(t, int64(1), b["e"])
	assert.Equal(t, int64(6), b["newer"])
}

func TestRunSpecialWordCaptured(t *testing.T) {
	cfg, dir := testConfig(t, true, dictA, dictB)
	cfg.SpecialVocabPath = filepath.Join(dir, "special.txt")
	require.NoError(t, os.WriteFile(cfg.SpecialVocabPath, []byte("newer\n"), 0o644))

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, int64(7), entryMap(res.Vocabularies[1].Entries)["newer"])
	assert.Equal(t, int64(1), entryMap(res.Vocabularies[0].Entries)["newer"])
}

func TestRunCharacterVocabulary(t *testing.T) {
	cfg, _ := testConfig(t, true, dictA, dictB)
	cfg.CharacterVocab = true

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	a := entryMap(res.Vocabularies[0].Entries)
	for _, c := range []string{"r", "t", "w"} {
		assert.Equal(t, int64(7), a[c], c)
	}
	for _, c := range []string{"d", "e", "i", "l", "n", "o", "s", "w"} {
		assert.Equal(t, int64(6), a[c+"@@"], c)
	}
	assert.Equal(t, int64(5), a["low"])
	assert.Equal(t, int64(2), a["lo@@"])

	first := res.Vocabularies[0].Entries[0]
	assert.Equal(t, vocab.Entry{Symbol: "r", Count: 7}, first)

	b := entryMap(res.Vocabularies[1].Entries)
	assert.Equal(t, int64(8), b["t"], "pseudo-counts follow the corpus maximum")
	assert.Equal(t, int64(7), b["s@@"])
}

func TestRunPostpendCharacters(t *testing.T) {
	cfg, _ := testConfig(t, true, "ab 4\n")
	cfg.Postpend = true
	cfg.CharacterVocab = true
	cfg.Symbols = 1

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, bpe.Codebook{{Left: "<w>a", Right: "b"}}, res.Codebook)

	got := entryMap(res.Vocabularies[0].Entries)
	assert.Equal(t, int64(4), got["ab"])
	assert.Equal(t, int64(6), got["a"], "the word-initial character is terminal")
	assert.Equal(t, int64(5), got["@@b"])
}

func TestRunWorkersMatchSequential(t *testing.T) {
	corpora := []string{dictA, dictB, "lower 4\nwidest 1\n", "newest 3\n"}
	seqCfg, _ := testConfig(t, true, corpora...)
	parCfg, _ := testConfig(t, true, corpora...)
	parCfg.Workers = 3

	seq, err := Run(context.Background(), seqCfg)
	require.NoError(t, err)
	par, err := Run(context.Background(), parCfg)
	require.NoError(t, err)

	assert.Equal(t, seq.Codebook, par.Codebook)
	require.Len(t, par.Vocabularies, len(corpora))
	for i := range seq.Vocabularies {
		assert.Equal(t, seq.Vocabularies[i].Corpus, par.Vocabularies[i].Corpus)
		assert.Equal(t, seq.Vocabularies[i].Entries, par.Vocabularies[i].Entries)
		assert.Equal(t, seq.Vocabularies[i].Digest, par.Vocabularies[i].Digest)
	}
}

func TestRunFailureLeavesOutputsUntouched(t *testing.T) {
	cfg, dir := testConfig(t, true, dictA, "newer 6\n\xff\xfe 3\n")
	require.NoError(t, os.WriteFile(cfg.CodesPath, []byte("previous\n"), 0o644))

	_, err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerr.ErrSegmentation)
	assert.ErrorIs(t, err, internalerr.ErrMalformedInput)

	var segErr *internalerr.SegmentationError
	require.True(t, errors.As(err, &segErr))
	assert.Equal(t, "train.1", segErr.Source)
	assert.Equal(t, 1, segErr.Line)

	data, err := os.ReadFile(cfg.CodesPath)
	require.NoError(t, err)
	assert.Equal(t, "previous\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no vocabulary or staged files remain")
	assert.Equal(t, "codes.bpe", entries[0].Name())
}

func TestRunMalformedDictionary(t *testing.T) {
	cfg, dir := testConfig(t, true, dictA, "newer 6\nwider\n")

	_, err := Run(context.Background(), cfg)
	var malformed *internalerr.MalformedInputError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "train.1", malformed.Source)
	assert.Equal(t, 1, malformed.Line)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunCancelled(t *testing.T) {
	cfg, dir := testConfig(t, true, dictA, dictB)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, cfg)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunRecordsToStore(t *testing.T) {
	cfg, _ := testConfig(t, true, dictA, dictB)
	st := memstore.New()
	cfg.Store = st
	ctx := context.Background()

	res, err := Run(ctx, cfg)
	require.NoError(t, err)

	run, err := st.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 10, run.Symbols)
	assert.Equal(t, res.Digests[cfg.CodesPath], run.CodesDigest)
	require.Len(t, run.Corpora, 2)
	assert.Equal(t, "train.1", run.Corpora[1].Name)

	merges, err := st.Merges(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, wantCodes, merges)

	entries, err := st.Vocabulary(ctx, res.RunID, "train.0")
	require.NoError(t, err)
	assert.Equal(t, res.Vocabularies[0].Entries, entries)
}

func TestRunDeterministic(t *testing.T) {
	first, _ := testConfig(t, false, textA, textB)
	second, _ := testConfig(t, false, textA, textB)
	first.CharacterVocab, second.CharacterVocab = true, true

	a, err := Run(context.Background(), first)
	require.NoError(t, err)
	b, err := Run(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, a.Digests[first.CodesPath], b.Digests[second.CodesPath])
	for i := range first.VocabPaths {
		left, err := os.ReadFile(first.VocabPaths[i])
		require.NoError(t, err)
		right, err := os.ReadFile(second.VocabPaths[i])
		require.NoError(t, err)
		assert.Equal(t, left, right)
	}
}

func TestRunTextCountConservation(t *testing.T) {
	cfg, _ := testConfig(t, false, textA, textB)

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	// Pieces per token: low 1, lowest 4, newer 1, wider 1.
	var sumA, sumB int64
	for _, e := range res.Vocabularies[0].Entries {
		sumA += e.Count
	}
	for _, e := range res.Vocabularies[1].Entries {
		sumB += e.Count
	}
	assert.Equal(t, int64(5+2*4), sumA)
	assert.Equal(t, int64(9), sumB)
}

func TestRunVocabularySorted(t *testing.T) {
	cfg, _ := testConfig(t, true, dictA, dictB, "lower 4\nwidest 1\nnewest 3\n")
	cfg.CharacterVocab = true

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	for _, v := range res.Vocabularies {
		for i := 1; i < len(v.Entries); i++ {
			prev, cur := v.Entries[i-1], v.Entries[i]
			ordered := prev.Count > cur.Count || (prev.Count == cur.Count && prev.Symbol < cur.Symbol)
			assert.True(t, ordered, "%s: %v before %v", v.Corpus, prev, cur)
		}
	}
}

func TestRunSpecialWordPadded(t *testing.T) {
	cfg, dir := testConfig(t, true, dictA, dictB)
	cfg.SpecialVocabPath = filepath.Join(dir, "special.txt")
	require.NoError(t, os.WriteFile(cfg.SpecialVocabPath, []byte(" newer\n"), 0o644))

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, int64(7), entryMap(res.Vocabularies[1].Entries)["newer"])
}
