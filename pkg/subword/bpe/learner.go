package bpe

import (
	"container/heap"
	"context"
	"iter"

	"k8s.io/klog/v2"

	"github.com/cognicore/subword/pkg/subword/internalerr"
	"github.com/cognicore/subword/pkg/subword/logging"
	"github.com/cognicore/subword/pkg/subword/metrics"
	"github.com/cognicore/subword/pkg/subword/vocab"
)

// LearnOptions controls merge learning.
type LearnOptions struct {
	// Symbols is the number of merges to create.
	Symbols int
	// MinFrequency stops learning once no pair occurs at least this often.
	MinFrequency int
	// Postpend marks word starts instead of word ends.
	Postpend bool
	// TotalSymbols subtracts the number of unique characters from Symbols,
	// so that Symbols estimates the size of the whole symbol inventory.
	TotalSymbols bool
	// Special lists words that should preferably end up unsegmented.
	Special []string
	// Verbose logs every merge at default verbosity.
	Verbose bool
}

// learnSource names the vocabulary in error reports.
const learnSource = "vocabulary"

type learnWord struct {
	word    string
	symbols []string
	freq    int64
}

type learner struct {
	words []learnWord
	stats map[Merge]int64
	index map[Merge]map[int]struct{}
	queue pairHeap
	dirty map[Merge]struct{}
}

// Learn reads "word count" lines and returns the learned codebook. Learning
// stops after opts.Symbols merges or when the most frequent pair occurs fewer
// than opts.MinFrequency times. If special words remain split after that and
// budget is left, merges inside those words are added regardless of the
// frequency floor.
//
// The result depends only on the multiset of lines, not on their order.
func Learn(ctx context.Context, lines iter.Seq[string], opts LearnOptions) (Codebook, error) {
	logger := klog.FromContext(ctx).WithName("bpe.Learn")

	counts := vocab.NewCounter()
	i := 0
	for line := range lines {
		e, err := vocab.ParseEntry(line)
		if err != nil {
			return nil, &internalerr.MalformedInputError{Source: learnSource, Line: i, Raw: line, Reason: err.Error()}
		}
		counts.Add(e.Symbol, e.Count)
		i++
	}

	budget := opts.Symbols
	if opts.TotalSymbols {
		internal, terminal := ExtractChars(counts.Words(), opts.Postpend)
		budget -= len(internal) + len(terminal)
		logger.V(logging.DEBUG).Info("adjusted symbol budget",
			"internalChars", len(internal), "terminalChars", len(terminal), "budget", budget)
	}

	mergeLog := logger.V(logging.TRACE)
	if opts.Verbose {
		mergeLog = logger.V(0)
	}

	l := newLearner(counts, opts.Postpend)
	var codes Codebook

	for len(codes) < budget {
		if len(codes)%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		best, freq, ok := l.best(nil)
		if !ok {
			break
		}
		if freq < int64(opts.MinFrequency) {
			logger.V(logging.DEBUG).Info("no pair reaches minimum frequency, stopping",
				"minFrequency", opts.MinFrequency, "merges", len(codes))
			break
		}
		mergeLog.Info("merge", "rank", len(codes), "left", best.Left, "right", best.Right, "frequency", freq)
		l.apply(best)
		codes = append(codes, best)
	}

	if len(opts.Special) > 0 {
		more, err := l.completeSpecial(ctx, mergeLog, opts.Special, budget-len(codes))
		if err != nil {
			return nil, err
		}
		codes = append(codes, more...)
	}

	metrics.MergesLearned.Add(float64(len(codes)))
	logger.V(logging.DEBUG).Info("learned codebook", "merges", len(codes), "words", len(l.words))
	return codes, nil
}

func newLearner(counts *vocab.Counter, postpend bool) *learner {
	entries := counts.Sorted()
	l := &learner{
		words: make([]learnWord, 0, len(entries)),
		stats: make(map[Merge]int64),
		index: make(map[Merge]map[int]struct{}),
		dirty: make(map[Merge]struct{}),
	}
	for _, e := range entries {
		if e.Symbol == "" {
			continue
		}
		l.words = append(l.words, learnWord{word: e.Symbol, symbols: splitSymbols(e.Symbol, postpend), freq: e.Count})
		l.count(len(l.words)-1, 1)
	}
	l.flush()
	return l
}

// count adds (sign 1) or removes (sign -1) the pair statistics of word i.
func (l *learner) count(i int, sign int64) {
	w := l.words[i]
	for j := 0; j+1 < len(w.symbols); j++ {
		p := Merge{Left: w.symbols[j], Right: w.symbols[j+1]}
		l.stats[p] += sign * w.freq
		l.dirty[p] = struct{}{}
		if sign > 0 {
			words, ok := l.index[p]
			if !ok {
				words = make(map[int]struct{})
				l.index[p] = words
			}
			words[i] = struct{}{}
		} else if l.stats[p] <= 0 {
			delete(l.stats, p)
		}
	}
}

// flush queues the current count of every pair changed since the last flush.
func (l *learner) flush() {
	for p := range l.dirty {
		if f := l.stats[p]; f > 0 {
			heap.Push(&l.queue, pairFreq{pair: p, freq: f})
		}
	}
	clear(l.dirty)
}

// best returns the most frequent pair, restricted to allowed when non-nil.
// Ties go to the lexicographically greatest pair.
func (l *learner) best(allowed map[Merge]struct{}) (Merge, int64, bool) {
	if allowed == nil {
		c, ok := l.queue.top(l.stats)
		return c.pair, c.freq, ok
	}

	var (
		best  Merge
		freq  int64
		found bool
	)
	consider := func(p Merge, f int64) {
		if f <= 0 {
			return
		}
		if !found || f > freq || (f == freq && pairLess(best, p)) {
			best, freq, found = p, f, true
		}
	}
	for p := range allowed {
		consider(p, l.stats[p])
	}
	return best, freq, found
}

func pairLess(a, b Merge) bool {
	if a.Left != b.Left {
		return a.Left < b.Left
	}
	return a.Right < b.Right
}

// apply merges m in every word that contains it and updates statistics.
func (l *learner) apply(m Merge) {
	for i := range l.index[m] {
		merged := mergeAll(l.words[i].symbols, m)
		if len(merged) == len(l.words[i].symbols) {
			continue
		}
		l.count(i, -1)
		l.words[i].symbols = merged
		l.count(i, 1)
	}
	delete(l.index, m)
	delete(l.stats, m)
	l.flush()
}

// completeSpecial keeps merging pairs inside still-split special words until
// each is a single symbol or the remaining budget is spent. Special words
// absent from the vocabulary are ignored.
func (l *learner) completeSpecial(ctx context.Context, mergeLog klog.Logger, special []string, remaining int) (Codebook, error) {
	byWord := make(map[string]int, len(l.words))
	for i, w := range l.words {
		byWord[w.word] = i
	}
	targets := make([]int, 0, len(special))
	for _, s := range special {
		if i, ok := byWord[s]; ok {
			targets = append(targets, i)
		}
	}

	var codes Codebook
	for len(codes) < remaining {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		allowed := make(map[Merge]struct{})
		for _, i := range targets {
			syms := l.words[i].symbols
			for j := 0; j+1 < len(syms); j++ {
				allowed[Merge{Left: syms[j], Right: syms[j+1]}] = struct{}{}
			}
		}
		best, freq, ok := l.best(allowed)
		if !ok {
			break
		}
		mergeLog.Info("special merge", "rank", len(codes), "left", best.Left, "right", best.Right, "frequency", freq)
		l.apply(best)
		codes = append(codes, best)
	}
	return codes, nil
}
