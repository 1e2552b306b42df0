package bpe

import "container/heap"

type pairFreq struct {
	pair Merge
	freq int64
}

// pairHeap orders candidate pairs by frequency, then by greatest pair.
// Entries go stale when a pair's count changes; callers compare against the
// live statistics and drop mismatches.
type pairHeap []pairFreq

func (h pairHeap) Len() int { return len(h) }

func (h pairHeap) Less(i, j int) bool {
	if h[i].freq != h[j].freq {
		return h[i].freq > h[j].freq
	}
	return pairLess(h[j].pair, h[i].pair)
}

func (h pairHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pairHeap) Push(x any) { *h = append(*h, x.(pairFreq)) }

func (h *pairHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// top returns the most frequent live pair without removing it.
func (h *pairHeap) top(stats map[Merge]int64) (pairFreq, bool) {
	for h.Len() > 0 {
		c := (*h)[0]
		if stats[c.pair] == c.freq {
			return c, true
		}
		heap.Pop(h)
	}
	return pairFreq{}, false
}
