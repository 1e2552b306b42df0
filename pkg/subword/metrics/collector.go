package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
)

var (
	// MergesLearned counts merge operations emitted by the learner.
	MergesLearned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "subword", Subsystem: "learn", Name: "merges_total",
		Help: "Total number of BPE merge operations learned",
	})
	// SegmentRequests counts words passed to the applier.
	SegmentRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "subword", Subsystem: "apply", Name: "segment_requests_total",
		Help: "Total number of word segmentation requests",
	})
	// SegmentCacheHits counts segmentation requests served from the word cache.
	SegmentCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "subword", Subsystem: "apply", Name: "segment_cache_hits_total",
		Help: "Number of segmentation requests served from cache",
	})
	CorporaProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "subword", Subsystem: "pipeline", Name: "corpora_processed_total",
		Help: "Total number of corpora re-segmented into a vocabulary",
	})
	SpecialSplits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "subword", Subsystem: "pipeline", Name: "special_splits_total",
		Help: "Number of special words split into more than one piece",
	})
	// CorpusDuration observes per-corpus re-derivation time.
	CorpusDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "subword", Subsystem: "pipeline", Name: "corpus_duration_seconds",
		Help:    "Time spent re-deriving one corpus vocabulary",
		Buckets: prometheus.DefBuckets,
	})
)

// Collectors returns a slice of all pipeline collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MergesLearned,
		SegmentRequests, SegmentCacheHits,
		CorporaProcessed, SpecialSplits, CorpusDuration,
	}
}

var registerMetricsOnce = sync.Once{}

// Register registers all collectors with reg once per process.
func Register(reg prometheus.Registerer) {
	registerMetricsOnce.Do(func() {
		reg.MustRegister(Collectors()...)
	})
}

// LogSummary logs the current metric values.
func LogSummary(ctx context.Context) {
	var m dto.Metric

	values := make([]any, 0, 12)
	for _, c := range []struct {
		name    string
		counter prometheus.Counter
	}{
		{"merges", MergesLearned},
		{"segmentRequests", SegmentRequests},
		{"segmentCacheHits", SegmentCacheHits},
		{"corpora", CorporaProcessed},
		{"specialSplits", SpecialSplits},
	} {
		if err := c.counter.Write(&m); err != nil {
			return
		}
		values = append(values, c.name, m.GetCounter().GetValue())
	}

	var hist dto.Metric
	if err := CorpusDuration.Write(&hist); err != nil {
		return
	}
	values = append(values,
		"corpusSeconds", hist.GetHistogram().GetSampleSum(),
	)

	klog.FromContext(ctx).WithName("metrics").Info("pipeline summary", values...)
}
