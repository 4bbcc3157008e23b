package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bhandzo/cw-search-prototype/pkg/kafka"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64                 `json:"total_searches"`
	FailedSearches    int64                 `json:"failed_searches"`
	CancelledSearches int64                 `json:"cancelled_searches"`
	FailureRate       float64               `json:"failure_rate"`
	CacheHits         int64                 `json:"cache_hits"`
	CacheMisses       int64                 `json:"cache_misses"`
	ZeroResultCount   int64                 `json:"zero_result_count"`
	AvgLatencyMs      float64               `json:"avg_latency_ms"`
	P50LatencyMs      int64                 `json:"p50_latency_ms"`
	P95LatencyMs      int64                 `json:"p95_latency_ms"`
	P99LatencyMs      int64                 `json:"p99_latency_ms"`
	P95TimeToInitial  int64                 `json:"p95_time_to_initial_ms"`
	TopKeywords       []KeywordCount        `json:"top_keywords"`
	Enrichment        map[string]StageStats `json:"enrichment"`
	SearchesPerMinute float64               `json:"searches_per_minute"`
}

type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int64  `json:"count"`
}

// StageStats counts enrichment outcomes for one stage.
type StageStats struct {
	OK          int64   `json:"ok"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	AvgMs       float64 `json:"avg_ms"`
}

type stageAcc struct {
	ok, failed int64
	totalMs    int64
}

// Aggregator folds search and enrichment events into running statistics.
type Aggregator struct {
	mu            sync.RWMutex
	totalSearches int64
	failed        int64
	cancelled     int64
	cacheHits     int64
	cacheMisses   int64
	zeroResults   int64
	latencies     []int64
	toInitial     []int64
	keywordCounts map[string]int64
	stages        map[string]*stageAcc
	startTime     time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:     make([]int64, 0, 1024),
		toInitial:     make([]int64, 0, 1024),
		keywordCounts: make(map[string]int64),
		stages:        make(map[string]*stageAcc),
		startTime:     time.Now(),
		logger:        logger.WithComponent("analytics-aggregator"),
	}
}

// HandleEvent adapts the aggregator to a Kafka consumer. Undecodable
// messages are logged and skipped so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		ev, err := DecodeEvent(msg.Value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event",
				"topic", msg.Topic,
				"key", string(msg.Key),
				"error", err,
			)
			return nil
		}
		switch e := ev.(type) {
		case *SearchEvent:
			agg.RecordSearch(*e)
		case *EnrichmentEvent:
			agg.RecordEnrichment(*e)
		}
		return nil
	}
}

func (a *Aggregator) RecordSearch(ev SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalSearches++
	switch ev.Status {
	case StatusFailed:
		a.failed++
	case StatusCancelled:
		a.cancelled++
	}
	if ev.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if ev.Status != StatusFailed && ev.Total == 0 {
		a.zeroResults++
	}
	a.latencies = appendWindow(a.latencies, ev.LatencyMs)
	if ev.Status != StatusFailed {
		a.toInitial = appendWindow(a.toInitial, ev.TimeToInitialMs)
	}
	for _, kw := range ev.Keywords {
		a.keywordCounts[kw]++
	}
}

func (a *Aggregator) RecordEnrichment(ev EnrichmentEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.stages[ev.Stage]
	if !ok {
		acc = &stageAcc{}
		a.stages[ev.Stage] = acc
	}
	switch ev.Status {
	case "ok":
		acc.ok++
	case "failed":
		acc.failed++
	default:
		return
	}
	acc.totalMs += ev.DurationMs
}

func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsTop(10)
}

// StatsTop is Stats with the top-keywords list cut at n.
func (a *Aggregator) StatsTop(n int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:     a.totalSearches,
		FailedSearches:    a.failed,
		CancelledSearches: a.cancelled,
		CacheHits:         a.cacheHits,
		CacheMisses:       a.cacheMisses,
		ZeroResultCount:   a.zeroResults,
		Enrichment:        make(map[string]StageStats, len(a.stages)),
	}
	if a.totalSearches > 0 {
		stats.FailureRate = float64(a.failed) / float64(a.totalSearches)
	}
	if len(a.latencies) > 0 {
		sorted := sortedCopy(a.latencies)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if len(a.toInitial) > 0 {
		stats.P95TimeToInitial = percentile(sortedCopy(a.toInitial), 95)
	}
	stats.TopKeywords = topN(a.keywordCounts, n)
	for stage, acc := range a.stages {
		s := StageStats{OK: acc.ok, Failed: acc.failed}
		if n := acc.ok + acc.failed; n > 0 {
			s.SuccessRate = float64(acc.ok) / float64(n)
			s.AvgMs = float64(acc.totalMs) / float64(n)
		}
		stats.Enrichment[stage] = s
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.SearchesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func appendWindow(window []int64, v int64) []int64 {
	if len(window) >= maxLatencySamples {
		copy(window, window[1:])
		window = window[:len(window)-1]
	}
	return append(window, v)
}

func sortedCopy(in []int64) []int64 {
	out := make([]int64, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []KeywordCount {
	result := make([]KeywordCount, 0, len(counts))
	for kw, count := range counts {
		result = append(result, KeywordCount{Keyword: kw, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Keyword < result[j].Keyword
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
