// Command loadtest drives concurrent streamed searches against a running
// search service and reports time-to-initial and time-to-close latency.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/searcher/stream"
)

type Config struct {
	BaseURL     string
	Token       string
	Concurrency int
	Duration    time.Duration
	Searches    []map[string][]string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	streamErrors  atomic.Int64

	mu            sync.Mutex
	timeToInitial []time.Duration
	timeToClose   []time.Duration
	statusCodes   map[int]int64
	events        map[stream.EventType]int64
}

func NewStats() *Stats {
	return &Stats{
		timeToInitial: make([]time.Duration, 0, 10000),
		timeToClose:   make([]time.Duration, 0, 10000),
		statusCodes:   make(map[int]int64),
		events:        make(map[stream.EventType]int64),
	}
}

// result is what one streamed search observed.
type result struct {
	status    int
	initial   time.Duration
	closed    time.Duration
	events    map[stream.EventType]int64
	streamErr bool
}

func (s *Stats) Record(r result, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if r.status >= 200 && r.status < 300 && !r.streamErr {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}
	if r.streamErr {
		s.streamErrors.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCodes[r.status]++
	for t, n := range r.events {
		s.events[t] += n
	}
	if r.initial > 0 {
		s.timeToInitial = append(s.timeToInitial, r.initial)
	}
	s.timeToClose = append(s.timeToClose, r.closed)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	token := flag.String("token", os.Getenv("CW_SESSION_TOKEN"), "session token (skips login)")
	firm := flag.String("firm", os.Getenv("CW_FIRM_SLUG"), "firm slug used to log in")
	apiKey := flag.String("api-key", os.Getenv("CW_FIRM_API_KEY"), "firm API key used to log in")
	authKey := flag.String("auth-key", os.Getenv("CW_CLOCKWORK_AUTH_KEY"), "clockwork auth key used to log in")
	maxCandidates := flag.Int("max-candidates", 3, "candidates enriched per search")
	concurrency := flag.Int("concurrency", 5, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	searches := []map[string][]string{
		{"title": {"software engineer"}},
		{"title": {"cfo", "finance director"}, "industry": {"fintech"}},
		{"title": {"product manager"}, "location": {"london"}},
		{"skills": {"go", "kubernetes"}},
		{"title": {"head of sales"}, "industry": {"saas"}, "location": {"new york"}},
		{"title": {"data scientist"}, "skills": {"python"}},
		{"title": {"vp engineering"}, "experience": {"10 years"}},
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Token:       *token,
		Concurrency: *concurrency,
		Duration:    *duration,
		Searches:    searches,
	}

	if cfg.Token == "" {
		t, err := login(cfg.BaseURL, *firm, *apiKey, *authKey, *maxCandidates)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		cfg.Token = t
	}

	fmt.Println("=== Candidate Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Searches:    %d unique\n", len(cfg.Searches))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func login(baseURL, firm, apiKey, authKey string, maxCandidates int) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"firmSlug":         firm,
		"firmApiKey":       apiKey,
		"clockworkAuthKey": authKey,
		"maxCandidates":    maxCandidates,
	})
	resp, err := http.Post(baseURL+"/api/v1/credentials", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
	}
	return out.Token, nil
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			idx := workerID
			for ctx.Err() == nil {
				keywords := cfg.Searches[idx%len(cfg.Searches)]
				idx++
				r, err := runSearch(ctx, client, cfg, keywords)
				if ctx.Err() != nil {
					return
				}
				stats.Record(r, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func runSearch(ctx context.Context, client *http.Client, cfg Config, keywords map[string][]string) (result, error) {
	body, err := json.Marshal(map[string]any{"keywords": keywords})
	if err != nil {
		return result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("Authorization", "Bearer "+cfg.Token)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return result{}, err
	}
	defer resp.Body.Close()

	r := result{status: resp.StatusCode, events: make(map[stream.EventType]int64)}
	dec := stream.NewDecoder(resp.Body, stream.FormatNDJSON)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.streamErr = true
			break
		}
		r.events[ev.Type]++
		switch ev.Type {
		case stream.EventInitial:
			r.initial = time.Since(start)
		case stream.EventError:
			r.streamErr = true
		}
	}
	r.closed = time.Since(start)
	return r, nil
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errs := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Searches:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errs)
	fmt.Printf("Error Events:    %d\n", stats.streamErrors.Load())

	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Printf("Searches/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	printLatency("Time to Initial", stats.timeToInitial)
	printLatency("Time to Close", stats.timeToClose)

	fmt.Println()
	fmt.Println("=== Events ===")
	types := make([]string, 0, len(stats.events))
	for t := range stats.events {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-8s %d\n", t, stats.events[stream.EventType(t)])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No searches completed. Is the service running?")
		os.Exit(1)
	}
}

func printLatency(title string, samples []time.Duration) {
	if len(samples) == 0 {
		return
	}
	latencies := make([]time.Duration, len(samples))
	copy(latencies, samples)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg := sum / time.Duration(len(latencies))

	fmt.Println()
	fmt.Printf("=== %s ===\n", title)
	fmt.Printf("Min:    %s\n", latencies[0])
	fmt.Printf("Avg:    %s\n", avg)
	fmt.Printf("P50:    %s\n", percentile(latencies, 50))
	fmt.Printf("P90:    %s\n", percentile(latencies, 90))
	fmt.Printf("P95:    %s\n", percentile(latencies, 95))
	fmt.Printf("P99:    %s\n", percentile(latencies, 99))
	fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
