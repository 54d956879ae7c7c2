package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Stats aggregates results from all workers.
type Stats struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64

	mu        sync.Mutex
	latencies map[string][]time.Duration
	codes     map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make(map[string][]time.Duration),
		codes:     make(map[int]int64),
	}
}

// Record adds one request of the given kind. status is 0 when the request
// never got a response.
func (s *Stats) Record(kind string, d time.Duration, status int, cacheHit bool) {
	s.total.Add(1)
	if status >= 200 && status < 300 {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[status]++
	if status != 0 {
		s.latencies[kind] = append(s.latencies[kind], d)
	}
}

func (s *Stats) Report(w io.Writer, elapsed time.Duration) {
	total := s.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", s.succeeded.Load())
	fmt.Fprintf(w, "Errors:          %d\n", s.failed.Load())
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(s.failed.Load())/float64(total)*100)
		fmt.Fprintf(w, "Cache Hits:      %d\n", s.cacheHits.Load())
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/elapsed.Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.latencies))
	for kind := range s.latencies {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	for _, kind := range kinds {
		lat := slices.Clone(s.latencies[kind])
		slices.Sort(lat)
		fmt.Fprintf(w, "\n=== Latency: %s (%d) ===\n", kind, len(lat))
		fmt.Fprintf(w, "Min:    %s\n", lat[0])
		fmt.Fprintf(w, "Avg:    %s\n", mean(lat))
		fmt.Fprintf(w, "P50:    %s\n", percentile(lat, 50))
		fmt.Fprintf(w, "P95:    %s\n", percentile(lat, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(lat, 99))
		fmt.Fprintf(w, "Max:    %s\n", lat[len(lat)-1])
	}

	fmt.Fprintln(w, "\n=== Status Codes ===")
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, s.codes[code])
	}
}

func mean(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return sum / time.Duration(len(d))
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
