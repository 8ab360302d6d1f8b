package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/jsonrpc"
)

// Stats accumulates call outcomes from all workers.
type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	rpcErrorCount atomic.Int64
	failureCount  atomic.Int64

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

// Record classifies one call. Application errors such as an out-of-range
// fetch still count as answered requests.
func (s *Stats) Record(method string, duration time.Duration, err error) {
	s.totalRequests.Add(1)

	code := 0
	var rpcErr *jsonrpc.Error
	switch {
	case err == nil:
		s.successCount.Add(1)
	case errors.As(err, &rpcErr):
		s.rpcErrorCount.Add(1)
		code = rpcErr.Code
	default:
		s.failureCount.Add(1)
		return
	}

	s.mu.Lock()
	s.latencies[method] = append(s.latencies[method], duration)
	s.codes[code]++
	s.mu.Unlock()
}

// Report writes the summary for a run of the given duration.
func (s *Stats) Report(w io.Writer, duration time.Duration) {
	total := s.totalRequests.Load()
	failures := s.failureCount.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", s.successCount.Load())
	fmt.Fprintf(w, "RPC Errors:      %d\n", s.rpcErrorCount.Load())
	fmt.Fprintf(w, "Failures:        %d\n", failures)
	if total > 0 {
		fmt.Fprintf(w, "Failure Rate:    %.2f%%\n", float64(failures)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	methods := make([]string, 0, len(s.latencies))
	for m := range s.latencies {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	for _, m := range methods {
		latencies := slices.Clone(s.latencies[m])
		slices.Sort(latencies)

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(w)
		fmt.Fprintf(w, "=== Latency: %s (%d calls) ===\n", m, len(latencies))
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Result Codes ===")
	codes := make([]int, 0, len(s.codes))
	for c := range s.codes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		label := "ok"
		if c != 0 {
			label = fmt.Sprintf("%d", c)
		}
		fmt.Fprintf(w, "  %s: %d\n", label, s.codes[c])
	}
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
