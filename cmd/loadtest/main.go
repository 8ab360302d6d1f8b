// Command loadtest drives a linesearch server with concurrent search and
// fetch calls and reports throughput and latency per method.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/jsonrpc"
)

type Config struct {
	URL         string
	Concurrency int
	Duration    time.Duration
	FetchRatio  float64
	MaxLine     int
	Queries     []string
}

var defaultQueries = []string{
	"hello",
	"hello world",
	"the quick brown fox",
	"error",
	"warning disk",
	"search engine",
	"inverted index",
	"missingterm",
}

func main() {
	cfg := Config{}
	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Load-test a linesearch JSON-RPC endpoint",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Concurrency <= 0 {
				return fmt.Errorf("concurrency must be positive")
			}
			if len(cfg.Queries) == 0 {
				cfg.Queries = defaultQueries
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== linesearch Load Test ===")
			fmt.Fprintf(out, "Target:      %s\n", cfg.URL)
			fmt.Fprintf(out, "Concurrency: %d\n", cfg.Concurrency)
			fmt.Fprintf(out, "Duration:    %s\n", cfg.Duration)
			fmt.Fprintf(out, "Fetch ratio: %.2f\n", cfg.FetchRatio)
			fmt.Fprintln(out)

			stats := run(cmd.Context(), cfg)
			stats.Report(out, cfg.Duration)
			if stats.totalRequests.Load() == stats.failureCount.Load() {
				return fmt.Errorf("no request was answered; is the server running at %s?", cfg.URL)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.URL, "url", "http://127.0.0.1:8080/", "JSON-RPC endpoint")
	f.IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent workers")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	f.Float64Var(&cfg.FetchRatio, "fetch-ratio", 0.3, "fraction of calls that are fetch")
	f.IntVar(&cfg.MaxLine, "max-line", 1000, "fetch line numbers are drawn from [0, max-line)")
	f.StringArrayVarP(&cfg.Queries, "query", "q", nil, "search query; repeatable")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(parent context.Context, cfg Config) *Stats {
	stats := NewStats()
	client := jsonrpc.NewClient(cfg.URL, &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	})

	ctx, cancel := context.WithTimeout(parent, cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(workerID), uint64(time.Now().UnixNano())))
			for ctx.Err() == nil {
				callOnce(ctx, client, cfg, rng, stats)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func callOnce(ctx context.Context, client *jsonrpc.Client, cfg Config, rng *rand.Rand, stats *Stats) {
	start := time.Now()
	if rng.Float64() < cfg.FetchRatio && cfg.MaxLine > 0 {
		var text string
		err := client.Call(ctx, "fetch", []any{rng.IntN(cfg.MaxLine)}, &text)
		if ctx.Err() == nil {
			stats.Record("fetch", time.Since(start), err)
		}
		return
	}
	var lines []int
	query := cfg.Queries[rng.IntN(len(cfg.Queries))]
	err := client.Call(ctx, "search", []any{query}, &lines)
	if ctx.Err() == nil {
		stats.Record("search", time.Since(start), err)
	}
}
