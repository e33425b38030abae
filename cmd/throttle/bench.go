package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"mercator-hq/throttle/pkg/cli"
	"mercator-hq/throttle/pkg/proxy/middleware"
)

var benchFlags struct {
	target      string
	method      string
	requests    int
	rate        float64
	concurrency int
	user        string
	userHeader  string
	timeout     time.Duration
	output      string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Send load through a gateway and count admissions",
	Long: `Send a fixed number of requests to a gateway URL and report how many
were admitted, how many were limited and the latency of each outcome.

All requests come from this host, so they land in one bucket per endpoint
class (per user with --user). Use it to check that a policy admits what you
expect before rolling it out.

Examples:
  # 50 login attempts as fast as possible
  throttle bench --target http://127.0.0.1:8080/api/auth/login --method POST --requests 50

  # 2 requests per second for a minute
  throttle bench --target http://127.0.0.1:8080/api/items --rate 2 --requests 120`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVar(&benchFlags.target, "target", "", "gateway URL to request (required)")
	benchCmd.Flags().StringVar(&benchFlags.method, "method", http.MethodGet, "HTTP method")
	benchCmd.Flags().IntVarP(&benchFlags.requests, "requests", "n", 100, "number of requests")
	benchCmd.Flags().Float64Var(&benchFlags.rate, "rate", 0, "requests per second, 0 for no pacing")
	benchCmd.Flags().IntVar(&benchFlags.concurrency, "concurrency", 4, "concurrent clients")
	benchCmd.Flags().StringVar(&benchFlags.user, "user", "", "user id sent in the user header")
	benchCmd.Flags().StringVar(&benchFlags.userHeader, "user-header", "X-User-ID", "header carrying --user")
	benchCmd.Flags().DurationVar(&benchFlags.timeout, "timeout", 10*time.Second, "per-request timeout")
	benchCmd.Flags().StringVarP(&benchFlags.output, "output", "o", "text", "output format: text, json, csv")
	_ = benchCmd.MarkFlagRequired("target")
}

// benchResult summarizes one run.
type benchResult struct {
	Target     string         `json:"target"`
	Sent       int            `json:"sent"`
	Allowed    int            `json:"allowed"`
	Limited    int            `json:"limited"`
	Failed     int            `json:"failed"`
	Degraded   int            `json:"degraded"`
	Statuses   map[string]int `json:"statuses"`
	Duration   time.Duration  `json:"-"`
	Seconds    float64        `json:"duration_seconds"`
	Throughput float64        `json:"requests_per_second"`

	// MaxRetryAfter is the largest Retry-After seen on a 429.
	MaxRetryAfter int `json:"max_retry_after_seconds"`

	Latency latencySummary `json:"latency_ms"`

	latencies []time.Duration
}

type latencySummary struct {
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	Max    float64 `json:"max"`
}

func (r *benchResult) Header() []string {
	return []string{"sent", "allowed", "limited", "failed", "degraded", "req_per_s", "p50_ms", "p99_ms", "max_retry_after_s"}
}

func (r *benchResult) Rows() [][]string {
	return [][]string{{
		strconv.Itoa(r.Sent),
		strconv.Itoa(r.Allowed),
		strconv.Itoa(r.Limited),
		strconv.Itoa(r.Failed),
		strconv.Itoa(r.Degraded),
		strconv.FormatFloat(r.Throughput, 'f', 1, 64),
		strconv.FormatFloat(r.Latency.Median, 'f', 1, 64),
		strconv.FormatFloat(r.Latency.P99, 'f', 1, 64),
		strconv.Itoa(r.MaxRetryAfter),
	}}
}

// record adds one outcome. Callers hold the result's lock.
func (r *benchResult) record(resp *http.Response, err error, latency time.Duration) {
	r.Sent++
	if err != nil {
		r.Failed++
		r.Statuses["error"]++
		return
	}
	r.latencies = append(r.latencies, latency)
	r.Statuses[strconv.Itoa(resp.StatusCode)]++

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		r.Limited++
		if s, err := strconv.Atoi(resp.Header.Get(middleware.HeaderRetry)); err == nil && s > r.MaxRetryAfter {
			r.MaxRetryAfter = s
		}
	case resp.StatusCode < 500:
		r.Allowed++
	default:
		r.Failed++
	}
	if resp.Header.Get(middleware.HeaderDegraded) != "" {
		r.Degraded++
	}
}

func (r *benchResult) finish(elapsed time.Duration) {
	r.Duration = elapsed
	r.Seconds = elapsed.Seconds()
	if r.Seconds > 0 {
		r.Throughput = float64(r.Sent) / r.Seconds
	}
	r.Latency = summarize(r.latencies)
}

func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	at := func(q float64) time.Duration {
		return sorted[min(int(float64(len(sorted))*q), len(sorted)-1)]
	}
	return latencySummary{
		Min:    ms(sorted[0]),
		Median: ms(at(0.5)),
		P95:    ms(at(0.95)),
		P99:    ms(at(0.99)),
		Max:    ms(sorted[len(sorted)-1]),
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(benchFlags.output)
	if err != nil {
		return cli.NewConfigError("--output", err.Error())
	}
	if u, err := url.Parse(benchFlags.target); err != nil || u.Host == "" {
		return cli.NewConfigError("--target", fmt.Sprintf("invalid URL %q", benchFlags.target))
	}
	if benchFlags.requests <= 0 {
		return cli.NewConfigError("--requests", "must be positive")
	}
	if benchFlags.concurrency <= 0 {
		return cli.NewConfigError("--concurrency", "must be positive")
	}

	ctx := cli.SetupSignalHandler()
	progress := cli.NewProgressReporter(nil)

	result, err := bench(ctx, &http.Client{Timeout: benchFlags.timeout}, progress)
	if err != nil {
		return cli.NewCommandError("bench", err)
	}
	return printBench(stdout(cmd), format, result)
}

// bench sends benchFlags.requests requests through client, paced by a token
// bucket when a rate is set. Cancelling ctx stops sending; completed
// requests are still reported.
func bench(ctx context.Context, client *http.Client, progress cli.ProgressReporter) (*benchResult, error) {
	limit := rate.Inf
	if benchFlags.rate > 0 {
		limit = rate.Limit(benchFlags.rate)
	}
	pacer := rate.NewLimiter(limit, 1)

	result := &benchResult{Target: benchFlags.target, Statuses: map[string]int{}}
	var mu sync.Mutex

	jobs := make(chan struct{})
	var wg sync.WaitGroup
	for range benchFlags.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				resp, latency, err := send(ctx, client)
				mu.Lock()
				result.record(resp, err, latency)
				mu.Unlock()
				progress.Add(1)
			}
		}()
	}

	progress.Start(int64(benchFlags.requests))
	start := time.Now()

	var sendErr error
	for i := 0; i < benchFlags.requests; i++ {
		if err := pacer.Wait(ctx); err != nil {
			sendErr = err
			break
		}
		select {
		case jobs <- struct{}{}:
		case <-ctx.Done():
			sendErr = ctx.Err()
		}
		if sendErr != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	progress.Finish()

	result.finish(time.Since(start))
	if sendErr != nil && result.Sent == 0 {
		return nil, sendErr
	}
	return result, nil
}

func send(ctx context.Context, client *http.Client) (*http.Response, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, benchFlags.method, benchFlags.target, nil)
	if err != nil {
		return nil, 0, err
	}
	if benchFlags.user != "" {
		req.Header.Set(benchFlags.userHeader, benchFlags.user)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp, time.Since(start), nil
}

func printBench(w io.Writer, format cli.OutputFormat, r *benchResult) error {
	if format != cli.FormatText {
		return cli.NewFormatter(format).FormatTo(w, r)
	}

	fmt.Fprintf(w, "Target:     %s\n", r.Target)
	fmt.Fprintf(w, "Requests:   %d sent, %d allowed, %d limited, %d failed\n", r.Sent, r.Allowed, r.Limited, r.Failed)
	fmt.Fprintf(w, "Duration:   %.2fs (%.1f req/s)\n", r.Seconds, r.Throughput)
	if r.Degraded > 0 {
		fmt.Fprintf(w, "Degraded:   %d responses admitted while the store was unavailable\n", r.Degraded)
	}
	if r.Limited > 0 {
		fmt.Fprintf(w, "Retry-After: up to %ds\n", r.MaxRetryAfter)
	}

	fmt.Fprintln(w, "\nLatency (ms):")
	fmt.Fprintf(w, "  min %.1f  p50 %.1f  p95 %.1f  p99 %.1f  max %.1f\n",
		r.Latency.Min, r.Latency.Median, r.Latency.P95, r.Latency.P99, r.Latency.Max)

	fmt.Fprintln(w, "\nStatus codes:")
	for _, code := range slices.Sorted(maps.Keys(r.Statuses)) {
		fmt.Fprintf(w, "  %-6s %d\n", code, r.Statuses[code])
	}
	return nil
}
