// Package bench drives a fixed request mix through a Caller and reports
// latency percentiles.
package bench

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultN           = 10000
	DefaultConcurrency = 1

	// A Snapshot is reported after this many calls or this much time,
	// whichever comes first
	snapshotEvery    = 100
	snapshotInterval = 500 * time.Millisecond

	firstRegister = 3001
	registerSpan  = 3000
)

var ErrNoCalls = errors.New("Benchmark needs at least one call")

// Caller is anything that can make a request and wait for its response,
// client.Session satisfies it.
type Caller interface {
	Call(ctx context.Context, request []byte) ([]byte, error)
}

type Options struct {
	// N is the total number of calls
	N int

	// Concurrency is the number of workers issuing calls at once. Values above
	// one keep several requests in the pipeline.
	Concurrency int

	Log *zap.Logger
}

// Snapshot is the progress reported while a benchmark runs. Latencies are in
// microseconds.
type Snapshot struct {
	Done    int
	Last    float64
	Avg     float64
	Elapsed time.Duration
}

// Summary is the result of a benchmark. Latencies are in microseconds and
// sorted ascending.
type Summary struct {
	Latencies []float64

	Min float64
	P50 float64
	Avg float64
	P90 float64
	P99 float64
	Max float64

	Total  time.Duration
	Errors int
}

func (s Summary) String() string {
	return fmt.Sprintf("calls=%d errors=%d min=%.1fus p50=%.1fus avg=%.1fus p90=%.1fus p99=%.1fus max=%.1fus total=%.3fs",
		len(s.Latencies), s.Errors, s.Min, s.P50, s.Avg, s.P90, s.P99, s.Max, s.Total.Seconds())
}

// Request is the i-th request of the mix: PING on even indices and a
// register read on odd ones.
func Request(i int) []byte {
	if i%2 == 0 {
		return []byte("PING")
	}

	return strconv.AppendInt([]byte("RD "), int64(firstRegister+i%registerSpan), 10)
}

// Run issues opts.N calls through caller and summarises their latencies.
// progress, when not nil, is called from one goroutine at a time.
//
// Failed calls are counted in Summary.Errors and left out of the latencies.
// If ctx ends early Run stops issuing calls and returns what it has along
// with ctx's error.
func Run(ctx context.Context, caller Caller, opts Options, progress func(Snapshot)) (Summary, error) {
	n := opts.N
	if n < 1 {
		return Summary{}, ErrNoCalls
	}

	workers := opts.Concurrency
	if workers < 1 {
		workers = DefaultConcurrency
	}

	if workers > n {
		workers = n
	}

	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := &recorder{
		latencies: make([]float64, 0, n),
		progress:  progress,
		start:     time.Now(),
		log:       log,
	}
	r.lastSnapshot = r.start

	var (
		next int64 = -1
		wg   sync.WaitGroup
	)

	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()

			for ctx.Err() == nil {
				i := int(atomic.AddInt64(&next, 1))
				if i >= n {
					return
				}

				start := time.Now()
				_, err := caller.Call(ctx, Request(i))
				r.record(time.Since(start), err)
			}
		}()
	}

	wg.Wait()

	summary := r.summary()

	log.Info("Benchmark finished",
		zap.Int("calls", len(summary.Latencies)),
		zap.Int("errors", summary.Errors),
		zap.Duration("total", summary.Total))

	return summary, ctx.Err()
}

// Summarize sorts latencies in place and computes the summary statistics.
// Percentiles are read at index floor(len*p), the same nearest-rank rule for
// every percentile.
func Summarize(latencies []float64, total time.Duration, errs int) Summary {
	s := Summary{
		Latencies: latencies,
		Total:     total,
		Errors:    errs,
	}

	if len(latencies) == 0 {
		return s
	}

	sort.Float64s(latencies)

	sum := 0.0
	for _, l := range latencies {
		sum += l
	}

	s.Min = latencies[0]
	s.Max = latencies[len(latencies)-1]
	s.Avg = sum / float64(len(latencies))
	s.P50 = percentile(latencies, 0.5)
	s.P90 = percentile(latencies, 0.9)
	s.P99 = percentile(latencies, 0.99)

	return s
}

func percentile(sorted []float64, p float64) float64 {
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}

	return sorted[i]
}

// recorder collects latencies from every worker.
type recorder struct {
	mu sync.Mutex

	latencies []float64
	errors    int
	done      int
	avg       float64

	start        time.Time
	lastSnapshot time.Time
	progress     func(Snapshot)

	log *zap.Logger
}

func (r *recorder) record(d time.Duration, err error) {
	us := float64(d) / float64(time.Microsecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.done++

	if err != nil {
		r.errors++
		r.log.Debug("Call failed", zap.Error(err))
	} else {
		r.latencies = append(r.latencies, us)
		r.avg += (us - r.avg) / float64(len(r.latencies))
	}

	if r.progress == nil {
		return
	}

	now := time.Now()
	if r.done%snapshotEvery != 0 && now.Sub(r.lastSnapshot) < snapshotInterval {
		return
	}

	r.lastSnapshot = now
	r.progress(Snapshot{
		Done:    r.done,
		Last:    us,
		Avg:     r.avg,
		Elapsed: now.Sub(r.start),
	})
}

func (r *recorder) summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Summarize(r.latencies, time.Since(r.start), r.errors)
}
