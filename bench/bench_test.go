package bench_test

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sort"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/sled/bench"
	"github.com/luma/sled/client"
	"github.com/luma/sled/transport"
)

type callerFunc func(ctx context.Context, request []byte) ([]byte, error)

func (f callerFunc) Call(ctx context.Context, request []byte) ([]byte, error) {
	return f(ctx, request)
}

var _ = Describe("bench", func() {
	ctx := context.Background()

	Describe("Request()", func() {
		It("alternates PING and register reads", func() {
			Expect(string(bench.Request(0))).To(Equal("PING"))
			Expect(string(bench.Request(1))).To(Equal("RD 3002"))
			Expect(string(bench.Request(2))).To(Equal("PING"))
			Expect(string(bench.Request(2999))).To(Equal("RD 6000"))
			Expect(string(bench.Request(3001))).To(Equal("RD 3002"))
		})
	})

	Describe("Summarize()", func() {
		It("computes nearest rank percentiles", func() {
			latencies := make([]float64, 100)
			for i := range latencies {
				latencies[i] = float64(i + 1)
			}

			rand.Shuffle(len(latencies), func(i, j int) {
				latencies[i], latencies[j] = latencies[j], latencies[i]
			})

			s := bench.Summarize(latencies, 2*time.Second, 3)
			Expect(s.Min).To(Equal(1.0))
			Expect(s.P50).To(Equal(51.0))
			Expect(s.Avg).To(BeNumerically("~", 50.5, 1e-9))
			Expect(s.P90).To(Equal(91.0))
			Expect(s.P99).To(Equal(100.0))
			Expect(s.Max).To(Equal(100.0))
			Expect(s.Errors).To(Equal(3))
			Expect(s.Total).To(Equal(2 * time.Second))
			Expect(sort.Float64sAreSorted(s.Latencies)).To(BeTrue())
		})

		It("leaves everything zero without latencies", func() {
			s := bench.Summarize(nil, time.Second, 4)
			Expect(s.Max).To(BeZero())
			Expect(s.Errors).To(Equal(4))
		})

		It("handles a single latency", func() {
			s := bench.Summarize([]float64{7}, time.Second, 0)
			Expect(s.Min).To(Equal(7.0))
			Expect(s.P99).To(Equal(7.0))
			Expect(s.Max).To(Equal(7.0))
		})
	})

	Describe("Run()", func() {
		It("issues every request of the mix once", func() {
			var (
				mu   sync.Mutex
				seen = map[string]int{}
			)

			caller := callerFunc(func(_ context.Context, request []byte) ([]byte, error) {
				mu.Lock()
				seen[string(request)]++
				mu.Unlock()

				return []byte("OK"), nil
			})

			s, err := bench.Run(ctx, caller, bench.Options{N: 10, Concurrency: 3}, nil)
			Expect(err).To(Succeed())
			Expect(s.Latencies).To(HaveLen(10))
			Expect(s.Errors).To(BeZero())
			Expect(seen).To(Equal(map[string]int{
				"PING":    5,
				"RD 3002": 1,
				"RD 3004": 1,
				"RD 3006": 1,
				"RD 3008": 1,
				"RD 3010": 1,
			}))
		})

		It("counts failed calls as errors", func() {
			var calls int32

			var mu sync.Mutex
			caller := callerFunc(func(_ context.Context, _ []byte) ([]byte, error) {
				mu.Lock()
				defer mu.Unlock()

				calls++
				if calls%5 == 0 {
					return nil, client.ErrTimeout
				}

				return []byte("OK"), nil
			})

			s, err := bench.Run(ctx, caller, bench.Options{N: 50}, nil)
			Expect(err).To(Succeed())
			Expect(s.Errors).To(Equal(10))
			Expect(s.Latencies).To(HaveLen(40))
		})

		It("reports progress every hundred calls", func() {
			caller := callerFunc(func(context.Context, []byte) ([]byte, error) {
				return []byte("OK"), nil
			})

			var snaps []bench.Snapshot
			s, err := bench.Run(ctx, caller, bench.Options{N: 250, Concurrency: 4}, func(snap bench.Snapshot) {
				snaps = append(snaps, snap)
			})
			Expect(err).To(Succeed())
			Expect(s.Latencies).To(HaveLen(250))

			Expect(len(snaps)).To(BeNumerically(">=", 2))
			for i := 1; i < len(snaps); i++ {
				Expect(snaps[i].Done).To(BeNumerically(">", snaps[i-1].Done))
			}
		})

		It("stops early when ctx is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()

			var (
				mu    sync.Mutex
				calls int
			)

			caller := callerFunc(func(context.Context, []byte) ([]byte, error) {
				mu.Lock()
				defer mu.Unlock()

				calls++
				if calls == 5 {
					cancel()
				}

				return []byte("OK"), nil
			})

			s, err := bench.Run(cctx, caller, bench.Options{N: 1000}, nil)
			Expect(err).To(MatchError(context.Canceled))
			Expect(len(s.Latencies)).To(BeNumerically("<", 1000))
		})

		It("rejects an empty run", func() {
			_, err := bench.Run(ctx, callerFunc(nil), bench.Options{}, nil)
			Expect(errors.Is(err, bench.ErrNoCalls)).To(BeTrue())
		})

		It("runs against a live server", func() {
			srv := transport.NewServer(transport.ServerOptions{Host: "127.0.0.1"})
			Expect(srv.Start(ctx)).To(Succeed())
			defer srv.Close()

			port := srv.Addr().(*net.TCPAddr).Port

			s, err := client.Dial(ctx, "127.0.0.1", port, client.SessionOptions{MaxInFlight: 8})
			Expect(err).To(Succeed())
			defer s.Close(ctx)

			summary, err := bench.Run(ctx, s, bench.Options{N: 500, Concurrency: 8}, nil)
			Expect(err).To(Succeed())
			Expect(summary.Errors).To(BeZero())
			Expect(summary.Latencies).To(HaveLen(500))
			Expect(summary.Min).To(BeNumerically("<=", summary.P50))
			Expect(summary.P99).To(BeNumerically("<=", summary.Max))
		})
	})
})
