package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sled/bench"
	"github.com/luma/sled/client"
)

var (
	benchAddr        string
	benchN           int
	benchConcurrency int

	// Overrides SLED_MAX_IN_FLIGHT when set
	benchWindow int
)

func init() {
	flags := BenchCmd.PersistentFlags()

	flags.StringVar(&benchAddr, "addr", "127.0.0.1:12006", "Address of the SLED server")
	flags.IntVarP(&benchN, "calls", "n", bench.DefaultN, "Number of calls to make")
	addBenchFlags(flags)
}

// addBenchFlags registers the tuning flags shared by bench and launch. Both
// commands bind the same variables so the defaults must agree.
func addBenchFlags(flags *pflag.FlagSet) {
	flags.IntVar(&benchConcurrency, "concurrency", 8, "Number of concurrent callers")
	flags.IntVar(&benchWindow, "window", 0, "Maximum calls in flight, overrides SLED_MAX_IN_FLIGHT")
}

var BenchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark a SLED server",
	Long: `Benchmark a SLED server

Sends alternating PING and RD requests and prints latency percentiles.

Usage
	sled bench --addr 127.0.0.1:12006 -n 10000 --concurrency 8 --window 8

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}

		defer func() { _ = log.Sync() }()

		if benchWindow > 0 {
			conf.MaxInFlight = benchWindow
		}

		s, err := dialSession(ctx, benchAddr, conf, log)
		if err != nil {
			return err
		}

		defer func() {
			err = multierr.Append(err, s.Close(context.Background()))
		}()

		return runBench(ctx, s, benchN, cmd.OutOrStdout(), cmd.ErrOrStderr(), log)
	},
}

func runBench(ctx context.Context, s *client.Session, n int, out, progress io.Writer, log *zap.Logger) error {
	summary, err := bench.Run(ctx, s, bench.Options{
		N:           n,
		Concurrency: benchConcurrency,
		Log:         log.Named("bench"),
	}, func(snap bench.Snapshot) {
		fmt.Fprintf(progress, "done=%d last=%.1fus avg=%.1fus elapsed=%.2fs\n",
			snap.Done, snap.Last, snap.Avg, snap.Elapsed.Seconds())
	})

	fmt.Fprintln(out, summary)
	return err
}
