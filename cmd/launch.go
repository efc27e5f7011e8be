package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sled/hostproc"
)

var (
	// Port for the child server, 0 lets it pick one
	launchPort int

	// Calls to benchmark against the child, 0 keeps it running until SIGINT
	launchN int

	launchHTTPPort     string
	launchGrace        time.Duration
	launchReadyTimeout time.Duration
)

func init() {
	flags := LaunchCmd.PersistentFlags()

	flags.IntVarP(&launchPort, "port", "p", 0, "The port the child listens on, 0 picks a free one")
	flags.IntVarP(&launchN, "calls", "n", 0, "Benchmark the child with this many calls and stop it, 0 to keep it running")
	flags.StringVar(&launchHTTPPort, "http-port", "", "The child's HTTP port, empty to disable")
	flags.DurationVar(&launchGrace, "grace", hostproc.DefaultGrace, "How long to wait after EXIT before killing the child")
	flags.DurationVar(&launchReadyTimeout, "ready-timeout", hostproc.DefaultReadyTimeout, "How long to wait for the child to report READY")
	addBenchFlags(flags)
}

var LaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Run a SLED server as a child process",
	Long: `Run a SLED server as a child process

Starts "sled serve" with a random process secret, waits for it to report
READY, optionally benchmarks it and then stops it with EXIT.

Usage
	sled launch -n 10000

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}

		defer func() { _ = log.Sync() }()

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to find the sled binary: %w", err)
		}

		launcher := hostproc.NewLauncher(hostproc.LauncherOptions{
			Path:         self,
			Args:         []string{"serve", "--http-port", launchHTTPPort, "--host", "127.0.0.1"},
			Port:         launchPort,
			ReadyTimeout: launchReadyTimeout,
			Grace:        launchGrace,
			Log:          log.Named("launcher"),
		})

		if err := launcher.Start(ctx); err != nil {
			return err
		}

		defer func() {
			err = multierr.Append(err, launcher.Stop(context.Background()))
		}()

		addr := fmt.Sprintf("127.0.0.1:%d", launcher.Port())
		log.Info("Child server is up", zap.String("addr", addr))

		if launchN == 0 {
			select {
			case <-ctx.Done():
			case <-launcher.Done():
				log.Warn("Child server exited on its own", zap.Error(launcher.Err()))
			}

			return nil
		}

		if benchWindow > 0 {
			conf.MaxInFlight = benchWindow
		}

		s, err := dialSession(ctx, addr, conf, log)
		if err != nil {
			return err
		}

		defer func() {
			err = multierr.Append(err, s.Close(context.Background()))
		}()

		return runBench(ctx, s, launchN, cmd.OutOrStdout(), cmd.ErrOrStderr(), log)
	},
}
