package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/sled/cmd/gen"
	"github.com/luma/sled/internal/env"
)

var (
	// Overrides SLED_LOG_LEVEL when set
	logLevel string
)

var RootCmd = &cobra.Command{
	Use:   "sled",
	Short: "SLED line protocol server and client",
	Long: `SLED is a line oriented request/response protocol over TCP.

This binary runs the server, talks to a server, benchmarks one and
launches one as a supervised child process.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides SLED_LOG_LEVEL")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(CallCmd)
	RootCmd.AddCommand(BenchCmd)
	RootCmd.AddCommand(LaunchCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command uses.
func setup(ctx context.Context) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	level := conf.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	log, err := env.MakeLogger(level)
	if err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("bad address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("bad port in address %q", addr)
	}

	return host, port, nil
}
