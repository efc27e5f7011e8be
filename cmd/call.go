package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/sled/client"
	"github.com/luma/sled/internal/env"
)

var (
	// Address of the server to talk to
	callAddr string

	// Overrides SLED_LINK_SECRET when set
	callLinkSecret string

	// Overrides SLED_CALL_TIMEOUT when set
	callTimeout time.Duration
)

func init() {
	flags := CallCmd.PersistentFlags()

	flags.StringVar(&callAddr, "addr", "127.0.0.1:12006", "Address of the SLED server")
	flags.StringVar(&callLinkSecret, "link-secret", "", "Handshake secret, overrides SLED_LINK_SECRET")
	flags.DurationVar(&callTimeout, "timeout", 0, "Per call timeout, overrides SLED_CALL_TIMEOUT")
}

var CallCmd = &cobra.Command{
	Use:   "call CMD...",
	Short: "Send commands to a SLED server and print the replies",
	Long: `Send commands to a SLED server and print the replies

Each argument is sent as one request, quote commands that contain spaces.

Usage
	sled call --addr 127.0.0.1:12006 PING "RD 3001"

`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}

		defer func() { _ = log.Sync() }()

		s, err := dialSession(ctx, callAddr, conf, log)
		if err != nil {
			return err
		}

		defer func() {
			err = multierr.Append(err, s.Close(ctx))
		}()

		out := cmd.OutOrStdout()
		for _, request := range args {
			resp, err := s.Call(ctx, []byte(request))
			if err != nil {
				return fmt.Errorf("%q failed: %w", request, err)
			}

			fmt.Fprintf(out, "%s\t%s\n", request, resp)
		}

		return nil
	},
}

// dialSession opens an authenticated session using conf, with the call
// command's flags taking precedence.
func dialSession(ctx context.Context, addr string, conf *env.Config, log *zap.Logger) (*client.Session, error) {
	host, port, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}

	secret := conf.LinkSecret
	if callLinkSecret != "" {
		secret = callLinkSecret
	}

	timeout := conf.CallTimeout
	if callTimeout > 0 {
		timeout = callTimeout
	}

	return client.Dial(ctx, host, port, client.SessionOptions{
		Secret:      secret,
		Timeout:     timeout,
		MaxInFlight: conf.MaxInFlight,
		Log:         log.Named("client"),
	})
}
