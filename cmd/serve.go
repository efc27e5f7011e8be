package cmd

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/sled/commands"
	"github.com/luma/sled/hostproc"
	"github.com/luma/sled/transport"
)

var (
	// The host to listen on
	serveHost string

	// The port to listen for http requests on, empty disables the admin router
	serveHTTPPort string

	// The port to listen for SLED clients on
	servePort int

	// Secret the parent process must send with EXIT
	serveProcSecret string

	serveReuseport bool

	// Keep serving once stdin closes, for running detached from a parent
	serveIgnoreStdinEOF bool
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.IntVarP(&servePort, "port", "p", 12006, "The port to listen for client connections on, 0 picks a free one")
	flags.StringVar(&serveHTTPPort, "http-port", "7362", "The port to listen for HTTP requests on, empty to disable")
	flags.StringVarP(&serveHost, "host", "a", "0.0.0.0", "The host to listen on")
	flags.StringVar(&serveProcSecret, "secret", hostproc.DefaultProcSecret, "Secret expected in the EXIT line on stdin")
	flags.BoolVar(&serveReuseport, "reuseport", true, "Set SO_REUSEPORT on the listener")
	flags.BoolVar(&serveIgnoreStdinEOF, "ignore-stdin-eof", false, "Keep running when stdin closes instead of shutting down")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start up the SLED server",
	Long: `Start up the SLED server

Once listening it writes a READY line to stderr:

	{"event":"READY","port":12006}

It shuts down on SIGINT, when "EXIT <secret>" is read from stdin or when
stdin closes, so it does not outlive a parent that died. Pass
--ignore-stdin-eof to run it detached.

Usage
	sled serve --port 12006 --secret <secret>

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		ctx, exit := context.WithCancel(ctx)
		defer exit()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}

		defer func() { _ = log.Sync() }()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		table, err := loadCommands(conf.CommandsFile)
		if err != nil {
			return err
		}

		srv := transport.NewServer(transport.ServerOptions{
			Host:           serveHost,
			Port:           servePort,
			Reuseport:      serveReuseport,
			MaxConnections: conf.MaxConnections,
			Secret:         conf.LinkSecret,
			Commands:       table,
			Trace:          conf.Trace,
			Log:            log.Named("transport"),
		})

		if err := srv.Start(ctx); err != nil {
			return err
		}

		port := srv.Addr().(*net.TCPAddr).Port

		var httpServer *http.Server
		if serveHTTPPort != "" {
			httpServer = &http.Server{
				Addr:    net.JoinHostPort(serveHost, serveHTTPPort),
				Handler: newAdminRouter(srv, conf.DebugHTTP, log.Named("http")),
			}

			// Initializing the server in a goroutine so that
			// it won't block the graceful shutdown handling below
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Http server errored", zap.Error(err))
				}
			}()
		}

		log.Info("Listening",
			zap.String("host", serveHost),
			zap.Int("port", port),
			zap.String("httpPort", serveHTTPPort),
			zap.Int("maxConnections", conf.MaxConnections),
			zap.Int("commands", table.Len()))

		if _, err := os.Stderr.Write(append(hostproc.ReadyLine(port), '\n')); err != nil {
			log.Warn("Failed to write READY", zap.Error(err))
		}

		go watchControl(ctx, os.Stdin, serveProcSecret, serveIgnoreStdinEOF, exit, log)

		// Listen for the interrupt signal or EXIT.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if httpServer != nil {
			httpServer.SetKeepAlivesEnabled(false)

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		if err := srv.Close(); err != nil {
			log.Error("SLED server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// watchControl cancels the server when the parent writes EXIT on r or when r
// closes. With ignoreEOF a closed r only means nobody can ask us to exit that
// way and the server keeps running.
func watchControl(ctx context.Context, r io.Reader, secret string, ignoreEOF bool, exit context.CancelFunc, log *zap.Logger) {
	err := hostproc.WatchExit(ctx, r, secret)

	switch {
	case err == nil:
		log.Warn("EXIT command received, shutting down")
		exit()

	case errors.Is(err, hostproc.ErrControlClosed) && ignoreEOF:
		log.Info("Stdin closed, EXIT is no longer available", zap.Error(err))

	case errors.Is(err, hostproc.ErrControlClosed):
		log.Warn("Stdin closed, the parent is gone, shutting down", zap.Error(err))
		exit()

	case ctx.Err() == nil:
		log.Warn("Stopped watching stdin", zap.Error(err))
	}
}

func loadCommands(path string) (*commands.Table, error) {
	if path == "" {
		return commands.Default(), nil
	}

	return commands.LoadFile(path)
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
