package hostproc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultReadyTimeout = 10 * time.Second
	DefaultGrace        = time.Second

	secretBytes = 16
)

var (
	ErrAlreadyStarted = errors.New("Child process has already been started")
	ErrNotReady       = errors.New("Child process did not report READY in time")
	ErrExitedEarly    = errors.New("Child process exited before reporting READY")
)

type LauncherOptions struct {
	// Path of the server binary
	Path string

	// Args come before the --port and --secret flags the launcher adds
	Args []string

	// Port to ask the child to listen on. With 0 the child picks one and
	// reports it in its READY line.
	Port int

	// ReadyTimeout bounds how long Start waits for READY
	ReadyTimeout time.Duration

	// Grace is how long Stop waits after EXIT before killing the child
	Grace time.Duration

	Log *zap.Logger
}

// Launcher runs a sled server as a child process. It hands the child a
// random secret, waits for its READY line and later stops it with EXIT.
type Launcher struct {
	opts LauncherOptions

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	secret string
	port   int

	done    chan struct{}
	exitErr error

	log *zap.Logger
}

func NewLauncher(options LauncherOptions) *Launcher {
	if options.ReadyTimeout <= 0 {
		options.ReadyTimeout = DefaultReadyTimeout
	}

	if options.Grace <= 0 {
		options.Grace = DefaultGrace
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Launcher{
		opts: options,
		done: make(chan struct{}),
		log:  log,
	}
}

// Start spawns the child and blocks until it reports READY. If it does not,
// the child is killed and an error returned.
func (l *Launcher) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return ErrAlreadyStarted
	}

	secret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("failed to generate a process secret: %w", err)
	}

	args := append(append([]string(nil), l.opts.Args...),
		"--port", strconv.Itoa(l.opts.Port),
		"--secret", secret)

	cmd := exec.Command(l.opts.Path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open child stdin: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open child stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", l.opts.Path, err)
	}

	l.cmd = cmd
	l.stdin = stdin
	l.secret = secret

	log := l.log.With(zap.Int("pid", cmd.Process.Pid))
	log.Info("Started child process", zap.String("path", l.opts.Path))

	ready := make(chan int, 1)
	go l.watch(stderr, ready, log)

	timer := time.NewTimer(l.opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case port := <-ready:
		l.port = port
		log.Info("Child process is ready", zap.Int("port", port))

		return nil

	case <-l.done:
		select {
		case port := <-ready:
			// Reported READY and then exited straight away
			l.port = port
			return nil

		default:
			return fmt.Errorf("%w: %v", ErrExitedEarly, l.exitErr)
		}

	case <-timer.C:
		err = ErrNotReady

	case <-ctx.Done():
		err = ctx.Err()
	}

	if kerr := cmd.Process.Kill(); kerr != nil {
		err = multierr.Append(err, kerr)
	}

	<-l.done
	return err
}

// watch drains the child's stderr. The first READY line is handed to ready
// and everything else goes to the log. It reaps the child once stderr ends.
func (l *Launcher) watch(stderr io.Reader, ready chan<- int, log *zap.Logger) {
	childLog := log.Named("child")
	seen := false

	err := ReadLines(stderr, func(line []byte) {
		if !seen {
			if port, ok := ParseReady(line); ok {
				seen = true
				ready <- port
				return
			}
		}

		childLog.Info(string(line))
	})
	if err != nil {
		log.Warn("Failed reading child stderr", zap.Error(err))
	}

	l.exitErr = l.cmd.Wait()
	log.Info("Child process exited", zap.NamedError("exit", l.exitErr))

	close(l.done)
}

// Stop asks the child to exit and kills it if it is still running after the
// grace period. Stop returns once the child is gone.
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	cmd, stdin, secret := l.cmd, l.stdin, l.secret
	l.mu.Unlock()

	if cmd == nil || !l.Running() {
		return nil
	}

	var err error

	if _, werr := stdin.Write(ExitLine(secret)); werr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to send EXIT: %w", werr))
	}

	err = multierr.Append(err, stdin.Close())

	timer := time.NewTimer(l.opts.Grace)
	defer timer.Stop()

	select {
	case <-l.done:
		return err

	case <-timer.C:
		l.log.Warn("Child did not exit in time, killing it", zap.Duration("grace", l.opts.Grace))

	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}

	if kerr := cmd.Process.Kill(); kerr != nil {
		err = multierr.Append(err, kerr)
	}

	<-l.done
	return err
}

// Done is closed once the child has exited and been reaped.
func (l *Launcher) Done() <-chan struct{} {
	return l.done
}

// Err is the child's exit status, valid after Done is closed.
func (l *Launcher) Err() error {
	select {
	case <-l.done:
		return l.exitErr

	default:
		return nil
	}
}

func (l *Launcher) Running() bool {
	l.mu.Lock()
	started := l.cmd != nil
	l.mu.Unlock()

	if !started {
		return false
	}

	select {
	case <-l.done:
		return false

	default:
		return true
	}
}

// Port the child reported in its READY line.
func (l *Launcher) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.port
}

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
