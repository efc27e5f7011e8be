package hostproc

import (
	"bufio"
	"context"
	"errors"
	"io"

	"go.uber.org/multierr"

	"github.com/luma/sled/protocol"
)

var ErrControlClosed = errors.New("Control stream closed before EXIT")

// ExitLine is what a parent writes to a child's stdin to stop it.
func ExitLine(secret string) []byte {
	return append(protocol.Exit(secret), protocol.LF)
}

// WatchExit reads lines from r until one is exactly "EXIT <secret>", then
// returns nil. Other lines, including EXIT with the wrong secret, are
// ignored. It returns ErrControlClosed if r ends first, or ctx's error once
// ctx is done. A blocked read is not interrupted by ctx, so the read
// goroutine lives until r returns.
func WatchExit(ctx context.Context, r io.Reader, secret string) error {
	want := string(protocol.Exit(secret))
	found := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := protocol.RemoveTrailingCR(scanner.Bytes())
			if string(line) == want {
				found <- nil
				return
			}
		}

		if err := scanner.Err(); err != nil {
			found <- multierr.Append(ErrControlClosed, err)
			return
		}

		found <- ErrControlClosed
	}()

	select {
	case err := <-found:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadLines calls fn for every line read from r until r ends.
func ReadLines(r io.Reader, fn func(line []byte)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fn(protocol.RemoveTrailingCR(scanner.Bytes()))
	}

	return scanner.Err()
}
