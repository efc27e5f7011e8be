package hostproc_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/sled/hostproc"
)

// The scripts run under sh -c with $0 set to "child", so the flags the
// launcher appends land in $1..$4: --port <n> --secret <s>.
const (
	gracefulChild = `
echo '{"level":"info","msg":"starting"}' >&2
echo "{\"event\":\"READY\",\"port\":$2}" >&2
while read line; do
	if [ "$line" = "EXIT $4" ]; then
		echo '{"level":"info","msg":"bye"}' >&2
		exit 0
	fi
done
exit 3
`

	stubbornChild = `
echo "{\"event\":\"READY\",\"port\":$2}" >&2
exec sleep 30
`

	silentChild = `exec sleep 30`

	crashingChild = `
echo 'no such thing' >&2
exit 7
`
)

func newLauncher(script string, port int) *hostproc.Launcher {
	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	return hostproc.NewLauncher(hostproc.LauncherOptions{
		Path:         "/bin/sh",
		Args:         []string{"-c", script, "child"},
		Port:         port,
		ReadyTimeout: 2 * time.Second,
		Grace:        200 * time.Millisecond,
		Log:          log,
	})
}

var _ = Describe("hostproc / Launcher", func() {
	ctx := context.Background()

	It("waits for READY and stops the child with EXIT", func() {
		l := newLauncher(gracefulChild, 41234)
		Expect(l.Running()).To(BeFalse())

		Expect(l.Start(ctx)).To(Succeed())
		Expect(l.Running()).To(BeTrue())
		Expect(l.Port()).To(Equal(41234))

		Expect(l.Stop(ctx)).To(Succeed())
		Expect(l.Done()).To(BeClosed())
		Expect(l.Running()).To(BeFalse())
		Expect(l.Err()).To(Succeed())

		// Stopping again is a no-op
		Expect(l.Stop(ctx)).To(Succeed())
	})

	It("refuses to start twice", func() {
		l := newLauncher(gracefulChild, 41235)
		Expect(l.Start(ctx)).To(Succeed())
		defer l.Stop(ctx)

		Expect(l.Start(ctx)).To(MatchError(hostproc.ErrAlreadyStarted))
	})

	It("kills a child that ignores EXIT", func() {
		l := newLauncher(stubbornChild, 41236)
		Expect(l.Start(ctx)).To(Succeed())

		start := time.Now()
		Expect(l.Stop(ctx)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically(">=", 200*time.Millisecond))

		Expect(l.Done()).To(BeClosed())
		Expect(l.Err()).To(HaveOccurred())
	})

	It("gives up on a child that never reports READY", func() {
		l := newLauncher(silentChild, 41237)

		Expect(l.Start(ctx)).To(MatchError(hostproc.ErrNotReady))
		Expect(l.Done()).To(BeClosed())
		Expect(l.Running()).To(BeFalse())
	})

	It("reports a child that exits before READY", func() {
		l := newLauncher(crashingChild, 41238)

		Expect(l.Start(ctx)).To(MatchError(hostproc.ErrExitedEarly))
		Expect(l.Err()).To(HaveOccurred())
	})

	It("fails to start a missing binary", func() {
		l := hostproc.NewLauncher(hostproc.LauncherOptions{Path: "/nonexistent/sled"})

		Expect(l.Start(ctx)).To(HaveOccurred())
		Expect(l.Running()).To(BeFalse())
		Expect(l.Stop(ctx)).To(Succeed())
	})
})
