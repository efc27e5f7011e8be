package hostproc_test

import (
	"context"
	"io"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/sled/hostproc"
)

var _ = Describe("hostproc / READY", func() {
	It("writes a single JSON line", func() {
		Expect(string(hostproc.ReadyLine(12006))).To(Equal(`{"event":"READY","port":12006}`))
	})

	It("round trips through ParseReady", func() {
		port, ok := hostproc.ParseReady(hostproc.ReadyLine(40123))
		Expect(ok).To(BeTrue())
		Expect(port).To(Equal(40123))
	})

	table.DescribeTable("ParseReady() rejects",
		func(line string) {
			_, ok := hostproc.ParseReady([]byte(line))
			Expect(ok).To(BeFalse())
		},
		table.Entry("log lines", `{"level":"info","msg":"Listening","addr":"0.0.0.0:12006"}`),
		table.Entry("other events", `{"event":"EXIT","port":12006}`),
		table.Entry("string ports", `{"event":"READY","port":"12006"}`),
		table.Entry("ports out of range", `{"event":"READY","port":70000}`),
		table.Entry("plain text", `READY 12006`),
		table.Entry("truncated JSON", `{"event":"READY","port":1`),
	)
})

var _ = Describe("hostproc / WatchExit()", func() {
	ctx := context.Background()

	It("returns once the matching EXIT line arrives", func() {
		r := strings.NewReader("hello\nEXIT wrong\nEXIT s3cret\r\nnever read\n")
		Expect(hostproc.WatchExit(ctx, r, "s3cret")).To(Succeed())
	})

	It("ignores EXIT with the wrong secret", func() {
		r := strings.NewReader("EXIT wrong\nEXIT s3cret-but-longer\n")
		Expect(hostproc.WatchExit(ctx, r, "s3cret")).To(MatchError(hostproc.ErrControlClosed))
	})

	It("returns ctx's error while still waiting", func() {
		r, w := io.Pipe()
		defer w.Close()

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		Expect(hostproc.WatchExit(cctx, r, "s3cret")).To(MatchError(context.DeadlineExceeded))
	})

	It("builds the line a parent writes", func() {
		Expect(string(hostproc.ExitLine("abc"))).To(Equal("EXIT abc\n"))
	})
})
