package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/sled/protocol"
)

// decodeChunks feeds data to codec split at the given offsets, the way a
// reader would see it arrive, and returns every frame decoded.
func decodeChunks(codec protocol.Codec, data []byte, cuts ...int) [][]byte {
	var (
		frames [][]byte
		buf    []byte
		last   int
	)

	feed := func(chunk []byte) {
		buf = append(buf, chunk...)
		for {
			frame, consumed, ok := codec.TryDecode(buf)
			if !ok {
				return
			}

			frames = append(frames, append([]byte(nil), frame...))
			buf = buf[consumed:]
		}
	}

	for _, cut := range cuts {
		feed(data[last:cut])
		last = cut
	}
	feed(data[last:])

	return frames
}

var _ = Describe("Codec", func() {
	Describe("CRLFCodec", func() {
		codec := protocol.CRLFCodec{}

		It("appends \r\n when encoding", func() {
			Expect(codec.Encode([]byte("RD 3001"))).To(Equal([]byte("RD 3001\r\n")))
			Expect(codec.Encode(nil)).To(Equal([]byte("\r\n")))
		})

		It("does not modify the payload", func() {
			payload := []byte("PING")
			_ = codec.Encode(payload)
			Expect(payload).To(Equal([]byte("PING")))
		})

		It("returns need-more-data and consumes nothing without a terminator", func() {
			frame, consumed, ok := codec.TryDecode([]byte("PIN"))
			Expect(ok).To(BeFalse())
			Expect(consumed).To(Equal(0))
			Expect(frame).To(BeNil())

			_, _, ok = codec.TryDecode([]byte("PING\r"))
			Expect(ok).To(BeFalse())
		})

		It("does not treat a lone CR as a terminator", func() {
			frame, consumed, ok := codec.TryDecode([]byte("A\rB\r\n"))
			Expect(ok).To(BeTrue())
			Expect(string(frame)).To(Equal("A\rB"))
			Expect(consumed).To(Equal(5))
		})

		It("decodes one frame at a time", func() {
			buf := []byte("OK\r\n0\r\n")

			frame, consumed, ok := codec.TryDecode(buf)
			Expect(ok).To(BeTrue())
			Expect(string(frame)).To(Equal("OK"))
			Expect(consumed).To(Equal(4))

			frame, consumed, ok = codec.TryDecode(buf[consumed:])
			Expect(ok).To(BeTrue())
			Expect(string(frame)).To(Equal("0"))
			Expect(consumed).To(Equal(3))
		})

		DescribeTable("round trips payloads split across reads",
			func(payload string, cuts ...int) {
				frames := decodeChunks(codec, codec.Encode([]byte(payload)), cuts...)
				Expect(frames).To(HaveLen(1))
				Expect(string(frames[0])).To(Equal(payload))
			},
			Entry("single read", "RD 3001"),
			Entry("split inside the payload", "RD 3001", 3),
			Entry("split between CR and LF", "RD 3001", 8),
			Entry("split at every byte", "PING", 1, 2, 3, 4, 5),
			Entry("empty payload", ""),
			Entry("empty payload split in the terminator", "", 1),
			Entry("binary payload", "\x00\x01\xff\x0a\x7f", 2, 6),
		)

		It("decodes many pipelined frames from one buffer", func() {
			var data []byte
			for _, p := range []string{"OK", "0", "?", "0"} {
				data = codec.AppendFrame(data, []byte(p))
			}

			frames := decodeChunks(codec, data, 5, 6)
			Expect(frames).To(HaveLen(4))
			Expect(string(frames[0])).To(Equal("OK"))
			Expect(string(frames[1])).To(Equal("0"))
			Expect(string(frames[2])).To(Equal("?"))
			Expect(string(frames[3])).To(Equal("0"))
		})
	})

	Describe("LineCodec", func() {
		codec := protocol.LineCodec{}

		It("accepts CRLF", func() {
			frame, consumed, ok := codec.TryDecode([]byte("PING\r\nRD"))
			Expect(ok).To(BeTrue())
			Expect(string(frame)).To(Equal("PING"))
			Expect(consumed).To(Equal(6))
		})

		It("accepts a lone CR", func() {
			frame, consumed, ok := codec.TryDecode([]byte("PING\rRD 3001\r"))
			Expect(ok).To(BeTrue())
			Expect(string(frame)).To(Equal("PING"))
			Expect(consumed).To(Equal(5))
		})

		It("needs more data without a CR", func() {
			_, consumed, ok := codec.TryDecode([]byte("PING\n"))
			Expect(ok).To(BeFalse())
			Expect(consumed).To(Equal(0))
		})

		It("reports a CR that ends the buffer", func() {
			buf := []byte("PING\r")
			_, consumed, ok := codec.TryDecode(buf)
			Expect(ok).To(BeTrue())
			Expect(protocol.EndsInCR(buf, consumed)).To(BeTrue())

			buf = []byte("PING\r\n")
			_, consumed, _ = codec.TryDecode(buf)
			Expect(protocol.EndsInCR(buf, consumed)).To(BeFalse())
		})

		It("encodes with CRLF", func() {
			Expect(codec.Encode([]byte("OK"))).To(Equal([]byte("OK\r\n")))
		})
	})

	Describe("RemoveTrailingCR()", func() {
		It("does nothing if the data does not end in CR", func() {
			data := []byte("I am awesome data")
			Expect(protocol.RemoveTrailingCR(data)).To(Equal(data))
		})

		It("removes the trailling CR", func() {
			input := []byte("I am awesome data\r")
			output := []byte("I am awesome data")
			Expect(protocol.RemoveTrailingCR(input)).To(Equal(output))
		})

		It("handles empty input", func() {
			Expect(protocol.RemoveTrailingCR([]byte{})).To(BeEmpty())
		})
	})
})
