package protocol_test

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/sled/protocol"
)

var _ = Describe("Writer", func() {
	Describe("WriteOk", func() {
		It("writes OK terminated by \r\n", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteOk(w)).To(Succeed())
			Expect(w.String()).To(Equal("OK\r\n"))
		})
	})

	Describe("WriteErr", func() {
		It("writes ERR terminated by \r\n", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteErr(w)).To(Succeed())
			Expect(w.String()).To(Equal("ERR\r\n"))
		})
	})

	Describe("WriteBye", func() {
		It("writes BYE terminated by \r\n", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteBye(w)).To(Succeed())
			Expect(w.String()).To(Equal("BYE\r\n"))
		})
	})

	Describe("WriteUnknown", func() {
		It("writes ? terminated by \r\n", func() {
			w := bytes.NewBuffer([]byte{})

			Expect(protocol.WriteUnknown(w)).To(Succeed())
			Expect(w.String()).To(Equal("?\r\n"))
		})
	})

	Describe("Terminals", func() {
		It("are the replies with the terminator appended", func() {
			Expect(string(protocol.OkTerminal)).To(Equal("OK\r\n"))
			Expect(string(protocol.ErrTerminal)).To(Equal("ERR\r\n"))
			Expect(string(protocol.ByeTerminal)).To(Equal("BYE\r\n"))
			Expect(string(protocol.UnknownTerminal)).To(Equal("?\r\n"))
		})
	})

	Describe("Hello / Bye / Exit", func() {
		It("builds the payloads without a terminator", func() {
			Expect(string(protocol.Hello("SLED-LOCAL-DEV"))).To(Equal("HELLO SLED-LOCAL-DEV"))
			Expect(string(protocol.Bye("SLED-LOCAL-DEV"))).To(Equal("BYE SLED-LOCAL-DEV"))
			Expect(string(protocol.Exit("abc"))).To(Equal("EXIT abc"))
		})
	})

	Describe("HasSecret", func() {
		It("matches only the exact secret", func() {
			frame := []byte("HELLO SLED-LOCAL-DEV")

			Expect(protocol.HasSecret(frame, protocol.PrefixHello, "SLED-LOCAL-DEV")).To(BeTrue())
			Expect(protocol.HasSecret(frame, protocol.PrefixHello, "SLED-LOCAL")).To(BeFalse())
			Expect(protocol.HasSecret(frame, protocol.PrefixHello, "SLED-LOCAL-DEV2")).To(BeFalse())
			Expect(protocol.HasSecret(frame, protocol.PrefixBye, "SLED-LOCAL-DEV")).To(BeFalse())
		})

		It("recognises handshake and disconnect frames", func() {
			Expect(protocol.IsHello([]byte("HELLO x"))).To(BeTrue())
			Expect(protocol.IsHello([]byte("HELLOx"))).To(BeFalse())
			Expect(protocol.IsBye([]byte("BYE x"))).To(BeTrue())
			Expect(protocol.IsBye([]byte("PING"))).To(BeFalse())
		})
	})
})
