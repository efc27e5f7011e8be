package protocol

import (
	"bytes"
	"errors"
)

const (
	CR = '\r'
	LF = '\n'

	// DefaultMaxFrameSize bounds how many bytes may be buffered while waiting
	// for a terminator.
	DefaultMaxFrameSize = 64 * 1024
)

var (
	ErrFrameTooLarge = errors.New("Frame is malformed, no terminator was found within the maximum frame size")

	CRLF = []byte{CR, LF}
)

// Codec turns payloads into frames and back. Implementations hold no state
// and are safe to share between goroutines.
type Codec interface {
	// Encode returns a new buffer containing payload followed by the terminator.
	Encode(payload []byte) []byte

	// AppendFrame appends payload and the terminator to dst.
	AppendFrame(dst, payload []byte) []byte

	// TryDecode looks for the first complete frame in buf. If one is found it
	// returns the payload without its terminator and the number of bytes of buf
	// the frame used, terminator included. Otherwise ok is false and nothing
	// was consumed; the caller keeps buf and appends to it on the next read.
	//
	// The returned frame aliases buf.
	TryDecode(buf []byte) (frame []byte, consumed int, ok bool)
}

// CRLFCodec frames payloads with a trailing "\r\n".
type CRLFCodec struct{}

func (CRLFCodec) Encode(payload []byte) []byte {
	return CRLFCodec{}.AppendFrame(make([]byte, 0, len(payload)+len(CRLF)), payload)
}

func (CRLFCodec) AppendFrame(dst, payload []byte) []byte {
	dst = append(dst, payload...)
	return append(dst, CR, LF)
}

func (CRLFCodec) TryDecode(buf []byte) ([]byte, int, bool) {
	i := bytes.Index(buf, CRLF)
	if i < 0 {
		return nil, 0, false
	}

	return buf[:i], i + len(CRLF), true
}

// LineCodec is the lenient server side variant. A frame ends at either a lone
// "\r" or at "\r\n", only the terminator is stripped.
//
// When the "\r" is the last byte of buf the frame is returned straight away,
// the following "\n" (if any) will be the first byte of the next read. See
// EndsInCR.
type LineCodec struct{}

func (LineCodec) Encode(payload []byte) []byte {
	return CRLFCodec{}.Encode(payload)
}

func (LineCodec) AppendFrame(dst, payload []byte) []byte {
	return CRLFCodec{}.AppendFrame(dst, payload)
}

func (LineCodec) TryDecode(buf []byte) ([]byte, int, bool) {
	i := bytes.IndexByte(buf, CR)
	if i < 0 {
		return nil, 0, false
	}

	consumed := i + 1
	if consumed < len(buf) && buf[consumed] == LF {
		consumed++
	}

	return buf[:i], consumed, true
}

// EndsInCR reports whether a frame that used consumed bytes of buf stopped on
// a "\r" that was the last buffered byte. A reader that sees this should drop
// a leading "\n" from its next read.
func EndsInCR(buf []byte, consumed int) bool {
	return consumed == len(buf) && consumed > 0 && buf[consumed-1] == CR
}

// RemoveTrailingCR strips one trailing "\r" if present.
func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == CR {
		return data[:len(data)-1]
	}

	return data
}

var (
	_ Codec = CRLFCodec{}
	_ Codec = LineCodec{}
)
