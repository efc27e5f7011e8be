package protocol

import (
	"bytes"
	"io"
)

var (
	PrefixHello = []byte("HELLO ")
	PrefixBye   = []byte("BYE ")
	PrefixExit  = []byte("EXIT ")

	RespOk      = []byte("OK")
	RespErr     = []byte("ERR")
	RespBye     = []byte("BYE")
	RespUnknown = []byte("?")

	OkTerminal      = CRLFCodec{}.Encode(RespOk)
	ErrTerminal     = CRLFCodec{}.Encode(RespErr)
	ByeTerminal     = CRLFCodec{}.Encode(RespBye)
	UnknownTerminal = CRLFCodec{}.Encode(RespUnknown)
)

// Hello builds the handshake payload for secret, without a terminator.
func Hello(secret string) []byte {
	return withSecret(PrefixHello, secret)
}

// Bye builds the disconnect payload for secret, without a terminator.
func Bye(secret string) []byte {
	return withSecret(PrefixBye, secret)
}

// Exit builds the process shutdown line for secret, without a terminator.
func Exit(secret string) []byte {
	return withSecret(PrefixExit, secret)
}

// IsHello reports whether frame is a handshake attempt, whatever its secret.
func IsHello(frame []byte) bool {
	return bytes.HasPrefix(frame, PrefixHello)
}

// IsBye reports whether frame is a disconnect request, whatever its secret.
func IsBye(frame []byte) bool {
	return bytes.HasPrefix(frame, PrefixBye)
}

// HasSecret reports whether frame is exactly prefix followed by secret.
func HasSecret(frame, prefix []byte, secret string) bool {
	return len(frame) == len(prefix)+len(secret) &&
		bytes.HasPrefix(frame, prefix) &&
		string(frame[len(prefix):]) == secret
}

func WriteOk(w io.Writer) error {
	_, err := w.Write(OkTerminal)
	return err
}

func WriteErr(w io.Writer) error {
	_, err := w.Write(ErrTerminal)
	return err
}

func WriteBye(w io.Writer) error {
	_, err := w.Write(ByeTerminal)
	return err
}

func WriteUnknown(w io.Writer) error {
	_, err := w.Write(UnknownTerminal)
	return err
}

func withSecret(prefix []byte, secret string) []byte {
	b := make([]byte, 0, len(prefix)+len(secret))
	b = append(b, prefix...)
	return append(b, secret...)
}
