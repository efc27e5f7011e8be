package commands

import (
	"fmt"

	"github.com/luma/sled/protocol"
)

const (
	// First and last register addressed by the built in RD commands.
	FirstRegister = 3001
	LastRegister  = 6000
)

// Table maps a command, byte for byte, to its framed reply. A Table is never
// mutated after it is built so it can be shared between connections without
// locking.
type Table struct {
	replies map[string][]byte
}

// New builds a Table from command -> reply pairs. Replies are given without
// a terminator.
func New(entries map[string]string) *Table {
	t := &Table{replies: make(map[string][]byte, len(entries))}

	for cmd, reply := range entries {
		t.replies[cmd] = protocol.CRLFCodec{}.Encode([]byte(reply))
	}

	return t
}

// Default returns the built in table: "RD 3001" through "RD 6000" answer "0"
// and "PING" answers "OK".
func Default() *Table {
	return New(DefaultEntries())
}

// DefaultEntries returns the built in command -> reply pairs.
func DefaultEntries() map[string]string {
	entries := make(map[string]string, LastRegister-FirstRegister+2)

	for reg := FirstRegister; reg <= LastRegister; reg++ {
		entries[fmt.Sprintf("RD %04d", reg)] = "0"
	}

	entries["PING"] = "OK"

	return entries
}

// Lookup returns the framed reply for cmd.
func (t *Table) Lookup(cmd []byte) ([]byte, bool) {
	// The compiler does not allocate for string(cmd) in a map index.
	reply, ok := t.replies[string(cmd)]
	return reply, ok
}

// Reply returns the framed reply for cmd, or the framed unknown reply when
// cmd is not in the table.
func (t *Table) Reply(cmd []byte) []byte {
	if reply, ok := t.Lookup(cmd); ok {
		return reply
	}

	return protocol.UnknownTerminal
}

func (t *Table) Len() int {
	return len(t.replies)
}

// Entries returns a copy of the table as command -> unframed reply pairs.
func (t *Table) Entries() map[string]string {
	out := make(map[string]string, len(t.replies))
	for cmd, reply := range t.replies {
		out[cmd] = string(reply[:len(reply)-len(protocol.CRLF)])
	}

	return out
}
