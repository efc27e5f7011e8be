package commands

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

var ErrInvalidCommand = errors.New("Command is malformed, it must be non-empty and must not contain CR or LF")

type fileTable struct {
	Commands map[string]string `toml:"commands"`
}

// LoadFile reads extra commands from a TOML file and merges them over the
// built in table. The file looks like
//
//	[commands]
//	"RD 7000" = "42"
//	"VER"     = "1.0"
func LoadFile(path string) (*Table, error) {
	var raw fileTable
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("load commands: %w", err)
	}

	return Merge(DefaultEntries(), raw.Commands)
}

// Merge builds a Table from base with extra entries layered on top.
func Merge(base, extra map[string]string) (*Table, error) {
	entries := make(map[string]string, len(base)+len(extra))
	for cmd, reply := range base {
		entries[cmd] = reply
	}

	for cmd, reply := range extra {
		if err := validate(cmd, reply); err != nil {
			return nil, err
		}

		entries[cmd] = reply
	}

	return New(entries), nil
}

func validate(cmd, reply string) error {
	if cmd == "" || bytes.ContainsAny([]byte(cmd), "\r\n") {
		return fmt.Errorf("Failed to add %q: %w", cmd, ErrInvalidCommand)
	}

	if bytes.ContainsAny([]byte(reply), "\r\n") {
		return fmt.Errorf("Failed to add reply %q for %q: %w", reply, cmd, ErrInvalidCommand)
	}

	return nil
}
