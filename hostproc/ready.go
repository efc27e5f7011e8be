// Package hostproc is the control interface between a parent process and a
// sled server it started. The child announces itself with a READY line on
// stderr and the parent asks it to stop with an EXIT line on stdin.
package hostproc

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	EventReady = "READY"

	DefaultProcSecret = "SLED-LOCAL-DEV-PROC"
)

// ReadyLine is the machine readable line a server writes once it is
// listening, without a line terminator.
func ReadyLine(port int) []byte {
	line, _ := sjson.SetBytes([]byte(`{}`), "event", EventReady)
	line, _ = sjson.SetBytes(line, "port", port)

	return line
}

// ParseReady returns the port from a READY line. Any other line, including
// the JSON log lines a server writes to the same stream, returns false.
func ParseReady(line []byte) (int, bool) {
	if !gjson.ValidBytes(line) {
		return 0, false
	}

	res := gjson.GetManyBytes(line, "event", "port")
	if res[0].String() != EventReady || res[1].Type != gjson.Number {
		return 0, false
	}

	port := int(res[1].Int())
	if port < 1 || port > 65535 {
		return 0, false
	}

	return port, true
}
