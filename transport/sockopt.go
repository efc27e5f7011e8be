package transport

import "time"

// seconds rounds d up to whole seconds, the kernel's keep-alive granularity.
func seconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}

	return s
}
