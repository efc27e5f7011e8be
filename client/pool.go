package client

import "sync"

const (
	defaultBufferSize = 256

	// Buffers that grew past this are dropped instead of pooled
	maxPooledBufferSize = 64 * 1024
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, defaultBufferSize)
		return &b
	},
}

func getBuffer() *[]byte {
	b := bufferPool.Get().(*[]byte)
	*b = (*b)[:0]

	return b
}

func putBuffer(b *[]byte) {
	if cap(*b) > maxPooledBufferSize {
		return
	}

	bufferPool.Put(b)
}
