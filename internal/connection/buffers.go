package connection

import (
	"io"
	"sync"
)

// BufferSize is the size of each pooled relay buffer (32KB).
const BufferSize = 32 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, BufferSize)
		return &buf
	},
}

// copyBuffered copies src to dst with a pooled buffer.
func copyBuffered(dst io.Writer, src io.Reader) (int64, error) {
	buf := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(buf)
	return io.CopyBuffer(dst, src, *buf)
}
