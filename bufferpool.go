package transport

import "sync"

// BufferPool hands out fixed-size receive buffers and takes them back,
// so connections don't each allocate and garbage-collect their own.
// The corpus's own idiom for this is sync.Pool (see DESIGN.md), so the
// default implementation here wraps one directly rather than inventing a
// bespoke free-list.
type BufferPool interface {
	Acquire() []byte
	Release(buf []byte)
}

// syncBufferPool is the default BufferPool, backed by sync.Pool. Buffers
// are always handed out at exactly size bytes; Release silently drops
// buffers of the wrong length rather than erroring, since a caller passing
// back a mismatched slice is a programming error the pool has no good way
// to recover from.
type syncBufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a BufferPool whose buffers are all size bytes.
func NewBufferPool(size int) BufferPool {
	p := &syncBufferPool{size: size}
	p.pool.New = func() any {
		return make([]byte, p.size)
	}
	return p
}

func (p *syncBufferPool) Acquire() []byte {
	return p.pool.Get().([]byte)
}

func (p *syncBufferPool) Release(buf []byte) {
	if len(buf) != p.size {
		return
	}
	p.pool.Put(buf) //nolint:staticcheck // pooled []byte, not a pointer-to-slice; acceptable for fixed-size buffers
}
