package buffer

import "sync"

// ChunkPool hands out fixed-size byte slices for the relay copy loop,
// bounding per-transfer memory no matter how large the media file is while
// avoiding an allocation per chunk.
type ChunkPool struct {
	pool sync.Pool
	size int
}

// NewChunkPool creates a pool of chunkSize-byte buffers.
func NewChunkPool(chunkSize int64) *ChunkPool {
	cp := &ChunkPool{size: int(chunkSize)}
	cp.pool.New = func() any {
		b := make([]byte, cp.size)
		return &b
	}
	return cp
}

// Get retrieves a buffer of the configured chunk size.
func (cp *ChunkPool) Get() []byte {
	return *(cp.pool.Get().(*[]byte))
}

// Put returns a buffer to the pool. Buffers of a different capacity (from a
// config reload) are dropped instead of pooled.
func (cp *ChunkPool) Put(b []byte) {
	if cap(b) != cp.size {
		return
	}
	b = b[:cp.size]
	cp.pool.Put(&b)
}

// Size reports the chunk size this pool serves.
func (cp *ChunkPool) Size() int {
	return cp.size
}
