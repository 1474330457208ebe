// Package bufpool provides sized byte-slice reuse. In this module its one
// user is the Ebitengine sink, which takes its PCM ring buffer from the
// default pool in Init and returns it in Release.
package bufpool

import "sync"

var sizeClasses = []int{1024, 8192, 65536, 262144}

type classPool struct {
	size int
	pool *sync.Pool
}

// Pool hands out byte slices from fixed size classes.
type Pool struct {
	pools []classPool
}

var defaultPool = New()

// Get acquires a buffer of at least size bytes from the default pool.
func Get(size int) []byte { return defaultPool.Get(size) }

// Put releases a buffer back to the default pool.
func Put(buf []byte) { defaultPool.Put(buf) }

// New creates a buffer pool with size classes tuned for audio PCM chunks
// and compressed video packets.
func New() *Pool {
	pools := make([]classPool, len(sizeClasses))
	for i, classSize := range sizeClasses {
		size := classSize
		pools[i] = classPool{
			size: size,
			pool: &sync.Pool{New: func() any { return make([]byte, 0, size) }},
		}
	}
	return &Pool{pools: pools}
}

// Get returns a zero-length slice with capacity >= size, reused when
// possible. Requests larger than the biggest size class allocate directly.
func (p *Pool) Get(size int) []byte {
	for _, class := range p.pools {
		if size <= class.size {
			buf := class.pool.Get().([]byte)
			return buf[:0]
		}
	}
	return make([]byte, 0, size)
}

// Put returns buf to the pool matching its capacity, if any.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	for _, class := range p.pools {
		if c == class.size {
			class.pool.Put(buf[:0]) //nolint:staticcheck // reusing backing array intentionally
			return
		}
	}
	// non-matching capacity: let the GC reclaim it
}
