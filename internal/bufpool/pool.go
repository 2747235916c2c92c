package bufpool

import (
	"sync"
)

// Pool recycles fixed-size chunk buffers between scheduling cycles.
// Buffers are handed out as *[]byte so Put does not allocate.
type Pool struct {
	pool sync.Pool
	size int
}

// New creates a pool of chunk buffers of exactly size bytes.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer of exactly Size bytes. Contents are unspecified.
func (p *Pool) Get() *[]byte {
	b := p.pool.Get().(*[]byte)
	if cap(*b) < p.size {
		nb := make([]byte, p.size)
		return &nb
	}
	*b = (*b)[:p.size]
	return b
}

// Put returns a buffer obtained from Get. Nil and undersized buffers are dropped.
func (p *Pool) Put(b *[]byte) {
	if b == nil || cap(*b) < p.size {
		return
	}
	p.pool.Put(b)
}

// Size returns the buffer size handed out by the pool.
func (p *Pool) Size() int {
	return p.size
}

var shared sync.Map // map[int]*Pool

// For returns the process-wide pool for size, creating it on first use.
func For(size int) *Pool {
	if p, ok := shared.Load(size); ok {
		return p.(*Pool)
	}
	p, _ := shared.LoadOrStore(size, New(size))
	return p.(*Pool)
}
