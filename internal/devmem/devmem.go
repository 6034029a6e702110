// Package devmem provides a grow-only device buffer pool. The pool owns
// one allocation sized to the largest request seen so far; smaller
// requests reuse it in place. Buffers handed out are borrowed views with
// pool-scoped lifetime, not independently owned memory.
package devmem

import (
	"fmt"
	"sync"
)

// DeviceError reports a failed device allocation or release.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Allocator abstracts the device allocation primitive. The host-backed
// implementation is used in tests and where no device is present.
type Allocator interface {
	Alloc(size int64) ([]byte, error)
	Free(buf []byte) error
}

// HostAllocator allocates ordinary host memory.
type HostAllocator struct{}

func (HostAllocator) Alloc(size int64) ([]byte, error) {
	if size < 0 {
		return nil, &DeviceError{Op: "alloc", Err: fmt.Errorf("negative size %d", size)}
	}
	return make([]byte, size), nil
}

func (HostAllocator) Free([]byte) error { return nil }

// Pool is a grow-only buffer pool. Acquire reuses the existing
// allocation when it is large enough and reallocates otherwise;
// HardRelease frees unconditionally. Safe for concurrent use, though
// a pool normally belongs to exactly one decode context.
type Pool struct {
	mu       sync.Mutex
	alloc    Allocator
	buf      []byte
	capacity int64
	gen      uint64
	grows    int
}

// NewPool creates a pool backed by the given allocator. A nil allocator
// falls back to host memory.
func NewPool(alloc Allocator) *Pool {
	if alloc == nil {
		alloc = HostAllocator{}
	}
	return &Pool{alloc: alloc}
}

// Acquire returns a view of at least size bytes. Any previously
// returned view is invalidated: a same-or-smaller request aliases the
// existing allocation, a larger one replaces it.
func (p *Pool) Acquire(size int64) (*View, error) {
	if size <= 0 {
		return nil, &DeviceError{Op: "acquire", Err: fmt.Errorf("invalid size %d", size)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if size > p.capacity {
		if p.buf != nil {
			if err := p.alloc.Free(p.buf); err != nil {
				return nil, &DeviceError{Op: "free", Err: err}
			}
		}
		buf, err := p.alloc.Alloc(size)
		if err != nil {
			p.buf = nil
			p.capacity = 0
			return nil, err
		}
		p.buf = buf
		p.capacity = size
		p.grows++
	}

	p.gen++
	return &View{pool: p, data: p.buf[:size], gen: p.gen}, nil
}

// HardRelease frees the allocation and resets the pool to unallocated.
// All outstanding views become invalid.
func (p *Pool) HardRelease() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf == nil {
		return nil
	}
	err := p.alloc.Free(p.buf)
	p.buf = nil
	p.capacity = 0
	p.gen++
	if err != nil {
		return &DeviceError{Op: "free", Err: err}
	}
	return nil
}

// Capacity returns the size of the current allocation in bytes.
func (p *Pool) Capacity() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Allocated reports whether the pool currently holds device memory.
func (p *Pool) Allocated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf != nil
}

// Grows returns how many times the pool reallocated to a larger size.
func (p *Pool) Grows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grows
}

// View is a borrowed reference into the pool's allocation. It is valid
// until the pool's next Acquire or HardRelease; use Copy to keep the
// data beyond that.
type View struct {
	pool *Pool
	data []byte
	gen  uint64
}

// Valid reports whether the view still references live pool memory.
func (v *View) Valid() bool {
	v.pool.mu.Lock()
	defer v.pool.mu.Unlock()
	return v.gen == v.pool.gen && v.pool.buf != nil
}

// Size returns the view length in bytes.
func (v *View) Size() int64 {
	return int64(len(v.data))
}

// Bytes returns the aliased pool memory. Callers must not retain the
// slice past the view's validity.
func (v *View) Bytes() ([]byte, error) {
	if !v.Valid() {
		return nil, &DeviceError{Op: "view", Err: fmt.Errorf("view invalidated by pool reuse")}
	}
	return v.data, nil
}

// Copy returns an owned copy of the view's contents, detached from the
// pool's reuse schedule.
func (v *View) Copy() ([]byte, error) {
	b, err := v.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
