package reader

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolFull is returned when acquiring a new file would exceed the
// pool's capacity. The pool rejects rather than blocks so callers are
// never starved behind someone else's teardown.
var ErrPoolFull = errors.New("reader: pool at capacity")

// slot holds one file's readers. With more than one reader per file,
// acquires rotate through them so concurrent requests against the same
// file can pipeline on different contexts.
type slot struct {
	ctxs []*Context
	next int
}

// Pool caches decode contexts keyed by file path, capped at a fixed
// number of files with no eviction: a cached path is served from its
// reader ring, a new path over capacity is rejected. Capacity is
// checked before any context is constructed, so a rejected acquire
// never leaks a freshly-built decoder or device allocation.
type Pool struct {
	mu       sync.Mutex
	capacity int
	perFile  int
	slots    map[string]*slot
	opts     *Options
	logger   *slog.Logger

	// construct is swappable for tests
	construct func(path string, opts *Options) (*Context, error)
}

// NewPool creates a pool holding at most capacity files, each with
// opts.ReadersPerFile contexts. Zero or negative capacity means
// unbounded.
func NewPool(capacity int, opts *Options) *Pool {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	perFile := opts.ReadersPerFile
	if perFile < 1 {
		perFile = 1
	}
	return &Pool{
		capacity:  capacity,
		perFile:   perFile,
		slots:     make(map[string]*slot),
		opts:      opts,
		logger:    logger,
		construct: NewContext,
	}
}

// Acquire returns a context for path, rotating through the file's
// readers. A new path constructs its full reader ring if the pool has
// room; over capacity it fails with ErrPoolFull.
func (p *Pool) Acquire(path string) (*Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.slots[path]; ok {
		ctx := s.ctxs[s.next%len(s.ctxs)]
		s.next++
		return ctx, nil
	}
	// Capacity check happens before construction: a context built and
	// then discarded would leak its decoder and device memory.
	if p.capacity > 0 && len(p.slots) >= p.capacity {
		return nil, fmt.Errorf("%w: %d files, rejecting %s", ErrPoolFull, len(p.slots), path)
	}

	s := &slot{ctxs: make([]*Context, 0, p.perFile)}
	for i := 0; i < p.perFile; i++ {
		ctx, err := p.construct(path, p.opts)
		if err != nil {
			for _, built := range s.ctxs {
				built.Close()
			}
			return nil, err
		}
		s.ctxs = append(s.ctxs, ctx)
	}
	p.slots[path] = s
	p.logger.Debug("reader pool admitted file",
		slog.String("file", path),
		slog.Int("readers", len(s.ctxs)),
		slog.Int("pool_size", len(p.slots)))
	s.next = 1
	return s.ctxs[0], nil
}

// Peek returns the context the next Acquire for path would serve,
// without constructing or rotating.
func (p *Pool) Peek(path string) (*Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[path]
	if !ok {
		return nil, false
	}
	return s.ctxs[s.next%len(s.ctxs)], true
}

// Len returns the number of cached files.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Paths returns the cached file paths in unspecified order.
func (p *Pool) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.slots))
	for path := range p.slots {
		out = append(out, path)
	}
	return out
}

// EvictPools releases every context's device buffers while keeping the
// contexts and their decoder handles cached.
func (p *Pool) EvictPools() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, s := range p.slots {
		for _, ctx := range s.ctxs {
			if err := ctx.EvictPool(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Release destroys all cached contexts and empties the pool.
func (p *Pool) Release() error {
	p.mu.Lock()
	slots := p.slots
	p.slots = make(map[string]*slot)
	p.mu.Unlock()

	var firstErr error
	for _, s := range slots {
		for _, ctx := range s.ctxs {
			if err := ctx.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
