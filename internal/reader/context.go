// Package reader manages per-file decode contexts and the bounded pool
// that caches them across requests.
package reader

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/gopdec/internal/demux"
	"github.com/jmylchreest/gopdec/internal/devmem"
	"github.com/jmylchreest/gopdec/internal/gop"
	"github.com/jmylchreest/gopdec/internal/hwdec"
	"github.com/jmylchreest/gopdec/internal/index"
	"github.com/jmylchreest/gopdec/internal/media"
	"github.com/jmylchreest/gopdec/internal/observability"
	"github.com/jmylchreest/gopdec/internal/worker"
)

// Context owns everything needed to decode one file: demuxer, frame
// index, seeker, hardware decoder, device memory pool, and the pipeline
// worker that serializes this file's decode order. Ownership moves
// serially between pipeline stages; a context is never used by two
// stages at once.
type Context struct {
	Path string

	demuxer demux.Demuxer
	idx     *index.FrameIndex
	seeker  *gop.Seeker
	decoder hwdec.Decoder
	pool    *devmem.Pool
	runner  *worker.Runner
	logger  *slog.Logger

	// sequential fast path state: the GOP currently positioned and the
	// last ordinal decoded from it
	gopFirst  int64
	gopLen    int64
	lastFrame int64
}

// Opener turns a file path into a demuxer.
type Opener func(path string, logger *slog.Logger) (demux.Demuxer, error)

// Options configures context construction and pool sizing.
type Options struct {
	GPUID          int
	QueueSize      int
	ReadersPerFile int
	DecoderFactory hwdec.Factory
	Allocator      devmem.Allocator
	Opener         Opener
	Logger         *slog.Logger

	// SuppressNoColorRangeWarning silences the warning logged when a
	// stream carries no color range metadata.
	SuppressNoColorRangeWarning bool
}

func (o *Options) withDefaults() *Options {
	out := *o
	if out.QueueSize < 1 {
		out.QueueSize = 64
	}
	if out.DecoderFactory == nil {
		out.DecoderFactory = hwdec.NewHostDecoder
	}
	if out.Opener == nil {
		out.Opener = demux.Open
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// NewContext opens the file, builds its frame index, and creates the
// decoder and device pool. Order matters: everything that can fail is
// tried before device resources are committed.
func NewContext(path string, opts *Options) (*Context, error) {
	o := opts.withDefaults()

	d, err := o.Opener(path, o.Logger)
	if err != nil {
		return nil, err
	}
	// VFR files need the explicit frame/pts bijection, which costs a
	// full demux pass. CFR files convert arithmetically and find GOP
	// starts with the backtracking seek.
	var idx *index.FrameIndex
	if d.Info().VFR {
		idx, err = index.Build(d)
	} else {
		idx, err = index.NewArithmetic(d.Info(), nil)
	}
	if err != nil {
		d.Close()
		return nil, err
	}
	seeker, err := gop.NewSeeker(d, idx, o.Logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	if d.Info().ColorRange == media.ColorRangeUnknown && !o.SuppressNoColorRangeWarning {
		o.Logger.Warn("stream carries no color range metadata, assuming limited range",
			slog.String("file", path))
	}
	dec, err := o.DecoderFactory(idx.Info(), o.GPUID)
	if err != nil {
		d.Close()
		return nil, err
	}

	return &Context{
		Path:      path,
		demuxer:   d,
		idx:       idx,
		seeker:    seeker,
		decoder:   dec,
		pool:      devmem.NewPool(o.Allocator),
		runner:    worker.NewRunner(o.QueueSize),
		logger:    observability.WithFile(o.Logger, path),
		gopFirst:  -1,
		lastFrame: -1,
	}, nil
}

// Info returns the file's stream metadata.
func (c *Context) Info() *media.StreamInfo { return c.idx.Info() }

// Index returns the file's frame index.
func (c *Context) Index() *index.FrameIndex { return c.idx }

// Seeker returns the file's GOP seeker.
func (c *Context) Seeker() *gop.Seeker { return c.seeker }

// Decoder returns the file's hardware decoder handle.
func (c *Context) Decoder() hwdec.Decoder { return c.decoder }

// MemPool returns the file's device memory pool.
func (c *Context) MemPool() *devmem.Pool { return c.pool }

// Runner returns the worker serializing this file's pipeline work.
func (c *Context) Runner() *worker.Runner { return c.runner }

// Demuxer returns the underlying demuxer.
func (c *Context) Demuxer() demux.Demuxer { return c.demuxer }

// MarkDecoded records sequential progress inside a GOP so a following
// request can continue without re-seeking.
func (c *Context) MarkDecoded(gopFirst, gopLen, frame int64) {
	c.gopFirst = gopFirst
	c.gopLen = gopLen
	c.lastFrame = frame
}

// ResetPosition forgets sequential progress, forcing the next request
// to seek.
func (c *Context) ResetPosition() {
	c.gopFirst = -1
	c.gopLen = 0
	c.lastFrame = -1
}

// CanContinueTo reports whether target can be reached by decoding
// forward from the current position: inside the current GOP and past
// the last decoded ordinal.
func (c *Context) CanContinueTo(target int64) bool {
	return c.gopFirst >= 0 &&
		target > c.lastFrame &&
		target >= c.gopFirst &&
		target < c.gopFirst+c.gopLen
}

// LastDecoded returns the last decoded frame ordinal, -1 if none.
func (c *Context) LastDecoded() int64 { return c.lastFrame }

// GopBounds returns the first frame ordinal and length of the GOP the
// context is positioned in, or (-1, 0) when no position is held.
func (c *Context) GopBounds() (int64, int64) { return c.gopFirst, c.gopLen }

// EvictPool releases the context's device buffers but keeps the
// decoder handle, so the next decode reallocates without re-probing.
func (c *Context) EvictPool() error {
	c.ResetPosition()
	c.logger.Debug("releasing device buffers")
	return c.pool.HardRelease()
}

// Close tears the context down: drops queued work, waits out in-flight
// work, then releases decoder, device memory, and demuxer.
func (c *Context) Close() error {
	c.runner.ForceJoin()
	c.runner.Close()

	var firstErr error
	if err := c.decoder.Close(); err != nil {
		firstErr = fmt.Errorf("closing decoder for %s: %w", c.Path, err)
	}
	if err := c.pool.HardRelease(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("releasing device pool for %s: %w", c.Path, err)
	}
	if err := c.demuxer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing demuxer for %s: %w", c.Path, err)
	}
	return firstErr
}
