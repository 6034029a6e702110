// Package engine orchestrates on-demand GOP decoding: it resolves
// requested frame ordinals to GOP starts, drives the per-file demux
// and decode stages, and hands decoded surfaces back as borrowed
// views into each file's device memory pool.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/gopdec/internal/bundle"
	"github.com/jmylchreest/gopdec/internal/config"
	"github.com/jmylchreest/gopdec/internal/demux"
	"github.com/jmylchreest/gopdec/internal/devmem"
	"github.com/jmylchreest/gopdec/internal/gop"
	"github.com/jmylchreest/gopdec/internal/hwdec"
	"github.com/jmylchreest/gopdec/internal/media"
	"github.com/jmylchreest/gopdec/internal/observability"
	"github.com/jmylchreest/gopdec/internal/reader"
	"github.com/jmylchreest/gopdec/internal/worker"
)

// ValidationError reports a request rejected before any device work
// began: mismatched argument lengths or a batch exceeding capacity.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "engine: invalid request: " + e.Detail
}

// GopCache looks up and stores serialized GOP bundles keyed by file
// path and frame ordinal. Fetch hits when the cached GOP's frame span
// contains the requested ordinal.
type GopCache interface {
	Fetch(path string, frame int64) ([]byte, bool, error)
	Store(path string, firstFrame, gopLen int64, data []byte) error
}

// Frame is one decoded surface. Data aliases a slot inside View,
// which is borrowed from the file's device pool: the next decode on
// the same file invalidates it. Copy out to keep the pixels.
type Frame struct {
	File   string
	ID     int64
	Width  int
	Height int
	Format string

	View *devmem.View
	Data []byte
}

// Bytes returns the frame's pixel data while the underlying view is
// still live.
func (f *Frame) Bytes() ([]byte, error) {
	if _, err := f.View.Bytes(); err != nil {
		return nil, err
	}
	return f.Data, nil
}

// Copy returns an owned copy of the frame's pixel data.
func (f *Frame) Copy() ([]byte, error) {
	b, err := f.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Options carries the injectable collaborators. Zero values select the
// host-backed defaults.
type Options struct {
	Logger         *slog.Logger
	DecoderFactory hwdec.Factory
	Allocator      devmem.Allocator
	Opener         reader.Opener
	Cache          GopCache
}

// Engine is the decode front door. Safe for concurrent use; work on
// one file is serialized through that file's pipeline worker.
type Engine struct {
	cfg    config.EngineConfig
	pool   *reader.Pool
	infos  *reader.InfoCache
	cache  GopCache
	logger *slog.Logger
	async  *mailbox

	mu       sync.Mutex
	factory  hwdec.Factory
	alloc    devmem.Allocator
	decoders map[media.Codec]hwdec.Decoder
	bundles  *devmem.Pool
}

// New builds an engine from validated engine config.
func New(cfg config.EngineConfig, opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.DecoderFactory
	if factory == nil {
		factory = hwdec.NewHostDecoder
	}
	var alloc devmem.Allocator = devmem.HostAllocator{}
	if opts.Allocator != nil {
		alloc = opts.Allocator
	}

	readerOpts := &reader.Options{
		GPUID:          cfg.GPUID,
		QueueSize:      cfg.WorkerQueueSize,
		ReadersPerFile: cfg.ReadersPerFile,
		DecoderFactory: factory,
		Allocator:      alloc,
		Opener:         opts.Opener,
		Logger:         logger,

		SuppressNoColorRangeWarning: cfg.SuppressNoColorRangeWarning,
	}

	return &Engine{
		cfg:      cfg,
		pool:     reader.NewPool(cfg.MaxFiles, readerOpts),
		infos:    reader.NewInfoCache(infoCacheCapacity(cfg.MaxFiles), opts.Opener, logger),
		cache:    opts.Cache,
		logger:   logger,
		async:    newMailbox(logger),
		factory:  factory,
		alloc:    alloc,
		decoders: make(map[media.Codec]hwdec.Decoder),
		bundles:  devmem.NewPool(alloc),
	}
}

// The probe cache outlives the reader pool on purpose: stream info is
// cheap to hold and callers scan far more files than they decode.
func infoCacheCapacity(maxFiles int) int {
	if maxFiles <= 0 {
		return 256
	}
	return maxFiles * 8
}

// Probe returns stream metadata for one file, served from the LFU
// probe cache when warm.
func (e *Engine) Probe(path string) (*media.StreamInfo, error) {
	return e.infos.Get(path)
}

// ProbeAll probes many files, stopping at the first failure.
func (e *Engine) ProbeAll(paths []string) ([]*media.StreamInfo, error) {
	out := make([]*media.StreamInfo, 0, len(paths))
	for _, path := range paths {
		info, err := e.infos.Get(path)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Decode decodes the requested frame ordinals from one file and
// returns them in request order. Results are borrowed views; the next
// Decode against the same file invalidates them.
func (e *Engine) Decode(path string, frameIDs []int64, order hwdec.ColorOrder) ([]Frame, error) {
	if len(frameIDs) == 0 {
		return nil, &ValidationError{Detail: "no frames requested"}
	}
	ctx, err := e.pool.Acquire(path)
	if err != nil {
		return nil, err
	}
	var frames []Frame
	err = runOn(ctx.Runner(), func() error {
		var derr error
		frames, derr = e.decodeFile(ctx, frameIDs, order)
		return derr
	})
	return frames, err
}

// DecodeList fans decoding out across files, one goroutine per file.
// Every output slot is written by exactly one goroutine; the first
// error is returned after all files finish, with the successful
// files' slots still populated.
func (e *Engine) DecodeList(paths []string, frameIDs [][]int64, order hwdec.ColorOrder) ([][]Frame, error) {
	if len(paths) != len(frameIDs) {
		return nil, &ValidationError{Detail: fmt.Sprintf("%d paths but %d frame lists", len(paths), len(frameIDs))}
	}
	if e.cfg.MaxFiles > 0 && len(paths) > e.cfg.MaxFiles {
		return nil, &ValidationError{Detail: fmt.Sprintf("batch of %d files exceeds reader capacity %d", len(paths), e.cfg.MaxFiles)}
	}

	results := make([][]Frame, len(paths))
	var g errgroup.Group
	for i := range paths {
		g.Go(func() error {
			frames, err := e.Decode(paths[i], frameIDs[i], order)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", paths[i], err)
			}
			results[i] = frames
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// decodeFile runs on the file's pipeline worker. It acquires one pool
// view covering all requested frames and fills slot i with frame
// frameIDs[i].
func (e *Engine) decodeFile(ctx *reader.Context, frameIDs []int64, order hwdec.ColorOrder) ([]Frame, error) {
	dec := ctx.Decoder()
	format := e.outputFormat(order)
	slot := e.slotSize(dec, format)

	mem := ctx.MemPool()
	if !e.cfg.UseDeviceMemPool {
		// Per-request allocation: frames own their buffers instead of
		// borrowing pooled slots that the next decode invalidates.
		mem = devmem.NewPool(e.alloc)
	}
	view, err := mem.Acquire(slot * int64(len(frameIDs)))
	if err != nil {
		return nil, err
	}
	buf, err := view.Bytes()
	if err != nil {
		return nil, err
	}
	scratch := make([]byte, dec.FrameSize())

	frames := make([]Frame, len(frameIDs))
	for i, target := range frameIDs {
		dst := buf[int64(i)*slot : int64(i+1)*slot]
		if err := e.decodeOne(ctx, target, format, order, dst, scratch); err != nil {
			return nil, fmt.Errorf("frame %d: %w", target, err)
		}
		frames[i] = Frame{
			File:   ctx.Path,
			ID:     target,
			Width:  dec.Width(),
			Height: dec.Height(),
			Format: format,
			View:   view,
			Data:   dst,
		}
	}
	return frames, nil
}

// decodeOne positions the context at or inside the GOP containing
// target and decodes forward until target's surface lands in dst.
// Disposable packets before the target are skipped: nothing references
// a non-reference frame, so catching up never needs them.
func (e *Engine) decodeOne(ctx *reader.Context, target int64, format string, order hwdec.ColorOrder, dst, scratch []byte) error {
	dec := ctx.Decoder()
	info := ctx.Info()

	var first, gopLen, cur int64
	if ctx.CanContinueTo(target) {
		first, gopLen = ctx.GopBounds()
		cur = ctx.LastDecoded()
	} else {
		var pkt *demux.Packet
		var err error
		if ctx.Index().Mapped() {
			first, err = gop.LocateGopStart(ctx.Index(), target)
			if err != nil {
				return err
			}
			gopLen, err = ctx.Index().GopLen(first)
			if err != nil {
				return err
			}
			pkt, cur, err = ctx.Seeker().SeekToFrame(target)
		} else {
			// Arithmetic index: the backtracking seek finds the GOP
			// start, and with the next boundary unknown the fast path
			// is bounded by end of stream. Decoding forward across a
			// key frame is safe.
			pkt, cur, err = ctx.Seeker().SeekToGopStartNoMapping(target)
			first = cur
			gopLen = info.FrameCount - first
		}
		if err != nil {
			ctx.ResetPosition()
			return err
		}
		if err := e.decodePacket(dec, info, pkt.Data, cur == target, format, order, dst, scratch); err != nil {
			ctx.ResetPosition()
			return err
		}
	}

	for cur < target {
		pkt, err := ctx.Demuxer().Demux()
		if err != nil {
			ctx.ResetPosition()
			return fmt.Errorf("demuxing toward frame %d: %w", target, err)
		}
		cur++
		if pkt.Disposable && cur < target {
			continue
		}
		if err := e.decodePacket(dec, info, pkt.Data, cur == target, format, order, dst, scratch); err != nil {
			ctx.ResetPosition()
			return err
		}
	}

	ctx.MarkDecoded(first, gopLen, target)
	e.logger.Log(context.Background(), observability.LevelTrace, "frame decoded",
		slog.String("file", ctx.Path),
		slog.Int64("frame", target))
	return nil
}

// decodePacket feeds one packet. Only the target frame is written to
// dst; catch-up frames decode into scratch to advance decoder state.
func (e *Engine) decodePacket(dec hwdec.Decoder, info *media.StreamInfo, pkt []byte, isTarget bool, format string, order hwdec.ColorOrder, dst, scratch []byte) error {
	if !isTarget {
		_, err := dec.DecodeInto(pkt, scratch)
		return err
	}
	if format == config.OutputFormatNV12 {
		_, err := dec.DecodeInto(pkt, dst)
		return err
	}
	if _, err := dec.DecodeInto(pkt, scratch); err != nil {
		return err
	}
	rgb, err := hwdec.ConvertNV12(scratch, dec.Width(), dec.Height(),
		info.ColorRange == media.ColorRangeFull, order)
	if err != nil {
		return err
	}
	copy(dst, rgb)
	return nil
}

func (e *Engine) outputFormat(order hwdec.ColorOrder) string {
	if e.cfg.OutputFormat == config.OutputFormatNV12 {
		return config.OutputFormatNV12
	}
	return string(order)
}

func (e *Engine) slotSize(dec hwdec.Decoder, format string) int64 {
	if format == config.OutputFormatNV12 {
		return dec.FrameSize()
	}
	return int64(dec.Width()) * int64(dec.Height()) * 3
}

// GetGop returns the serialized bundle of the GOP containing frame,
// consulting the GOP cache first when one is configured.
func (e *Engine) GetGop(path string, frame int64) ([]byte, error) {
	if e.cache != nil {
		data, ok, err := e.cache.Fetch(path, frame)
		if err != nil {
			observability.WithError(e.logger, err).Warn("gop cache fetch failed",
				slog.String("file", path))
		} else if ok {
			return data, nil
		}
	}

	ctx, err := e.pool.Acquire(path)
	if err != nil {
		return nil, err
	}
	var data []byte
	var first, gopLen int64
	err = runOn(ctx.Runner(), func() error {
		packets, f, n, rerr := ctx.Seeker().ReadGop(frame)
		// the GOP read moved the demuxer, the fast path state is stale
		ctx.ResetPosition()
		if rerr != nil {
			return rerr
		}
		first, gopLen = f, n

		raw := make([][]byte, len(packets))
		gopLens := make([]int, len(packets))
		firstIDs := make([]int64, len(packets))
		decodeIdxs := make([]int64, len(packets))
		for i, pkt := range packets {
			raw[i] = pkt.Data
			gopLens[i] = int(gopLen)
			firstIDs[i] = first
			decodeIdxs[i] = int64(i)
		}
		var berr error
		data, berr = bundle.BuildFromPackets(ctx.Info(), raw, gopLens, firstIDs, decodeIdxs)
		return berr
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if serr := e.cache.Store(path, first, gopLen, data); serr != nil {
			observability.WithError(e.logger, serr).Warn("gop cache store failed",
				slog.String("file", path),
				slog.Int64("first_frame", first))
		}
	}
	return data, nil
}

// GetGopList returns one bundle per (path, frame) pair.
func (e *Engine) GetGopList(paths []string, frames []int64) ([][]byte, error) {
	if len(paths) != len(frames) {
		return nil, &ValidationError{Detail: fmt.Sprintf("%d paths but %d frames", len(paths), len(frames))}
	}
	out := make([][]byte, len(paths))
	for i := range paths {
		data, err := e.GetGop(paths[i], frames[i])
		if err != nil {
			return nil, fmt.Errorf("gop for %s frame %d: %w", paths[i], frames[i], err)
		}
		out[i] = data
	}
	return out, nil
}

// LoadGops returns the GOPs for all (path, frame) pairs merged into a
// single bundle with one coherent offset table.
func (e *Engine) LoadGops(paths []string, frames []int64) ([]byte, error) {
	bundles, err := e.GetGopList(paths, frames)
	if err != nil {
		return nil, err
	}
	return bundle.Merge(bundles)
}

// LoadGopsToList returns the GOPs for all (path, frame) pairs as
// separate per-file bundles.
func (e *Engine) LoadGopsToList(paths []string, frames []int64) ([][]byte, error) {
	return e.GetGopList(paths, frames)
}

// MergeBundles combines separately obtained bundles into one.
func (e *Engine) MergeBundles(bundles [][]byte) ([]byte, error) {
	return bundle.Merge(bundles)
}

// SaveBundle writes a bundle to disk, optionally compressed.
func (e *Engine) SaveBundle(path string, data []byte, compression string) error {
	return bundle.WriteFile(path, data, compression)
}

// LoadBundle reads a bundle written by SaveBundle, sniffing the
// compression from the file contents.
func (e *Engine) LoadBundle(path string) ([]byte, error) {
	return bundle.ReadFile(path)
}

// DecodeFromGop decodes the requested frame ordinals out of a
// serialized bundle, with no demuxer involved. The bundle's own
// metadata supplies codec, dimensions, and frame numbering.
func (e *Engine) DecodeFromGop(data []byte, frameIDs []int64, order hwdec.ColorOrder) ([]Frame, error) {
	if len(frameIDs) == 0 {
		return nil, &ValidationError{Detail: "no frames requested"}
	}
	b, err := bundle.Parse(data)
	if err != nil {
		return nil, err
	}
	if b.Count() == 0 {
		return nil, &ValidationError{Detail: "empty bundle"}
	}
	meta, _, err := b.Frame(0)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dec, err := e.decoderForLocked(meta.Codec, meta.Width, meta.Height)
	if err != nil {
		return nil, err
	}
	format := e.outputFormat(order)
	slot := e.slotSize(dec, format)

	mem := e.bundles
	if !e.cfg.UseDeviceMemPool {
		mem = devmem.NewPool(e.alloc)
	}
	view, err := mem.Acquire(slot * int64(len(frameIDs)))
	if err != nil {
		return nil, err
	}
	buf, err := view.Bytes()
	if err != nil {
		return nil, err
	}
	scratch := make([]byte, dec.FrameSize())

	wanted := make(map[int64]int, len(frameIDs))
	for i, id := range frameIDs {
		wanted[id] = i
	}
	info := &media.StreamInfo{
		Codec:      meta.Codec,
		Width:      meta.Width,
		Height:     meta.Height,
		ColorRange: meta.ColorRange,
	}

	frames := make([]Frame, len(frameIDs))
	filled := 0
	for i := 0; i < b.Count(); i++ {
		m, pkt, err := b.Frame(i)
		if err != nil {
			return nil, err
		}
		ordinal := m.FirstFrameID + m.DecodeIdx
		slotIdx, isTarget := wanted[ordinal]

		var dst []byte
		if isTarget {
			dst = buf[int64(slotIdx)*slot : int64(slotIdx+1)*slot]
		}
		if err := e.decodePacket(dec, info, pkt, isTarget, format, order, dst, scratch); err != nil {
			return nil, fmt.Errorf("bundle frame %d: %w", ordinal, err)
		}
		if isTarget {
			frames[slotIdx] = Frame{
				ID:     ordinal,
				Width:  dec.Width(),
				Height: dec.Height(),
				Format: format,
				View:   view,
				Data:   dst,
			}
			filled++
		}
	}
	if filled != len(frameIDs) {
		return nil, &ValidationError{Detail: fmt.Sprintf("bundle holds %d of %d requested frames", filled, len(frameIDs))}
	}
	return frames, nil
}

// DecodeFromGopList decodes frames from several bundles in sequence.
func (e *Engine) DecodeFromGopList(bundles [][]byte, frameIDs [][]int64, order hwdec.ColorOrder) ([][]Frame, error) {
	if len(bundles) != len(frameIDs) {
		return nil, &ValidationError{Detail: fmt.Sprintf("%d bundles but %d frame lists", len(bundles), len(frameIDs))}
	}
	out := make([][]Frame, len(bundles))
	for i := range bundles {
		frames, err := e.DecodeFromGop(bundles[i], frameIDs[i], order)
		if err != nil {
			return nil, fmt.Errorf("bundle %d: %w", i, err)
		}
		out[i] = frames
	}
	return out, nil
}

// InitializeDecoders pre-creates the standalone decoders used by the
// bundle decode path, so the first DecodeFromGop pays no setup cost.
func (e *Engine) InitializeDecoders(codecs []media.Codec, width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, codec := range codecs {
		if _, err := e.decoderForLocked(codec, width, height); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) decoderForLocked(codec media.Codec, width, height int) (hwdec.Decoder, error) {
	if dec, ok := e.decoders[codec]; ok {
		if dec.Width() == width && dec.Height() == height {
			return dec, nil
		}
		if err := dec.Close(); err != nil {
			return nil, err
		}
		delete(e.decoders, codec)
	}
	dec, err := e.factory(&media.StreamInfo{Codec: codec, Width: width, Height: height}, e.cfg.GPUID)
	if err != nil {
		return nil, err
	}
	e.decoders[codec] = dec
	return dec, nil
}

// ReleaseMemPools drops all device buffers while keeping decoder
// handles and cached contexts alive. Outstanding frame views become
// invalid.
func (e *Engine) ReleaseMemPools() error {
	err := e.pool.EvictPools()
	e.mu.Lock()
	berr := e.bundles.HardRelease()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return berr
}

// ReleaseDecoders destroys all cached decode contexts and standalone
// decoders. The engine stays usable; contexts rebuild on demand.
func (e *Engine) ReleaseDecoders() error {
	err := e.pool.Release()

	e.mu.Lock()
	for codec, dec := range e.decoders {
		if cerr := dec.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(e.decoders, codec)
	}
	e.mu.Unlock()
	return err
}

// Close tears the engine down: async worker first, then every context
// and decoder.
func (e *Engine) Close() error {
	e.async.close()
	err := e.ReleaseDecoders()
	e.mu.Lock()
	berr := e.bundles.HardRelease()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return berr
}

func runOn(r *worker.Runner, fn func() error) error {
	if err := r.Submit(fn); err != nil {
		return err
	}
	return r.Join()
}
