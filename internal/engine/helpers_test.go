package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmylchreest/gopdec/internal/config"
	"github.com/jmylchreest/gopdec/internal/demux"
	"github.com/jmylchreest/gopdec/internal/media"
)

const ticksPerFrame = 3000 // 30fps at 90kHz

// streamSpec describes one synthetic file served by the fake opener.
type streamSpec struct {
	codec      media.Codec
	frameCount int64
	keyframes  []int64
	vfr        bool
}

// fakeDemuxer serves a synthetic H.264-style stream. Key-frame packets
// carry an IDR unit and each packet's last byte is its ordinal, so
// decoded checksums differ frame to frame.
type fakeDemuxer struct {
	info  *media.StreamInfo
	key   map[int64]bool
	pos   int
	owner *fakeStreams
}

func newFakeDemuxer(path string, spec streamSpec, owner *fakeStreams) *fakeDemuxer {
	d := &fakeDemuxer{
		info: &media.StreamInfo{
			Path:         path,
			Codec:        spec.codec,
			TimeBase:     media.Rational{Num: 1, Den: 90000},
			AvgFrameRate: media.Rational{Num: 30, Den: 1},
			FrameCount:   spec.frameCount,
			VFR:          spec.vfr,
		},
		key:   make(map[int64]bool),
		owner: owner,
	}
	for _, k := range spec.keyframes {
		d.key[k] = true
	}
	return d
}

func (d *fakeDemuxer) packetAt(ordinal int64) *demux.Packet {
	header := byte(0x41) // non-IDR reference slice
	if d.key[ordinal] {
		header = 0x65 // IDR
	}
	return &demux.Packet{
		Data:    []byte{0x00, 0x00, 0x00, 0x01, header, byte(ordinal)},
		PTS:     ordinal * ticksPerFrame,
		KeyFlag: d.key[ordinal],
	}
}

func (d *fakeDemuxer) Info() *media.StreamInfo { return d.info }

func (d *fakeDemuxer) Demux() (*demux.Packet, error) {
	if int64(d.pos) >= d.info.FrameCount {
		return nil, io.EOF
	}
	pkt := d.packetAt(int64(d.pos))
	d.pos++
	return pkt, nil
}

func (d *fakeDemuxer) Seek(ts int64) (int64, error) {
	if d.owner != nil {
		d.owner.mu.Lock()
		d.owner.seeks++
		d.owner.mu.Unlock()
	}
	n := int(d.info.FrameCount)
	i := sort.Search(n, func(i int) bool { return int64(i)*ticksPerFrame > ts })
	if i > 0 {
		i--
	}
	d.pos = i
	return int64(i) * ticksPerFrame, nil
}

func (d *fakeDemuxer) Close() error { return nil }

// fakeStreams is a path-keyed opener with a shared seek counter.
type fakeStreams struct {
	mu    sync.Mutex
	specs map[string]streamSpec
	seeks int
}

func (s *fakeStreams) open(path string, _ *slog.Logger) (demux.Demuxer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[path]
	if !ok {
		return nil, fmt.Errorf("no such stream %q", path)
	}
	return newFakeDemuxer(path, spec, s), nil
}

func (s *fakeStreams) seekCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeks
}

func testEngineConfig(maxFiles int, outputFormat string) config.EngineConfig {
	return config.EngineConfig{
		MaxFiles:         maxFiles,
		ReadersPerFile:   1,
		UseDeviceMemPool: true,
		OutputFormat:     outputFormat,
		WorkerQueueSize:  16,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(maxFiles int, outputFormat string, streams *fakeStreams, cache GopCache) *Engine {
	return New(testEngineConfig(maxFiles, outputFormat), &Options{
		Logger: testLogger(),
		Opener: streams.open,
		Cache:  cache,
	})
}

// defaultStreams marks its files VFR so decodes go through the
// explicit mapping; CFR arithmetic-path tests build their own specs.
func defaultStreams() *fakeStreams {
	return &fakeStreams{specs: map[string]streamSpec{
		"a.ts": {codec: media.CodecH264, frameCount: 90, keyframes: []int64{0, 30, 60}, vfr: true},
		"b.ts": {codec: media.CodecH264, frameCount: 60, keyframes: []int64{0, 30}, vfr: true},
		"v.ts": {codec: media.Codec("vp9"), frameCount: 30, keyframes: []int64{0}, vfr: true},
	}}
}
