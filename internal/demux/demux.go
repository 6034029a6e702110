// Package demux opens container files and exposes their video
// elementary stream as an ordered sequence of timestamped packets.
// Both backends index the container once at open time, so Seek is a
// position change rather than a fresh container scan.
package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/jmylchreest/gopdec/internal/media"
	"github.com/jmylchreest/gopdec/internal/nalu"
)

// ErrNoVideoTrack indicates a container with no usable video stream.
var ErrNoVideoTrack = errors.New("demux: no video track found")

// Packet is one demuxed video access unit in Annex-B (H.264/HEVC) or
// raw OBU (AV1) form.
type Packet struct {
	Data []byte
	PTS  int64
	DTS  int64

	// KeyFlag is the container-reported key-frame flag. Callers combine
	// it with the structural check; neither signal alone is trusted.
	KeyFlag bool

	// Disposable marks an H.264 non-reference slice.
	Disposable bool
}

// Demuxer yields one file's video packets in presentation order.
type Demuxer interface {
	// Info returns the stream metadata probed at open time.
	Info() *media.StreamInfo

	// Demux returns the next packet, or io.EOF at end of stream.
	Demux() (*Packet, error)

	// Seek positions the demuxer at the last packet whose timestamp is
	// <= ts (clamped to the first packet) and returns that packet's
	// actual timestamp.
	Seek(ts int64) (int64, error)

	Close() error
}

// Open opens a container file, picking the backend by sniffing the
// leading bytes: MPEG-TS sync pattern or an MP4 ftyp box.
func Open(path string, logger *slog.Logger) (Demuxer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	head := make([]byte, 12)
	n, err := f.Read(head)
	f.Close()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	head = head[:n]

	switch {
	case len(head) >= 1 && head[0] == 0x47:
		return openTS(path, logger)
	case len(head) >= 8 && string(head[4:8]) == "ftyp":
		return openFMP4(path, logger)
	default:
		return nil, fmt.Errorf("demux: unrecognized container format in %s", path)
	}
}

// sample is one indexed access unit.
type sample struct {
	data       []byte
	pts        int64
	dts        int64
	key        bool
	disposable bool
}

// indexDemuxer serves packets from an in-memory sample index.
type indexDemuxer struct {
	info    *media.StreamInfo
	samples []sample
	pos     int
	closed  bool
}

func (d *indexDemuxer) Info() *media.StreamInfo {
	return d.info
}

func (d *indexDemuxer) Demux() (*Packet, error) {
	if d.closed {
		return nil, errors.New("demux: demuxer closed")
	}
	if d.pos >= len(d.samples) {
		return nil, io.EOF
	}
	s := d.samples[d.pos]
	d.pos++
	return &Packet{
		Data:       s.data,
		PTS:        s.pts,
		DTS:        s.dts,
		KeyFlag:    s.key,
		Disposable: s.disposable,
	}, nil
}

func (d *indexDemuxer) Seek(ts int64) (int64, error) {
	if d.closed {
		return 0, errors.New("demux: demuxer closed")
	}
	if len(d.samples) == 0 {
		return 0, io.EOF
	}
	// First index with pts > ts; the packet before it is the target.
	i := sort.Search(len(d.samples), func(i int) bool {
		return d.samples[i].pts > ts
	})
	if i > 0 {
		i--
	}
	d.pos = i
	return d.samples[i].pts, nil
}

func (d *indexDemuxer) Close() error {
	d.closed = true
	d.samples = nil
	return nil
}

// finishIndex sorts collected samples by timestamp (container order is
// not guaranteed monotonic), derives frame rate and VFR-ness from the
// timestamp deltas, and finalizes StreamInfo.
func finishIndex(path string, codec media.Codec, samples []sample, info *media.StreamInfo, logger *slog.Logger) (*indexDemuxer, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVideoTrack, path)
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].pts < samples[j].pts
	})

	// Combine the container flag with the structural header check.
	for i := range samples {
		key, err := nalu.IsKeyFrame(codec, samples[i].data, samples[i].key)
		if err != nil {
			return nil, err
		}
		samples[i].key = key
		samples[i].disposable = nalu.IsDisposable(codec, samples[i].data)
	}

	info.Path = path
	info.Codec = codec
	info.TimeBase = media.Rational{Num: 1, Den: 90000}
	info.StartTime = samples[0].pts
	info.FrameCount = int64(len(samples))

	if len(samples) > 1 {
		minDelta, maxDelta := int64(0), int64(0)
		deltas := make([]int64, 0, len(samples)-1)
		for i := 1; i < len(samples); i++ {
			d := samples[i].pts - samples[i-1].pts
			deltas = append(deltas, d)
			if minDelta == 0 || d < minDelta {
				minDelta = d
			}
			if d > maxDelta {
				maxDelta = d
			}
		}
		sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
		median := deltas[len(deltas)/2]
		if median > 0 {
			info.AvgFrameRate = media.Rational{Num: 90000, Den: median}
			info.RealFrameRate = info.AvgFrameRate
		}
		// A single off-by-one tick is rounding noise, not VFR.
		info.VFR = maxDelta-minDelta > 1
		info.Duration = samples[len(samples)-1].pts - samples[0].pts + median
	}

	if info.ColorRange == media.ColorRangeUnknown {
		logger.Debug("stream carries no color range metadata",
			slog.String("file", path))
	}

	logger.Debug("indexed container",
		slog.String("file", path),
		slog.String("codec", codec.String()),
		slog.Int("samples", len(samples)),
		slog.Bool("vfr", info.VFR))

	return &indexDemuxer{info: info, samples: samples}, nil
}

// Probe opens a file just long enough to extract its StreamInfo.
func Probe(path string, logger *slog.Logger) (*media.StreamInfo, error) {
	d, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Info(), nil
}

// ProbeAll probes many files, returning infos in input order. The
// first failure aborts the probe.
func ProbeAll(paths []string, logger *slog.Logger) ([]*media.StreamInfo, error) {
	infos := make([]*media.StreamInfo, len(paths))
	for i, p := range paths {
		info, err := Probe(p, logger)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}
