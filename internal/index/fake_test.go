package index

import (
	"io"
	"sort"

	"github.com/jmylchreest/gopdec/internal/demux"
	"github.com/jmylchreest/gopdec/internal/media"
)

type fakeSample struct {
	pts int64
	key bool
}

// fakeDemuxer serves synthetic samples in the order given, mimicking a
// container whose packet order may differ from presentation order.
type fakeDemuxer struct {
	info    *media.StreamInfo
	samples []fakeSample
	pos     int
}

func newFakeDemuxer(codec media.Codec, samples []fakeSample) *fakeDemuxer {
	return &fakeDemuxer{
		info: &media.StreamInfo{
			Path:       "fake.ts",
			Codec:      codec,
			TimeBase:   media.Rational{Num: 1, Den: 90000},
			FrameCount: int64(len(samples)),
		},
		samples: samples,
	}
}

func (d *fakeDemuxer) Info() *media.StreamInfo { return d.info }

func (d *fakeDemuxer) Demux() (*demux.Packet, error) {
	if d.pos >= len(d.samples) {
		return nil, io.EOF
	}
	s := d.samples[d.pos]
	d.pos++
	return &demux.Packet{Data: []byte{0, 0, 0, 1, 0x65}, PTS: s.pts, KeyFlag: s.key}, nil
}

func (d *fakeDemuxer) Seek(ts int64) (int64, error) {
	sorted := make([]fakeSample, len(d.samples))
	copy(sorted, d.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].pts < sorted[j].pts })
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].pts > ts })
	if i > 0 {
		i--
	}
	d.pos = i
	return sorted[i].pts, nil
}

func (d *fakeDemuxer) Close() error { return nil }
