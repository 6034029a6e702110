package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/gopdec/internal/bundle"
	"github.com/jmylchreest/gopdec/internal/config"
	"github.com/jmylchreest/gopdec/internal/hwdec"
	"github.com/jmylchreest/gopdec/internal/media"
)

func TestDecodeSingleFile(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	frames, err := e.Decode("a.ts", []int64{5, 35, 62}, hwdec.OrderRGB)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	for i, id := range []int64{5, 35, 62} {
		assert.Equal(t, id, frames[i].ID)
		assert.Equal(t, "a.ts", frames[i].File)
		assert.Equal(t, config.OutputFormatRGB, frames[i].Format)
		assert.Equal(t, 64, frames[i].Width)
		assert.Equal(t, 64, frames[i].Height)
	}

	// distinct frames decode to distinct pixels
	a, err := frames[0].Copy()
	require.NoError(t, err)
	b, err := frames[1].Copy()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64*64*3)
}

func TestDecodeNV12Output(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatNV12, defaultStreams(), nil)
	defer e.Close()

	frames, err := e.Decode("a.ts", []int64{0}, hwdec.OrderRGB)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, config.OutputFormatNV12, frames[0].Format)

	data, err := frames[0].Bytes()
	require.NoError(t, err)
	assert.Len(t, data, 64*64*3/2)
}

func TestDecodeSequentialFastPath(t *testing.T) {
	streams := defaultStreams()
	e := newTestEngine(0, config.OutputFormatRGB, streams, nil)
	defer e.Close()

	_, err := e.Decode("a.ts", []int64{35}, hwdec.OrderRGB)
	require.NoError(t, err)
	afterFirst := streams.seekCount()
	require.Greater(t, afterFirst, 0)

	// Frames 36 and 40 sit in the same GOP past the last decoded
	// position, so no further container seek happens.
	_, err = e.Decode("a.ts", []int64{36, 40}, hwdec.OrderRGB)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, streams.seekCount())

	// A backward target forces a fresh seek.
	_, err = e.Decode("a.ts", []int64{35}, hwdec.OrderRGB)
	require.NoError(t, err)
	assert.Greater(t, streams.seekCount(), afterFirst)
}

func TestDecodeArithmeticIndexPath(t *testing.T) {
	streams := &fakeStreams{specs: map[string]streamSpec{
		"cfr.ts": {codec: media.CodecH264, frameCount: 90, keyframes: []int64{0, 30, 60}},
		"vfr.ts": {codec: media.CodecH264, frameCount: 90, keyframes: []int64{0, 30, 60}, vfr: true},
	}}
	e := newTestEngine(0, config.OutputFormatRGB, streams, nil)
	defer e.Close()

	// The CFR file has no explicit mapping; the backtracking seek finds
	// the GOP start and the decode matches the mapped path pixel for pixel.
	frames, err := e.Decode("cfr.ts", []int64{35}, hwdec.OrderRGB)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	got, err := frames[0].Copy()
	require.NoError(t, err)

	mapped, err := e.Decode("vfr.ts", []int64{35}, hwdec.OrderRGB)
	require.NoError(t, err)
	want, err := mapped[0].Copy()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Forward targets continue from the current position with no seek.
	seeks := streams.seekCount()
	_, err = e.Decode("cfr.ts", []int64{40}, hwdec.OrderRGB)
	require.NoError(t, err)
	assert.Equal(t, seeks, streams.seekCount())
}

func TestGetGopArithmeticIndex(t *testing.T) {
	streams := &fakeStreams{specs: map[string]streamSpec{
		"cfr.ts": {codec: media.CodecH264, frameCount: 90, keyframes: []int64{0, 30, 60}},
	}}
	e := newTestEngine(0, config.OutputFormatRGB, streams, nil)
	defer e.Close()

	data, err := e.GetGop("cfr.ts", 35)
	require.NoError(t, err)

	b, err := bundle.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 30, b.Count())

	meta, pkt, err := b.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, int64(30), meta.FirstFrameID)
	assert.Equal(t, 30, meta.GopLen)
	assert.Equal(t, byte(0x65), pkt[4])
}

func TestDecodeWithoutDeviceMemPool(t *testing.T) {
	cfg := testEngineConfig(0, config.OutputFormatRGB)
	cfg.UseDeviceMemPool = false
	streams := defaultStreams()
	e := New(cfg, &Options{Logger: testLogger(), Opener: streams.open})
	defer e.Close()

	first, err := e.Decode("a.ts", []int64{5}, hwdec.OrderRGB)
	require.NoError(t, err)

	// A later decode does not invalidate earlier frames; each request
	// owns its buffers.
	_, err = e.Decode("a.ts", []int64{6}, hwdec.OrderRGB)
	require.NoError(t, err)
	pix, err := first[0].Bytes()
	require.NoError(t, err)
	assert.Len(t, pix, 64*64*3)

	// With pooling on, the same sequence invalidates the first view.
	pooled := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer pooled.Close()
	pf, err := pooled.Decode("a.ts", []int64{5}, hwdec.OrderRGB)
	require.NoError(t, err)
	_, err = pooled.Decode("a.ts", []int64{6}, hwdec.OrderRGB)
	require.NoError(t, err)
	_, err = pf[0].Bytes()
	assert.Error(t, err)
}

func TestDecodeValidation(t *testing.T) {
	e := newTestEngine(2, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	var verr *ValidationError

	_, err := e.Decode("a.ts", nil, hwdec.OrderRGB)
	require.ErrorAs(t, err, &verr)

	_, err = e.DecodeList([]string{"a.ts", "b.ts"}, [][]int64{{0}}, hwdec.OrderRGB)
	require.ErrorAs(t, err, &verr)

	// batch larger than the reader pool is rejected before any work
	_, err = e.DecodeList([]string{"a.ts", "b.ts", "v.ts"}, [][]int64{{0}, {0}, {0}}, hwdec.OrderRGB)
	require.ErrorAs(t, err, &verr)
}

func TestDecodeListFanOutSurvivesPerFileFailure(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	results, err := e.DecodeList(
		[]string{"a.ts", "v.ts", "b.ts"},
		[][]int64{{5}, {0}, {31}},
		hwdec.OrderRGB,
	)
	require.Error(t, err)

	var codecErr *media.UnsupportedCodecError
	assert.ErrorAs(t, err, &codecErr)

	// the failing file leaves its slot empty, the others are populated
	require.Len(t, results, 3)
	assert.Len(t, results[0], 1)
	assert.Nil(t, results[1])
	assert.Len(t, results[2], 1)
	assert.Equal(t, int64(5), results[0][0].ID)
	assert.Equal(t, int64(31), results[2][0].ID)
}

func TestGetGop(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	data, err := e.GetGop("a.ts", 35)
	require.NoError(t, err)

	b, err := bundle.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 30, b.Count())

	meta, pkt, err := b.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, int64(30), meta.FirstFrameID)
	assert.Equal(t, 30, meta.GopLen)
	assert.Equal(t, media.CodecH264, meta.Codec)
	assert.Equal(t, byte(0x65), pkt[4]) // IDR at the GOP start
}

func TestDecodeFromGopMatchesDirectDecode(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	direct, err := e.Decode("a.ts", []int64{35, 42}, hwdec.OrderRGB)
	require.NoError(t, err)
	directPixels := make([][]byte, len(direct))
	for i := range direct {
		directPixels[i], err = direct[i].Copy()
		require.NoError(t, err)
	}

	data, err := e.GetGop("a.ts", 35)
	require.NoError(t, err)

	fromGop, err := e.DecodeFromGop(data, []int64{35, 42}, hwdec.OrderRGB)
	require.NoError(t, err)
	require.Len(t, fromGop, 2)
	for i := range fromGop {
		pixels, err := fromGop[i].Copy()
		require.NoError(t, err)
		assert.Equal(t, directPixels[i], pixels)
	}
}

func TestDecodeFromGopMissingFrame(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	data, err := e.GetGop("a.ts", 35)
	require.NoError(t, err)

	var verr *ValidationError
	_, err = e.DecodeFromGop(data, []int64{5}, hwdec.OrderRGB) // previous GOP
	require.ErrorAs(t, err, &verr)
}

func TestLoadGopsMerged(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	data, err := e.LoadGops([]string{"a.ts", "b.ts"}, []int64{5, 35})
	require.NoError(t, err)

	b, err := bundle.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 60, b.Count()) // 30-frame GOP from each file
}

func TestSaveAndLoadBundle(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	data, err := e.GetGop("b.ts", 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "gop.bundle.gz")
	require.NoError(t, e.SaveBundle(path, data, "gzip"))

	got, err := e.LoadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

// recordingCache captures Fetch/Store traffic.
type recordingCache struct {
	stored  map[string][]byte
	fetches int
	first   int64
	gopLen  int64
}

func (c *recordingCache) Fetch(path string, frame int64) ([]byte, bool, error) {
	c.fetches++
	data, ok := c.stored[path]
	return data, ok, nil
}

func (c *recordingCache) Store(path string, first, gopLen int64, data []byte) error {
	if c.stored == nil {
		c.stored = make(map[string][]byte)
	}
	c.stored[path] = data
	c.first = first
	c.gopLen = gopLen
	return nil
}

func TestGetGopUsesCache(t *testing.T) {
	cache := &recordingCache{}
	streams := defaultStreams()
	e := newTestEngine(0, config.OutputFormatRGB, streams, cache)
	defer e.Close()

	data, err := e.GetGop("a.ts", 35)
	require.NoError(t, err)
	assert.Equal(t, int64(30), cache.first)
	assert.Equal(t, int64(30), cache.gopLen)

	seeksAfterMiss := streams.seekCount()
	again, err := e.GetGop("a.ts", 35)
	require.NoError(t, err)
	assert.Equal(t, data, again)
	assert.Equal(t, seeksAfterMiss, streams.seekCount()) // served from cache
	assert.Equal(t, 2, cache.fetches)
}

func TestReleaseMemPoolsInvalidatesFrames(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	frames, err := e.Decode("a.ts", []int64{0}, hwdec.OrderRGB)
	require.NoError(t, err)
	_, err = frames[0].Bytes()
	require.NoError(t, err)

	require.NoError(t, e.ReleaseMemPools())
	_, err = frames[0].Bytes()
	assert.Error(t, err)

	// the engine keeps working after the release
	_, err = e.Decode("a.ts", []int64{0}, hwdec.OrderRGB)
	require.NoError(t, err)
}

func TestInitializeAndReleaseDecoders(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	require.NoError(t, e.InitializeDecoders([]media.Codec{media.CodecH264, media.CodecH265}, 64, 64))
	require.NoError(t, e.ReleaseDecoders())

	// contexts rebuild on demand after a full release
	_, err := e.Decode("a.ts", []int64{0}, hwdec.OrderRGB)
	require.NoError(t, err)
}

func TestProbeAll(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	infos, err := e.ProbeAll([]string{"a.ts", "b.ts"})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, int64(90), infos[0].FrameCount)
	assert.Equal(t, int64(60), infos[1].FrameCount)

	_, err = e.ProbeAll([]string{"missing.ts"})
	assert.Error(t, err)
}

func TestDropFileCacheMissingFile(t *testing.T) {
	e := newTestEngine(0, config.OutputFormatRGB, defaultStreams(), nil)
	defer e.Close()

	err := e.DropFileCache([]string{filepath.Join(t.TempDir(), "gone.ts")})
	assert.Error(t, err)
}
