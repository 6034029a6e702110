package bundle

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/gopdec/internal/media"
)

func testFrames() []Frame {
	meta := func(first int64, decode int64) FrameMeta {
		return FrameMeta{
			Codec:        media.CodecH264,
			Width:        1920,
			Height:       1080,
			ColorRange:   media.ColorRangeLimited,
			GopLen:       3,
			FirstFrameID: first,
			DecodeIdx:    decode,
		}
	}
	return []Frame{
		{Meta: meta(0, 0), Packet: []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0xAA}},
		{Meta: meta(0, 1), Packet: []byte{0x00, 0x00, 0x00, 0x01, 0x41}},
		{Meta: meta(0, 2), Packet: []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0xBB, 0xCC}},
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	frames := testFrames()
	raw, err := Build(frames)
	require.NoError(t, err)

	b, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, len(frames), b.Count())

	for i, want := range frames {
		meta, pkt, err := b.Frame(i)
		require.NoError(t, err)
		assert.Equal(t, want.Meta, meta, "frame %d meta", i)
		assert.Equal(t, want.Packet, pkt, "frame %d packet", i)
	}
}

func TestParseReturnsZeroCopyViews(t *testing.T) {
	raw, err := Build(testFrames())
	require.NoError(t, err)

	b, err := Parse(raw)
	require.NoError(t, err)

	_, pkt, err := b.Frame(0)
	require.NoError(t, err)

	// Mutating the underlying buffer is visible through the view.
	pkt[0] = 0xEE
	_, again, err := b.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xEE), again[0])
}

func TestFrameOutOfRange(t *testing.T) {
	raw, err := Build(testFrames())
	require.NoError(t, err)
	b, err := Parse(raw)
	require.NoError(t, err)

	_, _, err = b.Frame(3)
	assert.ErrorIs(t, err, ErrFrameOutOfRange)
	_, _, err = b.Frame(-1)
	assert.ErrorIs(t, err, ErrFrameOutOfRange)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte{0x01})
	assert.ErrorIs(t, err, ErrMalformed)

	// Claims 100 frames but has no offset table.
	_, err = Parse([]byte{100, 0, 0, 0})
	assert.ErrorIs(t, err, ErrMalformed)

	// Valid bundle truncated mid-payload.
	raw, err := Build(testFrames())
	require.NoError(t, err)
	_, err = Parse(raw[:len(raw)-3])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsWrappingOffsets(t *testing.T) {
	// Offset near the uint64 ceiling so off+metaSize wraps past zero.
	buf := make([]byte, 76)
	binary.LittleEndian.PutUint32(buf, 1)
	binary.LittleEndian.PutUint64(buf[4:], ^uint64(0)-36)

	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsOversizedPacketLength(t *testing.T) {
	raw, err := Build(testFrames())
	require.NoError(t, err)

	b, err := Parse(raw)
	require.NoError(t, err)

	// Corrupt the first frame's declared packet length to exceed the
	// remaining payload.
	tableEnd := 4 + 8*b.Count()
	binary.LittleEndian.PutUint32(raw[tableEnd+33:], ^uint32(0))

	_, err = Parse(raw)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBuildFromPacketsLengthMismatch(t *testing.T) {
	info := &media.StreamInfo{Codec: media.CodecH264, Width: 640, Height: 480}
	packets := [][]byte{{1}, {2}}

	_, err := BuildFromPackets(info, packets, []int{2}, []int64{0, 0}, []int64{0, 1})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestMerge(t *testing.T) {
	framesA := testFrames()
	framesB := []Frame{
		{
			Meta: FrameMeta{
				Codec:        media.CodecH265,
				Width:        1280,
				Height:       720,
				ColorRange:   media.ColorRangeFull,
				GopLen:       1,
				FirstFrameID: 30,
				DecodeIdx:    30,
			},
			Packet: []byte{0x00, 0x00, 0x01, 0x40, 0x01},
		},
	}

	rawA, err := Build(framesA)
	require.NoError(t, err)
	rawB, err := Build(framesB)
	require.NoError(t, err)

	merged, err := Merge([][]byte{rawA, rawB})
	require.NoError(t, err)

	b, err := Parse(merged)
	require.NoError(t, err)
	require.Equal(t, len(framesA)+len(framesB), b.Count())

	want := append(append([]Frame{}, framesA...), framesB...)
	got, err := b.Frames()
	require.NoError(t, err)
	for i := range want {
		assert.Equal(t, want[i].Meta, got[i].Meta, "frame %d meta", i)
		assert.Equal(t, want[i].Packet, got[i].Packet, "frame %d packet", i)
	}
}

func TestMergeEmptyAndSingle(t *testing.T) {
	raw, err := Build(testFrames())
	require.NoError(t, err)

	merged, err := Merge([][]byte{raw})
	require.NoError(t, err)
	assert.Equal(t, raw, merged)

	merged, err = Merge(nil)
	require.NoError(t, err)
	b, err := Parse(merged)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Count())
}

func TestWriteReadFile(t *testing.T) {
	raw, err := Build(testFrames())
	require.NoError(t, err)

	for _, compression := range []string{CompressionNone, CompressionGzip, CompressionBzip2, CompressionXz, CompressionBrotli} {
		t.Run(compression, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "gop-0"+Ext(compression))
			require.NoError(t, WriteFile(path, raw, compression))

			got, err := ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, raw, got)
		})
	}
}

func TestWriteFileUnknownCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gop-0")
	err := WriteFile(path, []byte{1, 2, 3}, "zstd")
	assert.Error(t, err)
}
