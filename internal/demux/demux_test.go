package demux

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/gopdec/internal/media"
)

func annexB(header byte) []byte {
	return []byte{0x00, 0x00, 0x00, 0x01, header, 0xAA, 0xBB}
}

// cfrSamples builds a 30fps run with keyframes every gopLen frames.
// Keyframe packets start with an SPS unit, others with a slice.
func cfrSamples(count, gopLen int) []sample {
	out := make([]sample, count)
	for i := range out {
		key := i%gopLen == 0
		header := byte(0x41) // non-IDR slice
		if key {
			header = 0x67 // SPS
		}
		out[i] = sample{
			data: annexB(header),
			pts:  int64(i) * 3000,
			key:  key,
		}
	}
	return out
}

func TestFinishIndexCFR(t *testing.T) {
	samples := cfrSamples(90, 30)
	d, err := finishIndex("test.ts", media.CodecH264, samples, &media.StreamInfo{}, testLogger())
	require.NoError(t, err)

	info := d.Info()
	assert.Equal(t, media.CodecH264, info.Codec)
	assert.Equal(t, int64(90), info.FrameCount)
	assert.Equal(t, media.Rational{Num: 1, Den: 90000}, info.TimeBase)
	assert.Equal(t, media.Rational{Num: 90000, Den: 3000}, info.AvgFrameRate)
	assert.False(t, info.VFR)
	assert.Equal(t, int64(0), info.StartTime)
}

func TestFinishIndexSortsByTimestamp(t *testing.T) {
	samples := []sample{
		{data: annexB(0x41), pts: 6000},
		{data: annexB(0x67), pts: 0, key: true},
		{data: annexB(0x41), pts: 3000},
	}
	d, err := finishIndex("test.ts", media.CodecH264, samples, &media.StreamInfo{}, testLogger())
	require.NoError(t, err)

	var ptss []int64
	for {
		pkt, err := d.Demux()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ptss = append(ptss, pkt.PTS)
	}
	assert.Equal(t, []int64{0, 3000, 6000}, ptss)
}

func TestFinishIndexVFRDetection(t *testing.T) {
	samples := []sample{
		{data: annexB(0x67), pts: 0, key: true},
		{data: annexB(0x41), pts: 3000},
		{data: annexB(0x41), pts: 9000},
		{data: annexB(0x41), pts: 10500},
	}
	d, err := finishIndex("test.ts", media.CodecH264, samples, &media.StreamInfo{}, testLogger())
	require.NoError(t, err)
	assert.True(t, d.Info().VFR)
}

func TestFinishIndexCombinesKeySignals(t *testing.T) {
	samples := []sample{
		// Container flag set, structural SPS: a true GOP boundary.
		{data: annexB(0x67), pts: 0, key: true},
		// Container flag set on an ordinary slice: flag is lying.
		{data: annexB(0x41), pts: 3000, key: true},
		// Structural SPS without the flag: also not a boundary.
		{data: annexB(0x67), pts: 6000, key: false},
	}
	d, err := finishIndex("test.ts", media.CodecH264, samples, &media.StreamInfo{}, testLogger())
	require.NoError(t, err)

	var keys []bool
	for {
		pkt, err := d.Demux()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, pkt.KeyFlag)
	}
	assert.Equal(t, []bool{true, false, false}, keys)
}

func TestFinishIndexEmpty(t *testing.T) {
	_, err := finishIndex("test.ts", media.CodecH264, nil, &media.StreamInfo{}, testLogger())
	assert.ErrorIs(t, err, ErrNoVideoTrack)
}

func TestSeek(t *testing.T) {
	d, err := finishIndex("test.ts", media.CodecH264, cfrSamples(90, 30), &media.StreamInfo{}, testLogger())
	require.NoError(t, err)

	// Exact hit.
	ts, err := d.Seek(90000)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), ts)

	// Between samples: lands on the last packet at or before ts.
	ts, err = d.Seek(91000)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), ts)

	// Before the first packet: clamps to the first.
	ts, err = d.Seek(-500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	// Past the end: clamps to the last.
	ts, err = d.Seek(1 << 40)
	require.NoError(t, err)
	assert.Equal(t, int64(89*3000), ts)

	// Demux after seek resumes from the seek point.
	ts, err = d.Seek(45 * 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(45*3000), ts)
	pkt, err := d.Demux()
	require.NoError(t, err)
	assert.Equal(t, int64(45*3000), pkt.PTS)
}

func TestDemuxEOFAndClose(t *testing.T) {
	d, err := finishIndex("test.ts", media.CodecH264, cfrSamples(2, 2), &media.StreamInfo{}, testLogger())
	require.NoError(t, err)

	_, err = d.Demux()
	require.NoError(t, err)
	_, err = d.Demux()
	require.NoError(t, err)
	_, err = d.Demux()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, d.Close())
	_, err = d.Demux()
	assert.Error(t, err)
}

func TestOpenUnrecognizedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-video.bin")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a container"), 0o644))

	_, err := Open(path, testLogger())
	assert.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.ts"), testLogger())
	assert.Error(t, err)
}
