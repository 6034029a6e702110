package hwdec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/gopdec/internal/media"
)

func h264Info(w, h int) *media.StreamInfo {
	return &media.StreamInfo{Codec: media.CodecH264, Width: w, Height: h}
}

func TestNewHostDecoder(t *testing.T) {
	d, err := NewHostDecoder(h264Info(1920, 1080), 0)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, media.CodecH264, d.Codec())
	assert.Equal(t, 1920, d.Width())
	assert.Equal(t, 1080, d.Height())
	assert.Equal(t, int64(1920*1080*3/2), d.FrameSize())
}

func TestNewHostDecoderDefaultsAndOddDimensions(t *testing.T) {
	d, err := NewHostDecoder(h264Info(0, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, 64, d.Width())
	assert.Equal(t, 64, d.Height())

	// Odd dimensions are rounded up for NV12.
	d, err = NewHostDecoder(h264Info(101, 57), 0)
	require.NoError(t, err)
	assert.Equal(t, 102, d.Width())
	assert.Equal(t, 58, d.Height())
}

func TestNewHostDecoderRejectsUnsupportedCodec(t *testing.T) {
	_, err := NewHostDecoder(&media.StreamInfo{Codec: media.Codec("vp9")}, 0)
	require.Error(t, err)
	var uce *media.UnsupportedCodecError
	assert.ErrorAs(t, err, &uce)
}

func TestDecodeIntoDeterministic(t *testing.T) {
	d, err := NewHostDecoder(h264Info(8, 8), 0)
	require.NoError(t, err)
	defer d.Close()

	dst1 := make([]byte, d.FrameSize())
	dst2 := make([]byte, d.FrameSize())

	pkt := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x10}
	ok, err := d.DecodeInto(pkt, dst1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.DecodeInto(pkt, dst2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dst1, dst2)

	// Different packet, different surface.
	other := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x99}
	ok, err = d.DecodeInto(other, dst2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, dst1, dst2)
}

func TestDecodeIntoErrors(t *testing.T) {
	d, err := NewHostDecoder(h264Info(8, 8), 0)
	require.NoError(t, err)

	// Short destination.
	_, err = d.DecodeInto([]byte{1}, make([]byte, 4))
	assert.Error(t, err)

	// Empty packet produces no frame.
	ok, err := d.DecodeInto(nil, make([]byte, d.FrameSize()))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Close())
	_, err = d.DecodeInto([]byte{1}, make([]byte, d.FrameSize()))
	assert.Error(t, err)
}

func TestConvertNV12(t *testing.T) {
	w, h := 4, 2
	nv12 := make([]byte, w*h*3/2)
	// Full-range white luma, neutral chroma.
	for i := 0; i < w*h; i++ {
		nv12[i] = 255
	}
	for i := w * h; i < len(nv12); i++ {
		nv12[i] = 128
	}

	rgb, err := ConvertNV12(nv12, w, h, true, OrderRGB)
	require.NoError(t, err)
	require.Len(t, rgb, w*h*3)
	for _, v := range rgb {
		assert.Equal(t, byte(255), v)
	}
}

func TestConvertNV12LimitedRange(t *testing.T) {
	w, h := 2, 2
	nv12 := make([]byte, w*h*3/2)
	// Limited-range black is luma 16.
	for i := 0; i < w*h; i++ {
		nv12[i] = 16
	}
	for i := w * h; i < len(nv12); i++ {
		nv12[i] = 128
	}

	rgb, err := ConvertNV12(nv12, w, h, false, OrderRGB)
	require.NoError(t, err)
	for _, v := range rgb {
		assert.Equal(t, byte(0), v)
	}
}

func TestConvertNV12ChannelOrder(t *testing.T) {
	w, h := 2, 2
	nv12 := make([]byte, w*h*3/2)
	for i := 0; i < w*h; i++ {
		nv12[i] = 128
	}
	// Strong red: high Cr in the single chroma pair.
	nv12[w*h] = 128   // Cb
	nv12[w*h+1] = 255 // Cr

	rgb, err := ConvertNV12(nv12, w, h, true, OrderRGB)
	require.NoError(t, err)
	bgr, err := ConvertNV12(nv12, w, h, true, OrderBGR)
	require.NoError(t, err)

	assert.Equal(t, rgb[0], bgr[2])
	assert.Equal(t, rgb[2], bgr[0])
	assert.Greater(t, rgb[0], rgb[2]) // red dominates blue
}

func TestConvertNV12Errors(t *testing.T) {
	_, err := ConvertNV12(make([]byte, 4), 4, 4, true, OrderRGB)
	assert.Error(t, err)

	_, err = ConvertNV12(make([]byte, 24), 4, 2, true, ColorOrder("yuv"))
	assert.Error(t, err)
}
