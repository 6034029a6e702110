package nalu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/gopdec/internal/media"
)

// annexB wraps a header byte in a 4-byte start code with padding.
func annexB(header byte) []byte {
	return []byte{0x00, 0x00, 0x00, 0x01, header, 0x00, 0x00}
}

// annexBShort uses the 3-byte start code.
func annexBShort(header byte) []byte {
	return []byte{0x00, 0x00, 0x01, header, 0x00, 0x00}
}

func TestH264Type(t *testing.T) {
	// nal_ref_idc=3, type=7 (SPS)
	typ, ok := H264Type(annexB(0x67))
	require.True(t, ok)
	assert.Equal(t, uint8(7), uint8(typ))

	// 3-byte start code, type=5 (IDR)
	typ, ok = H264Type(annexBShort(0x65))
	require.True(t, ok)
	assert.Equal(t, uint8(5), uint8(typ))

	_, ok = H264Type([]byte{0x00, 0x00})
	assert.False(t, ok)
}

func TestH265Type(t *testing.T) {
	// VPS: type 32 -> header (32<<1) = 0x40
	typ, ok := H265Type(annexB(0x40))
	require.True(t, ok)
	assert.Equal(t, uint8(32), uint8(typ))
}

func TestAV1OBUType(t *testing.T) {
	// sequence header OBU: type 1 -> (1<<3) = 0x08
	typ, ok := AV1OBUType([]byte{0x08, 0x00})
	require.True(t, ok)
	assert.Equal(t, 1, typ)

	_, ok = AV1OBUType(nil)
	assert.False(t, ok)
}

func TestIsStructuralKeyFrame(t *testing.T) {
	tests := []struct {
		name  string
		codec media.Codec
		pkt   []byte
		want  bool
	}{
		{"h264 sps", media.CodecH264, annexB(0x67), true},
		{"h264 pps", media.CodecH264, annexB(0x68), true},
		{"h264 sei", media.CodecH264, annexB(0x06), true},
		{"h264 aud", media.CodecH264, annexB(0x09), true},
		{"h264 idr", media.CodecH264, annexB(0x65), true},
		{"h264 non-idr slice", media.CodecH264, annexB(0x41), false},
		{"h265 vps", media.CodecH265, annexB(0x40), true},
		{"h265 sps", media.CodecH265, annexB(0x42), true},
		{"h265 pps", media.CodecH265, annexB(0x44), true},
		{"h265 idr_w_radl", media.CodecH265, annexB(19 << 1), true},
		{"h265 trail_r", media.CodecH265, annexB(0x02), false},
		{"av1 sequence header", media.CodecAV1, []byte{0x08, 0x00}, true},
		{"av1 frame", media.CodecAV1, []byte{6 << 3, 0x00}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsStructuralKeyFrame(tt.codec, tt.pkt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsStructuralKeyFrameUnsupportedCodec(t *testing.T) {
	_, err := IsStructuralKeyFrame(media.Codec("vp9"), annexB(0x67))
	require.Error(t, err)
	var uce *media.UnsupportedCodecError
	assert.ErrorAs(t, err, &uce)
}

func TestIsKeyFrameRequiresBothSignals(t *testing.T) {
	sps := annexB(0x67)
	slice := annexB(0x41)

	got, err := IsKeyFrame(media.CodecH264, sps, true)
	require.NoError(t, err)
	assert.True(t, got)

	// Container flag set but packet is an ordinary slice.
	got, err = IsKeyFrame(media.CodecH264, slice, true)
	require.NoError(t, err)
	assert.False(t, got)

	// Structural key unit but flag unset.
	got, err = IsKeyFrame(media.CodecH264, sps, false)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsDisposable(t *testing.T) {
	// nal_ref_idc=0, type=1: disposable non-reference slice.
	assert.True(t, IsDisposable(media.CodecH264, annexB(0x01)))
	// nal_ref_idc=2, type=1: reference slice.
	assert.False(t, IsDisposable(media.CodecH264, annexB(0x41)))
	// IDR is never disposable.
	assert.False(t, IsDisposable(media.CodecH264, annexB(0x65)))
	// Other codecs: always false.
	assert.False(t, IsDisposable(media.CodecH265, annexB(0x01)))
}
