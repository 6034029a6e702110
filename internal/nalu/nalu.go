// Package nalu inspects NAL and OBU headers of compressed video packets
// to classify packet content without decoding.
package nalu

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/gopdec/internal/media"
)

// AV1 OBU types (AV1 bitstream spec, obu_header).
const (
	obuSequenceHeader = 1
	obuTemporalDelim  = 2
	obuFrameHeader    = 3
	obuFrame          = 6
)

// headerByte returns the first byte after the Annex-B start code.
// Packets start with either 00 00 01 or 00 00 00 01.
func headerByte(pkt []byte) (byte, bool) {
	if len(pkt) < 5 {
		return 0, false
	}
	if pkt[2] == 1 {
		return pkt[3], true
	}
	return pkt[4], true
}

// H264Type returns the NAL unit type of the first NAL in an Annex-B packet.
func H264Type(pkt []byte) (h264.NALUType, bool) {
	b, ok := headerByte(pkt)
	if !ok {
		return 0, false
	}
	return h264.NALUType(b & 0x1F), true
}

// H265Type returns the NAL unit type of the first NAL in an Annex-B packet.
func H265Type(pkt []byte) (h265.NALUType, bool) {
	b, ok := headerByte(pkt)
	if !ok {
		return 0, false
	}
	return h265.NALUType((b >> 1) & 0x3F), true
}

// AV1OBUType returns the OBU type of the first OBU in a packet.
func AV1OBUType(pkt []byte) (int, bool) {
	if len(pkt) == 0 {
		return 0, false
	}
	return int(pkt[0]>>3) & 0x0F, true
}

// IsStructuralKeyFrame reports whether the packet begins with a unit that
// structurally marks a GOP boundary: parameter sets, SEI, or delimiter
// units for H.264/HEVC, the sequence header OBU for AV1. Container
// key-frame flags alone are unreliable across muxers, so callers combine
// this with the flag.
func IsStructuralKeyFrame(codec media.Codec, pkt []byte) (bool, error) {
	switch codec {
	case media.CodecH264:
		t, ok := H264Type(pkt)
		if !ok {
			return false, nil
		}
		switch t {
		case h264.NALUTypeSEI, h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeAccessUnitDelimiter:
			return true, nil
		case h264.NALUTypeIDR:
			return true, nil
		}
		return false, nil

	case media.CodecH265:
		t, ok := H265Type(pkt)
		if !ok {
			return false, nil
		}
		switch t {
		case h265.NALUType_VPS_NUT, h265.NALUType_SPS_NUT, h265.NALUType_PPS_NUT,
			h265.NALUType_PREFIX_SEI_NUT, h265.NALUType_SUFFIX_SEI_NUT:
			return true, nil
		}
		// IRAP VCL units are also GOP boundaries.
		if t >= h265.NALUType_BLA_W_LP && t <= h265.NALUType_RSV_IRAP_VCL23 {
			return true, nil
		}
		return false, nil

	case media.CodecAV1:
		t, ok := AV1OBUType(pkt)
		if !ok {
			return false, nil
		}
		return t == obuSequenceHeader, nil
	}

	return false, &media.UnsupportedCodecError{Codec: codec.String(), Detail: "structural key-frame check"}
}

// IsKeyFrame combines the demuxer-reported flag with the structural
// check; a packet is a GOP boundary only when both agree.
func IsKeyFrame(codec media.Codec, pkt []byte, containerFlag bool) (bool, error) {
	if !containerFlag {
		return false, nil
	}
	return IsStructuralKeyFrame(codec, pkt)
}

// IsDisposable reports whether an H.264 packet is a non-reference slice
// (nal_ref_idc zero on a non-IDR slice). Disposable packets can be
// skipped during a catch-up decode without corrupting later frames.
// Always false for other codecs.
func IsDisposable(codec media.Codec, pkt []byte) bool {
	if codec != media.CodecH264 {
		return false
	}
	b, ok := headerByte(pkt)
	if !ok {
		return false
	}
	refIdc := (b >> 5) & 0x3
	return refIdc == 0 && h264.NALUType(b&0x1F) == h264.NALUTypeNonIDR
}
