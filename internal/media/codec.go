// Package media defines the codec, rational, and stream metadata types
// shared by the demuxing and decoding layers.
package media

import (
	"fmt"
	"strings"
)

// Codec identifies a video elementary stream codec.
type Codec string

// Recognized codecs. Anything else is rejected up front.
const (
	CodecUnknown Codec = ""
	CodecH264    Codec = "h264"
	CodecH265    Codec = "h265"
	CodecAV1     Codec = "av1"
)

// ParseCodec normalizes a codec name to a Codec. Common aliases
// (avc, hevc) are accepted.
func ParseCodec(s string) Codec {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "avc", "avc1":
		return CodecH264
	case "h265", "hevc", "hev1", "hvc1":
		return CodecH265
	case "av1", "av01":
		return CodecAV1
	default:
		return CodecUnknown
	}
}

// Supported reports whether the codec is one the engine can decode.
func (c Codec) Supported() bool {
	switch c {
	case CodecH264, CodecH265, CodecAV1:
		return true
	}
	return false
}

func (c Codec) String() string {
	if c == CodecUnknown {
		return "unknown"
	}
	return string(c)
}

// UnsupportedCodecError reports a codec outside the supported set.
type UnsupportedCodecError struct {
	Codec  string
	Detail string
}

func (e *UnsupportedCodecError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unsupported codec %q: %s", e.Codec, e.Detail)
	}
	return fmt.Sprintf("unsupported codec %q", e.Codec)
}
