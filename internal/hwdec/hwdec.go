// Package hwdec defines the hardware decoder contract consumed by the
// decode pipeline and provides a host-backed implementation used by
// tests and machines without a decode device. Real device bindings
// plug in through the same Factory type.
package hwdec

import (
	"fmt"

	"github.com/jmylchreest/gopdec/internal/media"
)

// Decoder turns compressed packets into NV12 surfaces. A decoder
// belongs to one decode context and is never used concurrently.
type Decoder interface {
	// Codec returns the codec this decoder instance was created for.
	Codec() media.Codec

	// DecodeInto feeds one packet and writes the resulting NV12
	// surface into dst, which must hold at least FrameSize bytes.
	// Returns false when the packet produced no displayable frame.
	DecodeInto(pkt []byte, dst []byte) (bool, error)

	// FrameSize returns the NV12 byte size of one decoded surface.
	FrameSize() int64

	// Width and Height of decoded surfaces.
	Width() int
	Height() int

	Close() error
}

// Factory creates a decoder for one stream on one device.
type Factory func(info *media.StreamInfo, gpuID int) (Decoder, error)

// fallback dimensions when the container carried no parameter sets
const (
	defaultWidth  = 64
	defaultHeight = 64
)

// hostDecoder synthesizes deterministic NV12 surfaces from packet
// bytes. The luma plane carries a packet checksum so tests can tell
// which packet produced which surface; chroma sits at neutral gray.
type hostDecoder struct {
	codec  media.Codec
	width  int
	height int
	closed bool
}

// NewHostDecoder creates the host-backed decoder. Unsupported codecs
// are rejected here, before any decode work.
func NewHostDecoder(info *media.StreamInfo, gpuID int) (Decoder, error) {
	if !info.Codec.Supported() {
		return nil, &media.UnsupportedCodecError{Codec: info.Codec.String(), Detail: "creating decoder"}
	}
	w, h := info.Width, info.Height
	if w <= 0 || h <= 0 {
		w, h = defaultWidth, defaultHeight
	}
	// NV12 needs even dimensions.
	w, h = w+(w&1), h+(h&1)
	return &hostDecoder{codec: info.Codec, width: w, height: h}, nil
}

func (d *hostDecoder) Codec() media.Codec { return d.codec }
func (d *hostDecoder) Width() int         { return d.width }
func (d *hostDecoder) Height() int        { return d.height }

func (d *hostDecoder) FrameSize() int64 {
	return int64(d.width*d.height) * 3 / 2
}

func (d *hostDecoder) DecodeInto(pkt []byte, dst []byte) (bool, error) {
	if d.closed {
		return false, fmt.Errorf("hwdec: decoder closed")
	}
	if int64(len(dst)) < d.FrameSize() {
		return false, fmt.Errorf("hwdec: destination %d bytes, need %d", len(dst), d.FrameSize())
	}
	if len(pkt) == 0 {
		return false, nil
	}

	var sum byte
	for _, b := range pkt {
		sum += b
	}

	lumaSize := d.width * d.height
	for i := 0; i < lumaSize; i++ {
		dst[i] = sum
	}
	chroma := dst[lumaSize:d.FrameSize()]
	for i := range chroma {
		chroma[i] = 0x80
	}
	return true, nil
}

func (d *hostDecoder) Close() error {
	d.closed = true
	return nil
}
