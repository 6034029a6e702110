// Package bundle implements the self-describing binary format used to
// carry runs of compressed packets between demux, cache, and decode: a
// frame count, a per-frame offset table for O(1) random access, and
// concatenated per-frame blocks of metadata plus packet bytes.
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jmylchreest/gopdec/internal/media"
)

// Format errors.
var (
	// ErrMalformed indicates a buffer that does not parse as a bundle.
	ErrMalformed = errors.New("bundle: malformed buffer")

	// ErrLengthMismatch indicates per-frame input slices of differing lengths.
	ErrLengthMismatch = errors.New("bundle: per-frame slices have mismatched lengths")

	// ErrFrameOutOfRange indicates a frame index outside the bundle.
	ErrFrameOutOfRange = errors.New("bundle: frame index out of range")
)

const (
	headerSize = 4 // uint32 frame count
	offsetSize = 8 // uint64 per-frame offsets

	// Per-frame metadata block, little-endian:
	// codec(4) width(4) height(4) colorRange(1) gopLen(4)
	// firstFrameID(8) decodeIdx(8) packetLen(4)
	metaSize = 37
)

// codec wire IDs. Stable across versions; never renumber.
var codecIDs = map[media.Codec]uint32{
	media.CodecH264: 1,
	media.CodecH265: 2,
	media.CodecAV1:  3,
}

var codecByID = map[uint32]media.Codec{
	1: media.CodecH264,
	2: media.CodecH265,
	3: media.CodecAV1,
}

// FrameMeta is the fixed metadata carried per frame.
type FrameMeta struct {
	Codec        media.Codec
	Width        int
	Height       int
	ColorRange   media.ColorRange
	GopLen       int
	FirstFrameID int64
	DecodeIdx    int64
}

// Frame pairs metadata with compressed packet bytes.
type Frame struct {
	Meta   FrameMeta
	Packet []byte
}

// Build serializes frames into a bundle.
func Build(frames []Frame) ([]byte, error) {
	payloadSize := 0
	for _, f := range frames {
		payloadSize += metaSize + len(f.Packet)
	}

	out := make([]byte, headerSize+offsetSize*len(frames)+payloadSize)
	binary.LittleEndian.PutUint32(out, uint32(len(frames)))

	tableOff := headerSize
	blockOff := uint64(0)
	pos := headerSize + offsetSize*len(frames)
	for _, f := range frames {
		binary.LittleEndian.PutUint64(out[tableOff:], blockOff)
		tableOff += offsetSize

		pos = putMeta(out, pos, f.Meta, len(f.Packet))
		copy(out[pos:], f.Packet)
		pos += len(f.Packet)

		blockOff += uint64(metaSize + len(f.Packet))
	}
	return out, nil
}

// BuildFromPackets serializes one GOP run where all frames share stream
// metadata. gopLens and firstFrameIDs must match packets in length.
func BuildFromPackets(info *media.StreamInfo, packets [][]byte, gopLens []int, firstFrameIDs, decodeIdxs []int64) ([]byte, error) {
	if len(gopLens) != len(packets) || len(firstFrameIDs) != len(packets) || len(decodeIdxs) != len(packets) {
		return nil, fmt.Errorf("%w: packets=%d gopLens=%d firstFrameIDs=%d decodeIdxs=%d",
			ErrLengthMismatch, len(packets), len(gopLens), len(firstFrameIDs), len(decodeIdxs))
	}
	frames := make([]Frame, len(packets))
	for i, pkt := range packets {
		frames[i] = Frame{
			Meta: FrameMeta{
				Codec:        info.Codec,
				Width:        info.Width,
				Height:       info.Height,
				ColorRange:   info.ColorRange,
				GopLen:       gopLens[i],
				FirstFrameID: firstFrameIDs[i],
				DecodeIdx:    decodeIdxs[i],
			},
			Packet: pkt,
		}
	}
	return Build(frames)
}

func putMeta(out []byte, pos int, m FrameMeta, packetLen int) int {
	binary.LittleEndian.PutUint32(out[pos:], codecIDs[m.Codec])
	binary.LittleEndian.PutUint32(out[pos+4:], uint32(m.Width))
	binary.LittleEndian.PutUint32(out[pos+8:], uint32(m.Height))
	out[pos+12] = colorRangeID(m.ColorRange)
	binary.LittleEndian.PutUint32(out[pos+13:], uint32(m.GopLen))
	binary.LittleEndian.PutUint64(out[pos+17:], uint64(m.FirstFrameID))
	binary.LittleEndian.PutUint64(out[pos+25:], uint64(m.DecodeIdx))
	binary.LittleEndian.PutUint32(out[pos+33:], uint32(packetLen))
	return pos + metaSize
}

func colorRangeID(cr media.ColorRange) byte {
	switch cr {
	case media.ColorRangeLimited:
		return 1
	case media.ColorRangeFull:
		return 2
	default:
		return 0
	}
}

func colorRangeByID(b byte) media.ColorRange {
	switch b {
	case 1:
		return media.ColorRangeLimited
	case 2:
		return media.ColorRangeFull
	default:
		return media.ColorRangeUnknown
	}
}

// Bundle is a parsed view over a serialized buffer. Frame packets are
// zero-copy subslices of the input; the caller keeps the buffer alive
// while frames are in use.
type Bundle struct {
	buf     []byte
	offsets []uint64
	payload []byte
}

// Parse validates the buffer's structure and returns a view over it.
func Parse(buf []byte) (*Bundle, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrMalformed)
	}
	count := int(binary.LittleEndian.Uint32(buf))
	tableEnd := headerSize + offsetSize*count
	if len(buf) < tableEnd {
		return nil, fmt.Errorf("%w: truncated offset table (%d frames)", ErrMalformed, count)
	}

	b := &Bundle{
		buf:     buf,
		offsets: make([]uint64, count),
		payload: buf[tableEnd:],
	}
	// Subtraction-style bounds checks: offsets come from untrusted input
	// and additions near math.MaxUint64 would wrap.
	payloadLen := uint64(len(b.payload))
	prev := uint64(0)
	for i := 0; i < count; i++ {
		off := binary.LittleEndian.Uint64(buf[headerSize+i*offsetSize:])
		if off < prev || off > payloadLen || payloadLen-off < metaSize {
			return nil, fmt.Errorf("%w: bad offset %d for frame %d", ErrMalformed, off, i)
		}
		pktLen := uint64(binary.LittleEndian.Uint32(b.payload[off+33:]))
		if payloadLen-off-metaSize < pktLen {
			return nil, fmt.Errorf("%w: truncated packet for frame %d", ErrMalformed, i)
		}
		b.offsets[i] = off
		prev = off
	}
	return b, nil
}

// Count returns the number of frames in the bundle.
func (b *Bundle) Count() int {
	return len(b.offsets)
}

// Frame returns frame i's metadata and a zero-copy view of its packet.
func (b *Bundle) Frame(i int) (FrameMeta, []byte, error) {
	if i < 0 || i >= len(b.offsets) {
		return FrameMeta{}, nil, fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, i, len(b.offsets))
	}
	pos := b.offsets[i]
	blk := b.payload[pos:]
	meta := FrameMeta{
		Codec:        codecByID[binary.LittleEndian.Uint32(blk)],
		Width:        int(binary.LittleEndian.Uint32(blk[4:])),
		Height:       int(binary.LittleEndian.Uint32(blk[8:])),
		ColorRange:   colorRangeByID(blk[12]),
		GopLen:       int(binary.LittleEndian.Uint32(blk[13:])),
		FirstFrameID: int64(binary.LittleEndian.Uint64(blk[17:])),
		DecodeIdx:    int64(binary.LittleEndian.Uint64(blk[25:])),
	}
	pktLen := binary.LittleEndian.Uint32(blk[33:])
	if uint64(metaSize)+uint64(pktLen) > uint64(len(blk)) {
		return FrameMeta{}, nil, fmt.Errorf("%w: truncated packet for frame %d", ErrMalformed, i)
	}
	return meta, blk[metaSize : metaSize+int(pktLen) : metaSize+int(pktLen)], nil
}

// Frames returns all frames. Packet slices remain zero-copy views.
func (b *Bundle) Frames() ([]Frame, error) {
	out := make([]Frame, b.Count())
	for i := range out {
		meta, pkt, err := b.Frame(i)
		if err != nil {
			return nil, err
		}
		out[i] = Frame{Meta: meta, Packet: pkt}
	}
	return out, nil
}

// Bytes returns the underlying serialized buffer.
func (b *Bundle) Bytes() []byte {
	return b.buf
}

// Merge concatenates multiple serialized bundles into one bundle with a
// unified offset table, preserving frame order across inputs.
func Merge(bundles [][]byte) ([]byte, error) {
	parsed := make([]*Bundle, len(bundles))
	total := 0
	payload := 0
	for i, raw := range bundles {
		b, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("bundle %d: %w", i, err)
		}
		parsed[i] = b
		total += b.Count()
		payload += len(b.payload)
	}

	out := make([]byte, headerSize+offsetSize*total+payload)
	binary.LittleEndian.PutUint32(out, uint32(total))

	tableOff := headerSize
	pos := headerSize + offsetSize*total
	base := uint64(0)
	for _, b := range parsed {
		for _, off := range b.offsets {
			binary.LittleEndian.PutUint64(out[tableOff:], base+off)
			tableOff += offsetSize
		}
		copy(out[pos:], b.payload)
		pos += len(b.payload)
		base += uint64(len(b.payload))
	}
	return out, nil
}
