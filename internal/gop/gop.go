// Package gop locates the group of pictures containing a target frame
// and positions a demuxer at its start. Containers seek imprecisely, so
// both seek paths verify where they actually landed instead of trusting
// the container.
package gop

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jmylchreest/gopdec/internal/demux"
	"github.com/jmylchreest/gopdec/internal/index"
	"github.com/jmylchreest/gopdec/internal/media"
	"github.com/jmylchreest/gopdec/internal/nalu"
)

// NotFoundError reports a frame with no containing GOP: a frame before
// the first key frame, or a backtracking search that exhausted below
// frame zero.
type NotFoundError struct {
	Frame  int64
	Reason string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("gop: no GOP for frame %d: %s", e.Frame, e.Reason)
}

// LocateGopStart returns the key-frame ordinal starting the GOP that
// contains frame: the largest key-frame ordinal <= frame. A frame
// before the first key frame has no GOP; a frame at or after the last
// key frame belongs to the last GOP.
func LocateGopStart(idx *index.FrameIndex, frame int64) (int64, error) {
	kf := idx.Keyframes()
	if len(kf) == 0 || frame < kf[0] {
		return 0, &NotFoundError{Frame: frame, Reason: "before first key frame"}
	}
	lo, hi := 0, len(kf)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if kf[mid] <= frame {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return kf[lo], nil
}

// Seeker positions a demuxer at GOP starts for one file.
type Seeker struct {
	d      demux.Demuxer
	idx    *index.FrameIndex
	logger *slog.Logger
}

// NewSeeker wraps a demuxer and its frame index. The stream's codec
// must be one the engine supports.
func NewSeeker(d demux.Demuxer, idx *index.FrameIndex, logger *slog.Logger) (*Seeker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if codec := idx.Info().Codec; !codec.Supported() {
		return nil, &media.UnsupportedCodecError{Codec: codec.String()}
	}
	return &Seeker{d: d, idx: idx, logger: logger}, nil
}

// SeekToFrame seeks to the start of the GOP containing target and
// demuxes forward until the packet at the expected key-frame timestamp
// comes out; container seeks land on imprecise boundaries, so packets
// before the expected timestamp are skipped. Returns that packet and
// its resolved frame ordinal.
func (s *Seeker) SeekToFrame(target int64) (*demux.Packet, int64, error) {
	if !s.idx.Mapped() {
		return s.SeekToGopStartNoMapping(target)
	}
	keyframe, err := LocateGopStart(s.idx, target)
	if err != nil {
		return nil, 0, err
	}
	expected, err := s.idx.FrameToTimestamp(keyframe)
	if err != nil {
		return nil, 0, err
	}

	actual, err := s.d.Seek(expected)
	if err != nil {
		return nil, 0, fmt.Errorf("gop: seeking to ts %d: %w", expected, err)
	}
	if actual != expected {
		s.logger.Debug("container seek landed off target",
			slog.String("file", s.idx.Info().Path),
			slog.Int64("expected_ts", expected),
			slog.Int64("actual_ts", actual))
	}

	for {
		pkt, err := s.d.Demux()
		if err == io.EOF {
			return nil, 0, &NotFoundError{Frame: target, Reason: "end of stream before key-frame timestamp"}
		}
		if err != nil {
			return nil, 0, fmt.Errorf("gop: demuxing: %w", err)
		}
		resolved, err := s.idx.TimestampToFrame(pkt.PTS)
		if err != nil {
			return nil, 0, err
		}
		if pkt.PTS == expected {
			return pkt, resolved, nil
		}
		if pkt.PTS > expected {
			return nil, 0, &NotFoundError{Frame: target, Reason: fmt.Sprintf("demux overshot key-frame timestamp (got ts %d, want %d)", pkt.PTS, expected)}
		}
	}
}

// SeekToGopStartNoMapping finds the GOP start for constant-frame-rate
// files without an explicit mapping: seek near the target's arithmetic
// timestamp, inspect the structural NAL/OBU type of the packet that
// comes out, and step the search point back one frame whenever the
// packet is not a structural key unit or the landing overshoots the
// target. Some containers resolve this search one GOP early; callers
// decode forward from whatever key frame it lands on. Returns the
// key-frame packet and its resolved ordinal.
func (s *Seeker) SeekToGopStartNoMapping(target int64) (*demux.Packet, int64, error) {
	if target < 0 {
		return nil, 0, &NotFoundError{Frame: target, Reason: "negative frame"}
	}
	info := s.idx.Info()

	for searchPoint := target; searchPoint >= 0; searchPoint-- {
		ts := info.FrameToTimestamp(searchPoint)
		if _, err := s.d.Seek(ts); err != nil {
			return nil, 0, fmt.Errorf("gop: seeking to ts %d: %w", ts, err)
		}
		pkt, err := s.d.Demux()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("gop: demuxing: %w", err)
		}

		structural, err := nalu.IsStructuralKeyFrame(info.Codec, pkt.Data)
		if err != nil {
			return nil, 0, err
		}
		resolved := info.TimestampToFrame(pkt.PTS)
		if !structural || resolved > target {
			continue
		}
		return pkt, resolved, nil
	}

	return nil, 0, &NotFoundError{Frame: target, Reason: "backtracking search exhausted below frame zero"}
}

// ReadGop seeks to the GOP containing target and reads the whole GOP:
// the key-frame packet through the last packet before the next GOP's
// key frame (or end of stream). Returns the packets, the GOP's first
// frame ordinal, and its length.
func (s *Seeker) ReadGop(target int64) ([]*demux.Packet, int64, int64, error) {
	if !s.idx.Mapped() {
		return s.readGopNoMapping(target)
	}
	first, err := LocateGopStart(s.idx, target)
	if err != nil {
		return nil, 0, 0, err
	}
	gopLen, err := s.idx.GopLen(first)
	if err != nil {
		return nil, 0, 0, err
	}

	pkt, resolved, err := s.SeekToFrame(target)
	if err != nil {
		return nil, 0, 0, err
	}
	if resolved != first {
		s.logger.Debug("seek resolved to unexpected ordinal",
			slog.String("file", s.idx.Info().Path),
			slog.Int64("expected_frame", first),
			slog.Int64("resolved_frame", resolved))
	}

	packets := []*demux.Packet{pkt}
	for int64(len(packets)) < gopLen {
		next, err := s.d.Demux()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("gop: demuxing: %w", err)
		}
		packets = append(packets, next)
	}
	return packets, first, gopLen, nil
}

// readGopNoMapping reads a GOP from an arithmetic index, which carries
// no key-frame table: the backtracking seek finds the GOP start and the
// read runs until the next key frame or end of stream.
func (s *Seeker) readGopNoMapping(target int64) ([]*demux.Packet, int64, int64, error) {
	pkt, first, err := s.SeekToGopStartNoMapping(target)
	if err != nil {
		return nil, 0, 0, err
	}
	codec := s.idx.Info().Codec

	packets := []*demux.Packet{pkt}
	for {
		next, err := s.d.Demux()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("gop: demuxing: %w", err)
		}
		key, err := nalu.IsKeyFrame(codec, next.Data, next.KeyFlag)
		if err != nil {
			return nil, 0, 0, err
		}
		if key {
			break
		}
		packets = append(packets, next)
	}
	return packets, first, int64(len(packets)), nil
}
