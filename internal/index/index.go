// Package index builds and serves the per-file frame/timestamp index:
// frame ordinal to presentation timestamp and back, plus the ascending
// key-frame ordinal sequence that defines GOP boundaries.
package index

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jmylchreest/gopdec/internal/demux"
	"github.com/jmylchreest/gopdec/internal/media"
)

// ErrNoKeyFrames indicates a file with no detectable GOP boundaries;
// such files are rejected outright.
var ErrNoKeyFrames = errors.New("index: no key frames found")

// LookupError reports a frame or timestamp absent from a VFR mapping.
// Lookups never default silently.
type LookupError struct {
	What  string // "frame" or "timestamp"
	Value int64
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("index: %s %d not in mapping", e.What, e.Value)
}

// FrameIndex maps frame ordinals to timestamps and back for one file.
// For constant-frame-rate files the mapping is arithmetic; for VFR
// files it is the explicit bijection built by a full demux pass.
type FrameIndex struct {
	info      *media.StreamInfo
	frame2pts []int64
	pts2frame map[int64]int64
	keyframes []int64
}

// Build fully demuxes the file once, collecting (timestamp, keyframe)
// pairs, sorting by timestamp, and assigning ordinals in sorted order.
// The demuxer is left at end of stream.
func Build(d demux.Demuxer) (*FrameIndex, error) {
	info := d.Info()

	type entry struct {
		pts int64
		key bool
	}
	var entries []entry
	for {
		pkt, err := d.Demux()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("index: demuxing %s: %w", info.Path, err)
		}
		entries = append(entries, entry{pts: pkt.PTS, key: pkt.KeyFlag})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].pts < entries[j].pts
	})

	idx := &FrameIndex{
		info:      info,
		frame2pts: make([]int64, len(entries)),
		pts2frame: make(map[int64]int64, len(entries)),
	}
	for ordinal, e := range entries {
		idx.frame2pts[ordinal] = e.pts
		idx.pts2frame[e.pts] = int64(ordinal)
		if e.key {
			idx.keyframes = append(idx.keyframes, int64(ordinal))
		}
	}

	if len(idx.keyframes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoKeyFrames, info.Path)
	}
	return idx, nil
}

// NewArithmetic creates an index over a CFR stream; frame/timestamp
// conversion is computed from the time base and frame rate rather than
// stored. keyframes may be empty, in which case GOP boundaries are
// discovered by the structural seek path instead of LocateGopStart.
func NewArithmetic(info *media.StreamInfo, keyframes []int64) (*FrameIndex, error) {
	kf := make([]int64, len(keyframes))
	copy(kf, keyframes)
	sort.Slice(kf, func(i, j int) bool { return kf[i] < kf[j] })
	return &FrameIndex{info: info, keyframes: kf}, nil
}

// Info returns the stream metadata the index was built over.
func (x *FrameIndex) Info() *media.StreamInfo {
	return x.info
}

// Mapped reports whether the index carries an explicit VFR mapping.
func (x *FrameIndex) Mapped() bool {
	return len(x.frame2pts) > 0
}

// FrameCount returns the number of indexed frames; zero for purely
// arithmetic indexes.
func (x *FrameIndex) FrameCount() int64 {
	if x.Mapped() {
		return int64(len(x.frame2pts))
	}
	return x.info.FrameCount
}

// Keyframes returns the ascending key-frame ordinals.
func (x *FrameIndex) Keyframes() []int64 {
	return x.keyframes
}

// FrameToTimestamp resolves a frame ordinal to its timestamp.
func (x *FrameIndex) FrameToTimestamp(frame int64) (int64, error) {
	if !x.Mapped() {
		return x.info.FrameToTimestamp(frame), nil
	}
	if frame < 0 || frame >= int64(len(x.frame2pts)) {
		return 0, &LookupError{What: "frame", Value: frame}
	}
	return x.frame2pts[frame], nil
}

// TimestampToFrame resolves a timestamp to its frame ordinal. For VFR
// indexes the timestamp must be exactly one the mapping contains.
func (x *FrameIndex) TimestampToFrame(ts int64) (int64, error) {
	if !x.Mapped() {
		return x.info.TimestampToFrame(ts), nil
	}
	frame, ok := x.pts2frame[ts]
	if !ok {
		return 0, &LookupError{What: "timestamp", Value: ts}
	}
	return frame, nil
}

// GopLen returns the length of the GOP starting at the given key-frame
// ordinal: the distance to the next key frame, or to end of stream for
// the last GOP.
func (x *FrameIndex) GopLen(keyframe int64) (int64, error) {
	i := sort.Search(len(x.keyframes), func(i int) bool {
		return x.keyframes[i] >= keyframe
	})
	if i >= len(x.keyframes) || x.keyframes[i] != keyframe {
		return 0, &LookupError{What: "frame", Value: keyframe}
	}
	if i+1 < len(x.keyframes) {
		return x.keyframes[i+1] - keyframe, nil
	}
	if total := x.FrameCount(); total > keyframe {
		return total - keyframe, nil
	}
	return 1, nil
}
