package media

import "fmt"

// Rational is an exact ratio, used for time bases and frame rates.
type Rational struct {
	Num int64
	Den int64
}

// IsZero reports whether the rational is unset or degenerate.
func (r Rational) IsZero() bool {
	return r.Num == 0 || r.Den == 0
}

// Float returns the ratio as a float64. Zero denominators yield 0.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// ColorRange describes the sample value range of a stream.
type ColorRange string

const (
	ColorRangeUnknown ColorRange = ""
	ColorRangeLimited ColorRange = "limited"
	ColorRangeFull    ColorRange = "full"
)

// StreamInfo is per-file stream metadata, immutable after probing.
type StreamInfo struct {
	Path          string
	Codec         Codec
	Width         int
	Height        int
	PixelFormat   string
	TimeBase      Rational
	AvgFrameRate  Rational
	RealFrameRate Rational
	StartTime     int64
	Duration      int64
	FrameCount    int64
	ColorSpace    string
	ColorRange    ColorRange
	VFR           bool
}

// FrameToTimestamp converts a frame ordinal to a presentation timestamp
// in time-base ticks, arithmetically. Valid only for constant-frame-rate
// streams; VFR streams need the explicit index.
func (s *StreamInfo) FrameToTimestamp(frame int64) int64 {
	fr := s.frameRate()
	if fr.IsZero() || s.TimeBase.IsZero() {
		return s.StartTime
	}
	// frame / fps seconds expressed in time-base ticks, rounded.
	num := frame * fr.Den * s.TimeBase.Den
	den := fr.Num * s.TimeBase.Num
	return s.StartTime + roundDiv(num, den)
}

// TimestampToFrame converts a presentation timestamp in time-base ticks
// to a frame ordinal, arithmetically.
func (s *StreamInfo) TimestampToFrame(ts int64) int64 {
	fr := s.frameRate()
	if fr.IsZero() || s.TimeBase.IsZero() {
		return 0
	}
	num := (ts - s.StartTime) * fr.Num * s.TimeBase.Num
	den := fr.Den * s.TimeBase.Den
	return roundDiv(num, den)
}

func (s *StreamInfo) frameRate() Rational {
	if !s.AvgFrameRate.IsZero() {
		return s.AvgFrameRate
	}
	return s.RealFrameRate
}

func roundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	if (num < 0) != (den < 0) {
		return (num - den/2) / den
	}
	return (num + den/2) / den
}
