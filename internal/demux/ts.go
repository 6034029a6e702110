package demux

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/gopdec/internal/media"
)

// openTS indexes an MPEG-TS file using the mediacommon reader. The
// whole file is demuxed once at open; packets are served from memory.
func openTS(path string, logger *slog.Logger) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := &mpegts.Reader{R: bufio.NewReader(f)}
	if err := r.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts reader for %s: %w", path, err)
	}

	r.OnDecodeError(func(err error) {
		logger.Debug("MPEG-TS decode error",
			slog.String("file", path),
			slog.String("error", err.Error()))
	})

	var (
		codec   media.Codec
		samples []sample
		info    = &media.StreamInfo{PixelFormat: "nv12"}
	)

	for _, track := range r.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			if codec != media.CodecUnknown {
				continue
			}
			codec = media.CodecH264
			r.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
				if len(au) == 0 {
					return nil
				}
				key := h264.IsRandomAccess(au)
				if key && info.Width == 0 {
					setH264Dimensions(info, au)
				}
				annexB, err := h264.AnnexB(au).Marshal()
				if err != nil || len(annexB) == 0 {
					return nil
				}
				samples = append(samples, sample{data: annexB, pts: pts, dts: dts, key: key})
				return nil
			})
			logger.Debug("found H.264 video track",
				slog.String("file", path),
				slog.Uint64("pid", uint64(track.PID)))

		case *mpegts.CodecH265:
			if codec != media.CodecUnknown {
				continue
			}
			codec = media.CodecH265
			r.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
				if len(au) == 0 {
					return nil
				}
				key := h265.IsRandomAccess(au)
				if key && info.Width == 0 {
					setH265Dimensions(info, au)
				}
				// Annex-B framing is codec-agnostic.
				annexB, err := h264.AnnexB(au).Marshal()
				if err != nil || len(annexB) == 0 {
					return nil
				}
				samples = append(samples, sample{data: annexB, pts: pts, dts: dts, key: key})
				return nil
			})
			logger.Debug("found H.265 video track",
				slog.String("file", path),
				slog.Uint64("pid", uint64(track.PID)))

		default:
			logger.Debug("skipping unsupported track",
				slog.String("file", path),
				slog.Uint64("pid", uint64(track.PID)),
				slog.String("type", fmt.Sprintf("%T", track.Codec)))
		}
	}

	if codec == media.CodecUnknown {
		return nil, fmt.Errorf("%w: %s", ErrNoVideoTrack, path)
	}

	for {
		if err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			logger.Debug("MPEG-TS read stopped",
				slog.String("file", path),
				slog.String("error", err.Error()))
			break
		}
	}

	return finishIndex(path, codec, samples, info, logger)
}

func setH264Dimensions(info *media.StreamInfo, au [][]byte) {
	for _, nal := range au {
		if len(nal) == 0 || h264.NALUType(nal[0]&0x1F) != h264.NALUTypeSPS {
			continue
		}
		var sps h264.SPS
		if err := sps.Unmarshal(nal); err == nil {
			info.Width = sps.Width()
			info.Height = sps.Height()
		}
		return
	}
}

func setH265Dimensions(info *media.StreamInfo, au [][]byte) {
	for _, nal := range au {
		if len(nal) == 0 || h265.NALUType((nal[0]>>1)&0x3F) != h265.NALUType_SPS_NUT {
			continue
		}
		var sps h265.SPS
		if err := sps.Unmarshal(nal); err == nil {
			info.Width = sps.Width()
			info.Height = sps.Height()
		}
		return
	}
}
