package demux

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/gopdec/internal/media"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// fmp4Scanner accumulates state while walking a fragmented MP4 file's
// top-level boxes.
type fmp4Scanner struct {
	logger *slog.Logger
	path   string

	codec        media.Codec
	videoTrackID int
	timescale    uint32

	// parameter sets prepended to keyframes during Annex-B conversion
	vps, sps, pps []byte
	nalLengthSize int

	info    *media.StreamInfo
	samples []sample
}

// openFMP4 indexes a fragmented MP4 file: one pass over its boxes,
// parsing the moov init segment and each moof+mdat fragment.
func openFMP4(path string, logger *slog.Logger) (Demuxer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	s := &fmp4Scanner{
		logger:        logger,
		path:          path,
		nalLengthSize: 4,
		info:          &media.StreamInfo{PixelFormat: "nv12"},
	}

	pos := uint64(0)
	size := uint64(len(data))
	for pos+8 <= size {
		boxSize := uint64(binary.BigEndian.Uint32(data[pos:]))
		boxType := string(data[pos+4 : pos+8])
		if boxSize == 1 && pos+16 <= size {
			boxSize = binary.BigEndian.Uint64(data[pos+8:])
		}
		if boxSize < 8 || pos+boxSize > size {
			logger.Debug("truncated or malformed box, stopping scan",
				slog.String("file", path),
				slog.String("box", boxType),
				slog.Uint64("size", boxSize))
			break
		}

		switch boxType {
		case "moov":
			if err := s.parseInit(data[pos : pos+boxSize]); err != nil {
				return nil, fmt.Errorf("parsing moov in %s: %w", path, err)
			}

		case "moof":
			// A fragment is the moof plus its trailing mdat.
			end := pos + boxSize
			if end+8 > size {
				break
			}
			mdatSize := uint64(binary.BigEndian.Uint32(data[end:]))
			if string(data[end+4:end+8]) != "mdat" || end+mdatSize > size {
				logger.Debug("moof without trailing mdat",
					slog.String("file", path))
				break
			}
			if err := s.parseFragment(data[pos : end+mdatSize]); err != nil {
				return nil, fmt.Errorf("parsing fragment in %s: %w", path, err)
			}
			pos = end + mdatSize
			continue
		}

		pos += boxSize
	}

	if s.codec == media.CodecUnknown {
		return nil, fmt.Errorf("%w: %s", ErrNoVideoTrack, path)
	}
	return finishIndex(path, s.codec, s.samples, s.info, logger)
}

func (s *fmp4Scanner) parseInit(moov []byte) error {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(moov)); err != nil {
		return err
	}

	for _, track := range init.Tracks {
		switch codec := track.Codec.(type) {
		case *mp4.CodecH264:
			s.codec = media.CodecH264
			s.videoTrackID = track.ID
			s.timescale = track.TimeScale
			s.sps = codec.SPS
			s.pps = codec.PPS
			var sps h264.SPS
			if err := sps.Unmarshal(codec.SPS); err == nil {
				s.info.Width = sps.Width()
				s.info.Height = sps.Height()
			}

		case *mp4.CodecH265:
			s.codec = media.CodecH265
			s.videoTrackID = track.ID
			s.timescale = track.TimeScale
			s.vps = codec.VPS
			s.sps = codec.SPS
			s.pps = codec.PPS
			var sps h265.SPS
			if err := sps.Unmarshal(codec.SPS); err == nil {
				s.info.Width = sps.Width()
				s.info.Height = sps.Height()
			}

		case *mp4.CodecAV1:
			s.codec = media.CodecAV1
			s.videoTrackID = track.ID
			s.timescale = track.TimeScale
		}
	}

	s.logger.Debug("fMP4 init parsed",
		slog.String("file", s.path),
		slog.String("codec", s.codec.String()),
		slog.Int("video_track", s.videoTrackID),
		slog.Uint64("timescale", uint64(s.timescale)))
	return nil
}

func (s *fmp4Scanner) parseFragment(frag []byte) error {
	var parts fmp4.Parts
	if err := parts.Unmarshal(frag); err != nil {
		return err
	}

	timescale := s.timescale
	if timescale == 0 {
		timescale = 90000
	}

	for _, part := range parts {
		for _, track := range part.Tracks {
			if track.ID != s.videoTrackID {
				continue
			}
			baseTime := track.BaseTime
			for i, smp := range track.Samples {
				dts := int64(baseTime * 90000 / uint64(timescale))
				pts := dts + int64(smp.PTSOffset)*90000/int64(timescale)

				// frag_keyframe muxers cut fragments on keyframes but
				// do not always set the sync flag on the first sample.
				key := !smp.IsNonSyncSample || i == 0

				var data []byte
				switch s.codec {
				case media.CodecH264:
					data = s.toAnnexB(smp.Payload, key, nil)
				case media.CodecH265:
					data = s.toAnnexB(smp.Payload, key, s.vps)
				default:
					// AV1 OBUs are carried as-is in the mdat.
					data = smp.Payload
				}
				if len(data) > 0 {
					s.samples = append(s.samples, sample{data: data, pts: pts, dts: dts, key: key})
				}
				baseTime += uint64(smp.Duration)
			}
		}
	}
	return nil
}

// toAnnexB converts a length-prefixed sample payload to Annex-B,
// prepending parameter sets (VPS for HEVC, then SPS/PPS) on keyframes.
func (s *fmp4Scanner) toAnnexB(payload []byte, keyframe bool, vps []byte) []byte {
	var out bytes.Buffer

	if keyframe {
		if len(vps) > 0 {
			out.Write(annexBStartCode)
			out.Write(vps)
		}
		if len(s.sps) > 0 {
			out.Write(annexBStartCode)
			out.Write(s.sps)
		}
		if len(s.pps) > 0 {
			out.Write(annexBStartCode)
			out.Write(s.pps)
		}
	}

	offset := 0
	for offset+s.nalLengthSize <= len(payload) {
		var nalLen int
		switch s.nalLengthSize {
		case 1:
			nalLen = int(payload[offset])
		case 2:
			nalLen = int(binary.BigEndian.Uint16(payload[offset:]))
		case 3:
			nalLen = int(payload[offset])<<16 | int(payload[offset+1])<<8 | int(payload[offset+2])
		default:
			nalLen = int(binary.BigEndian.Uint32(payload[offset:]))
		}
		offset += s.nalLengthSize
		if nalLen <= 0 || offset+nalLen > len(payload) {
			break
		}
		out.Write(annexBStartCode)
		out.Write(payload[offset : offset+nalLen])
		offset += nalLen
	}

	return out.Bytes()
}
