package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// TS probes an MPEG-TS recording. Every PES packet of the video stream is
// one sample.
func TS(ctx context.Context, data []byte) (*Report, error) {
	report := &Report{Container: "ts"}
	dmx := astits.NewDemuxer(ctx, bytes.NewReader(data))

	var (
		videoPID  uint16
		haveVideo bool
		firstPTS  int64 = -1
		lastPTS   int64
		frameTick int64
	)

	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return nil, fmt.Errorf("demuxing: %w", err)
		}

		if d.PMT != nil && !haveVideo {
			for _, es := range d.PMT.ElementaryStreams {
				report.PIDs = append(report.PIDs, es.ElementaryPID)
				if es.StreamType == astits.StreamTypeH264Video && !haveVideo {
					videoPID = es.ElementaryPID
					haveVideo = true
					report.Tracks++
				}
			}
			slices.Sort(report.PIDs)
		}

		if d.PES == nil || !haveVideo || d.PID != videoPID {
			continue
		}

		report.Samples++
		if pts, ok := pesPTS(d.PES); ok {
			if firstPTS < 0 {
				firstPTS = pts
			} else if frameTick == 0 && pts > firstPTS {
				frameTick = pts - firstPTS
			}
			lastPTS = max(lastPTS, pts)
		}

		var au h264.AnnexB
		if err := au.Unmarshal(d.PES.Data); err != nil {
			continue
		}
		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeIDR:
				report.KeyFrames++
			case h264.NALUTypeSPS:
				if report.Codec == "" {
					if err := report.applySPS(nalu); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if !haveVideo {
		return nil, errors.New("no H.264 stream")
	}
	if firstPTS >= 0 && report.Samples > 0 {
		// The last sample lasts one frame interval.
		report.Duration = time.Duration(lastPTS-firstPTS+frameTick) * time.Second / 90000
	}
	return report, nil
}

func pesPTS(pes *astits.PESData) (int64, bool) {
	if pes.Header == nil || pes.Header.OptionalHeader == nil || pes.Header.OptionalHeader.PTS == nil {
		return 0, false
	}
	return pes.Header.OptionalHeader.PTS.Base, true
}
