package probe

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// MP4 probes a fragmented MP4 recording.
func MP4(data []byte) (*Report, error) {
	report := &Report{Container: "mp4", Boxes: make(map[string]int)}

	firstMoof := -1
	_, err := gomp4.ReadBoxStructure(bytes.NewReader(data), func(h *gomp4.ReadHandle) (any, error) {
		typ := h.BoxInfo.Type
		if len(h.Path) == 1 {
			report.Boxes[typ.String()]++
		}

		switch typ {
		case gomp4.BoxTypeFtyp():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			if ftyp, ok := box.(*gomp4.Ftyp); ok {
				report.Brand = string(ftyp.MajorBrand[:])
			}
		case gomp4.BoxTypeMoov():
			return h.Expand()
		case gomp4.BoxTypeTrak():
			report.Tracks++
		case gomp4.BoxTypeMoof():
			if firstMoof < 0 {
				firstMoof = int(h.BoxInfo.Offset)
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading box structure: %w", err)
	}
	if report.Boxes["moov"] == 0 {
		return nil, errors.New("no moov box")
	}
	if firstMoof < 0 {
		// Header only: the recording stopped before the first fragment.
		firstMoof = len(data)
	}

	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data[:firstMoof])); err != nil {
		return nil, fmt.Errorf("parsing init segment: %w", err)
	}
	if len(init.Tracks) == 0 {
		return nil, errors.New("no tracks")
	}
	track := init.Tracks[0]
	if codec, ok := track.Codec.(*mp4.CodecH264); ok {
		if err := report.applySPS(codec.SPS); err != nil {
			return nil, err
		}
	} else {
		report.Codec = fmt.Sprintf("%T", track.Codec)
	}

	if firstMoof == len(data) {
		return report, nil
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(data[firstMoof:]); err != nil {
		return nil, fmt.Errorf("parsing fragments: %w", err)
	}

	var ticks uint64
	for _, part := range parts {
		report.Fragments++
		for _, pt := range part.Tracks {
			if pt.ID != track.ID {
				continue
			}
			for _, s := range pt.Samples {
				report.Samples++
				if !s.IsNonSyncSample {
					report.KeyFrames++
				}
				ticks += uint64(s.Duration)
			}
		}
	}
	if track.TimeScale > 0 {
		report.Duration = time.Duration(ticks) * time.Second / time.Duration(track.TimeScale)
	}
	return report, nil
}
