package container

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// accessUnit splits sample data into NAL units. Data is Annex-B when it starts
// with a start code, otherwise it is taken as a single NAL unit.
func accessUnit(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 &&
		(data[2] == 1 || (data[2] == 0 && data[3] == 1)) {
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return [][]byte{data}
		}
		return au
	}
	return [][]byte{data}
}

// stripParameterSets drops SPS, PPS and AUD NAL units, which an avc1 track
// carries in its sample entry instead.
func stripParameterSets(au [][]byte) [][]byte {
	out := au[:0:0]
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeAccessUnitDelimiter:
			continue
		}
		out = append(out, nalu)
	}
	return out
}

// withParameterSets prepends sps and pps to a key frame that does not carry
// them, so every random access point in a stream is decodable on its own.
func withParameterSets(au [][]byte, sps, pps []byte) [][]byte {
	if len(sps) == 0 || len(pps) == 0 {
		return au
	}
	for _, nalu := range au {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeSPS {
			return au
		}
	}
	out := make([][]byte, 0, len(au)+2)
	out = append(out, sps, pps)
	return append(out, au...)
}

// ticks90k converts microseconds to the 90 kHz clock used by both MP4 video
// tracks and MPEG-TS.
func ticks90k(us int64) int64 {
	return us * 9 / 100
}
