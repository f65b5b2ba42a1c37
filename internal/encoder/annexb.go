package encoder

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var startCode = []byte{0, 0, 1}

// splitNALU is a bufio.SplitFunc yielding the NAL units of an Annex-B byte
// stream without their start codes.
func splitNALU(data []byte, atEOF bool) (advance int, token []byte, err error) {
	// Skip the leading start code (and any zero_byte / trailing_zero_8bits).
	start := 0
	for start < len(data) && data[start] == 0 {
		start++
	}
	if start < len(data) && data[start] == 1 && start >= 2 {
		start++
	} else if start >= len(data) {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	} else {
		// Not at a start code: treat everything up to the next one as a unit.
		start = 0
	}

	next := bytes.Index(data[start:], startCode)
	if next < 0 {
		if atEOF {
			if start == len(data) {
				return len(data), nil, nil
			}
			return len(data), trimTrailingZeros(data[start:]), nil
		}
		return 0, nil, nil
	}

	end := start + next
	nalu := trimTrailingZeros(data[start:end])
	if len(nalu) == 0 {
		return end, nil, nil
	}
	return end, nalu, nil
}

func trimTrailingZeros(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

func isVCL(t h264.NALUType) bool {
	return t == h264.NALUTypeNonIDR || t == h264.NALUTypeIDR
}

// auAssembler groups NAL units into access units.
type auAssembler struct {
	current [][]byte
	hasVCL  bool
}

// push adds a NAL unit and returns the previous access unit when nalu
// starts a new one. The NAL unit bytes are copied.
func (a *auAssembler) push(nalu []byte) [][]byte {
	if len(nalu) == 0 {
		return nil
	}
	typ := h264.NALUType(nalu[0] & 0x1F)
	if typ == 0 || nalu[0]&0x80 != 0 {
		// unspecified type or forbidden bit set: not a NAL unit we can use
		return nil
	}

	var done [][]byte
	if a.hasVCL && startsAccessUnit(typ, nalu) {
		done = a.flush()
	}

	a.current = append(a.current, bytes.Clone(nalu))
	if isVCL(typ) {
		a.hasVCL = true
	}
	return done
}

// flush returns the pending access unit, if any.
func (a *auAssembler) flush() [][]byte {
	if len(a.current) == 0 {
		return nil
	}
	au := a.current
	a.current = nil
	a.hasVCL = false
	return au
}

func startsAccessUnit(typ h264.NALUType, nalu []byte) bool {
	switch typ {
	case h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeSEI:
		return true
	case h264.NALUTypeNonIDR, h264.NALUTypeIDR:
		// first_mb_in_slice == 0 is coded as a single '1' bit.
		return len(nalu) > 1 && nalu[1]&0x80 != 0
	default:
		return false
	}
}

// accessUnitInfo summarises an access unit.
type accessUnitInfo struct {
	sps, pps []byte
	picture  [][]byte // NAL units to emit as the sample
	key      bool
}

func inspectAccessUnit(au [][]byte) accessUnitInfo {
	var info accessUnitInfo
	for _, nalu := range au {
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			info.sps = nalu
		case h264.NALUTypePPS:
			info.pps = nalu
		case h264.NALUTypeAccessUnitDelimiter:
		case h264.NALUTypeIDR:
			info.key = true
			info.picture = append(info.picture, nalu)
		default:
			info.picture = append(info.picture, nalu)
		}
	}
	return info
}
