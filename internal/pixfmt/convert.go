// Package pixfmt converts captured frames into the NV12 layout expected by
// the encoder.
package pixfmt

import (
	"github.com/jmylchreest/camrec/internal/media"
)

// NV21ToNV12 converts an NV21 frame to NV12. The luma plane is copied as is
// and each V/U chroma pair is swapped to U/V.
//
// dst is reused when it has enough capacity, otherwise a new buffer is
// allocated. It returns nil when src is nil or too short for the
// dimensions; callers treat that as "skip this frame".
func NV21ToNV12(dst, src []byte, width, height int) []byte {
	size := media.LayoutNV21.FrameSize(width, height)
	if src == nil || size == 0 || len(src) < size {
		return nil
	}

	dst = grow(dst, size)

	lumaLen := width * height
	copy(dst[:lumaLen], src[:lumaLen])

	srcChroma := src[lumaLen:size]
	dstChroma := dst[lumaLen:size]
	for k := 0; k+1 < len(srcChroma); k += 2 {
		dstChroma[k] = srcChroma[k+1]
		dstChroma[k+1] = srcChroma[k]
	}
	if n := len(srcChroma); n%2 == 1 {
		dstChroma[n-1] = srcChroma[n-1]
	}

	return dst
}

// I420ToNV12 converts a planar I420 frame to NV12 by interleaving the U and
// V planes.
func I420ToNV12(dst, src []byte, width, height int) []byte {
	size := media.LayoutI420.FrameSize(width, height)
	if src == nil || size == 0 || len(src) < size {
		return nil
	}

	dst = grow(dst, size)

	lumaLen := width * height
	planeLen := lumaLen / 4
	copy(dst[:lumaLen], src[:lumaLen])

	u := src[lumaLen : lumaLen+planeLen]
	v := src[lumaLen+planeLen : lumaLen+2*planeLen]
	uv := dst[lumaLen:size]
	for i := 0; i < planeLen; i++ {
		uv[2*i] = u[i]
		uv[2*i+1] = v[i]
	}

	return dst
}

func grow(buf []byte, size int) []byte {
	if cap(buf) >= size {
		return buf[:size]
	}
	return make([]byte, size)
}

// Converter turns frames of any supported layout into NV12, reusing one
// destination buffer across calls. It is not safe for concurrent use; the
// returned slice is overwritten by the next Convert.
type Converter struct {
	width  int
	height int
	buf    []byte
}

// NewConverter creates a converter for frames of the given dimensions.
func NewConverter(width, height int) *Converter {
	return &Converter{
		width:  width,
		height: height,
		buf:    make([]byte, media.LayoutNV12.FrameSize(width, height)),
	}
}

// Convert returns the NV12 bytes of frame. It returns false when the frame
// does not match the converter's dimensions or is too short.
func (c *Converter) Convert(frame media.Frame) ([]byte, bool) {
	if frame.Width != c.width || frame.Height != c.height {
		return nil, false
	}

	var out []byte
	switch frame.Layout {
	case media.LayoutNV21:
		out = NV21ToNV12(c.buf, frame.Data, c.width, c.height)
	case media.LayoutI420:
		out = I420ToNV12(c.buf, frame.Data, c.width, c.height)
	case media.LayoutNV12:
		size := media.LayoutNV12.FrameSize(c.width, c.height)
		if len(frame.Data) < size {
			return nil, false
		}
		out = grow(c.buf, size)
		copy(out, frame.Data[:size])
	default:
		return nil, false
	}

	if out == nil {
		return nil, false
	}
	c.buf = out
	return out, true
}
