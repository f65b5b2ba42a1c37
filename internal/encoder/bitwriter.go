package encoder

import "math/bits"

// bitWriter writes an H.264 RBSP MSB first, with Exp-Golomb helpers.
type bitWriter struct {
	buf  []byte
	cur  byte
	nbit uint8
}

func (w *bitWriter) writeBit(b uint) {
	w.cur = w.cur<<1 | byte(b&1)
	w.nbit++
	if w.nbit == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur = 0
		w.nbit = 0
	}
}

func (w *bitWriter) writeBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit(uint(v>>uint(i)) & 1)
	}
}

// writeUE writes an unsigned Exp-Golomb code.
func (w *bitWriter) writeUE(v uint32) {
	x := uint64(v) + 1
	n := bits.Len64(x)
	w.writeBits(0, n-1)
	w.writeBits(x, n)
}

// writeSE writes a signed Exp-Golomb code.
func (w *bitWriter) writeSE(v int32) {
	if v > 0 {
		w.writeUE(uint32(2*v - 1))
	} else {
		w.writeUE(uint32(-2 * v))
	}
}

func (w *bitWriter) aligned() bool {
	return w.nbit == 0
}

// alignZero pads with zero bits to the next byte boundary.
func (w *bitWriter) alignZero() {
	for !w.aligned() {
		w.writeBit(0)
	}
}

// writeBytes appends whole bytes. The writer must be byte aligned.
func (w *bitWriter) writeBytes(p []byte) {
	if !w.aligned() {
		for _, b := range p {
			w.writeBits(uint64(b), 8)
		}
		return
	}
	w.buf = append(w.buf, p...)
}

// trailing writes rbsp_trailing_bits and returns the RBSP.
func (w *bitWriter) trailing() []byte {
	w.writeBit(1)
	w.alignZero()
	return w.buf
}

// addEmulationPrevention inserts 0x03 after any two zero bytes that are
// followed by a byte <= 3, turning an RBSP into NAL unit payload.
func addEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64+4)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
