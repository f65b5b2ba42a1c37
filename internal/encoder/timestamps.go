package encoder

// DefaultPTSBaseUs is the presentation time of the first frame.
const DefaultPTSBaseUs int64 = 132

// FrameDuration returns the per-frame PTS step in microseconds,
// 1_000_000/frameRate rounded to the nearest microsecond.
func FrameDuration(frameRate int) int64 {
	if frameRate <= 0 {
		return 0
	}
	fps := int64(frameRate)
	return (1_000_000 + fps/2) / fps
}

// Timestamps computes presentation times for successfully submitted frames:
// pts(n) = base + n*FrameDuration(frameRate). The index only advances on
// Advance, so failed submissions reuse the same timestamp.
type Timestamps struct {
	base  int64
	step  int64
	index int64
}

// NewTimestamps creates a generator starting at baseUs.
func NewTimestamps(baseUs int64, frameRate int) *Timestamps {
	return &Timestamps{base: baseUs, step: FrameDuration(frameRate)}
}

// Next returns the timestamp for the current frame index.
func (t *Timestamps) Next() int64 {
	return t.base + t.index*t.step
}

// Advance moves to the next frame index.
func (t *Timestamps) Advance() {
	t.index++
}

// Index returns the number of frames accounted for so far.
func (t *Timestamps) Index() int64 {
	return t.index
}

// Step returns the frame duration in microseconds.
func (t *Timestamps) Step() int64 {
	return t.step
}
