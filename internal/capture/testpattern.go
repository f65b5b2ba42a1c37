package capture

import (
	"context"
	"time"

	"github.com/jmylchreest/camrec/internal/media"
)

// barColours are the Y, U, V values of the eight SMPTE-style bars.
var barColours = [8][3]byte{
	{235, 128, 128}, // white
	{210, 16, 146},  // yellow
	{170, 166, 16},  // cyan
	{145, 54, 34},   // green
	{106, 202, 222}, // magenta
	{81, 90, 240},   // red
	{41, 240, 110},  // blue
	{16, 128, 128},  // black
}

// TestPattern emits colour bars that scroll one step per frame at the
// configured frame rate.
type TestPattern struct {
	width  int
	height int
	fps    int
	layout media.PixelLayout
	frames int
}

// NewTestPattern creates a test pattern source.
func NewTestPattern(cfg Config) *TestPattern {
	return &TestPattern{
		width:  cfg.Width,
		height: cfg.Height,
		fps:    cfg.FrameRate,
		layout: cfg.Layout,
		frames: cfg.Frames,
	}
}

// Run implements Source. It returns nil once the frame limit is reached and
// ctx.Err() on cancellation.
func (p *TestPattern) Run(ctx context.Context, emit func(media.Frame)) error {
	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()

	for n := 0; p.frames == 0 || n < p.frames; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			emit(media.Frame{
				Data:       p.Render(n),
				Width:      p.width,
				Height:     p.height,
				Layout:     p.layout,
				CapturedAt: now,
			})
		}
	}
	return nil
}

// Render draws frame n. Each call returns a new buffer.
func (p *TestPattern) Render(n int) []byte {
	w, h := p.width, p.height
	data := make([]byte, p.layout.FrameSize(w, h))
	shift := n * 2

	bar := func(x int) [3]byte {
		return barColours[((x+shift)%w)*len(barColours)/w]
	}

	for y := 0; y < h; y++ {
		row := data[y*w : (y+1)*w]
		for x := range row {
			row[x] = bar(x)[0]
		}
	}

	luma := w * h
	cw, ch := w/2, h/2
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			c := bar(x * 2)
			switch p.layout {
			case media.LayoutNV21:
				i := luma + y*w + x*2
				data[i], data[i+1] = c[2], c[1]
			case media.LayoutNV12:
				i := luma + y*w + x*2
				data[i], data[i+1] = c[1], c[2]
			case media.LayoutI420:
				data[luma+y*cw+x] = c[1]
				data[luma+luma/4+y*cw+x] = c[2]
			}
		}
	}
	return data
}
