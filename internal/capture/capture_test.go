package capture

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camrec/internal/media"
)

func collect(ctx context.Context, t *testing.T, src Source) ([]media.Frame, error) {
	t.Helper()
	var frames []media.Frame
	err := src.Run(ctx, func(f media.Frame) { frames = append(frames, f) })
	return frames, err
}

func TestNew(t *testing.T) {
	src, err := New(Config{Kind: "testpattern", Width: 64, Height: 48, FrameRate: 30}, nil)
	require.NoError(t, err)
	assert.IsType(t, &TestPattern{}, src)

	src, err = New(Config{Kind: "v4l2", Width: 64, Height: 48, FrameRate: 30}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FFmpegSource{}, src)

	_, err = New(Config{Kind: "webcam", Width: 64, Height: 48, FrameRate: 30}, nil)
	assert.ErrorIs(t, err, media.ErrConfiguration)

	_, err = New(Config{Width: 63, Height: 48, FrameRate: 30}, nil)
	assert.ErrorIs(t, err, media.ErrConfiguration)

	_, err = New(Config{Width: 64, Height: 48}, nil)
	assert.ErrorIs(t, err, media.ErrConfiguration)
}

func TestTestPattern_FrameLimit(t *testing.T) {
	src := NewTestPattern(Config{Width: 64, Height: 48, FrameRate: 100, Layout: media.LayoutNV21, Frames: 5})

	frames, err := collect(context.Background(), t, src)
	require.NoError(t, err)
	require.Len(t, frames, 5)

	for _, f := range frames {
		assert.True(t, f.Valid())
		assert.Len(t, f.Data, 64*48*3/2)
		assert.Equal(t, media.LayoutNV21, f.Layout)
		assert.False(t, f.CapturedAt.IsZero())
	}
	assert.NotEqual(t, frames[0].Data, frames[1].Data, "pattern scrolls")
}

func TestTestPattern_Cancel(t *testing.T) {
	src := NewTestPattern(Config{Width: 64, Height: 48, FrameRate: 50, Layout: media.LayoutNV21})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	frames, err := collect(ctx, t, src)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, frames)
}

func TestTestPattern_ChromaOrder(t *testing.T) {
	cfg := Config{Width: 16, Height: 2, FrameRate: 1}

	cfg.Layout = media.LayoutNV21
	nv21 := NewTestPattern(cfg).Render(0)
	cfg.Layout = media.LayoutNV12
	nv12 := NewTestPattern(cfg).Render(0)
	cfg.Layout = media.LayoutI420
	i420 := NewTestPattern(cfg).Render(0)

	luma := 16 * 2
	assert.Equal(t, nv21[:luma], nv12[:luma])
	// First bar is white, second yellow (U=16, V=146); bars are two pixels wide.
	assert.Equal(t, byte(235), nv21[0])
	assert.Equal(t, byte(146), nv21[luma+2], "V first in NV21")
	assert.Equal(t, byte(16), nv21[luma+3])
	assert.Equal(t, byte(16), nv12[luma+2], "U first in NV12")
	assert.Equal(t, byte(146), nv12[luma+3])
	assert.Equal(t, byte(16), i420[luma+1])
	assert.Equal(t, byte(146), i420[luma+luma/4+1])
}

func TestFFmpegSource_Command(t *testing.T) {
	src := NewFFmpegSource(Config{Width: 640, Height: 480, FrameRate: 30, Layout: media.LayoutNV21}, testLogger())
	args := src.Command("ffmpeg").Args

	assertSequence(t, args, "-f", "v4l2")
	assertSequence(t, args, "-framerate", "30")
	assertSequence(t, args, "-video_size", "640x480")
	assertSequence(t, args, "-i", "/dev/video0")
	assertSequence(t, args, "-pix_fmt", "nv21")
	assertSequence(t, args, "-f", "rawvideo")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestFFmpegSource_Lavfi(t *testing.T) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}

	src := NewFFmpegSource(Config{
		Format:     "lavfi",
		Device:     "testsrc2=size=64x48:rate=25",
		FFmpegPath: path,
		Width:      64,
		Height:     48,
		FrameRate:  25,
		Layout:     media.LayoutNV21,
		Frames:     10,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	frames, err := collect(ctx, t, src)
	require.NoError(t, err)
	require.Len(t, frames, 10)
	assert.Len(t, frames[0].Data, 64*48*3/2)
}

func assertSequence(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i := range args[:len(args)-1] {
		if args[i] == flag && args[i+1] == value {
			return
		}
	}
	t.Errorf("%s %s not found in %v", flag, value, args)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
