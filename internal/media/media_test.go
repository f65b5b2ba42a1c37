package media

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelLayout_FrameSize(t *testing.T) {
	tests := []struct {
		layout PixelLayout
		w, h   int
		want   int
	}{
		{LayoutNV21, 640, 480, 460800},
		{LayoutNV12, 4, 2, 12},
		{LayoutI420, 1920, 1080, 3110400},
		{LayoutNV21, 0, 480, 0},
		{LayoutNV21, -2, 2, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%dx%d", tt.layout, tt.w, tt.h), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.layout.FrameSize(tt.w, tt.h))
		})
	}
}

func TestParsePixelLayout(t *testing.T) {
	l, err := ParsePixelLayout("NV21")
	require.NoError(t, err)
	assert.Equal(t, LayoutNV21, l)

	l, err = ParsePixelLayout("yuv420p")
	require.NoError(t, err)
	assert.Equal(t, LayoutI420, l)
	assert.Equal(t, "yuv420p", l.FFmpegPixFmt())

	_, err = ParsePixelLayout("rgb24")
	assert.Error(t, err)
}

func TestFrame_Valid(t *testing.T) {
	f := Frame{Data: make([]byte, 6), Width: 2, Height: 2, Layout: LayoutNV21}
	assert.True(t, f.Valid())

	f.Data = f.Data[:5]
	assert.False(t, f.Valid())
}

func TestSampleFlags(t *testing.T) {
	flags := FlagKeyFrame | FlagEndOfStream
	assert.True(t, flags.Has(FlagKeyFrame))
	assert.False(t, flags.Has(FlagCodecConfig))
	assert.Equal(t, "key|eos", flags.String())
	assert.Equal(t, "none", SampleFlags(0).String())

	s := EncodedSample{Flags: flags}
	assert.True(t, s.IsKeyFrame())
	assert.True(t, s.IsEndOfStream())
}

func TestProtocolError_Is(t *testing.T) {
	wrapped := fmt.Errorf("draining: %w", ErrFormatChangedTwice)

	assert.True(t, errors.Is(wrapped, ErrProtocolViolation))
	assert.True(t, errors.Is(wrapped, ErrFormatChangedTwice))
	assert.False(t, errors.Is(wrapped, ErrMuxerNotStarted))
	assert.True(t, errors.Is(NewProtocolError("container", "write_sample", "muxer not started"), ErrMuxerNotStarted))
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("width", "must be even")
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, "configuration error for width: must be even", err.Error())
	assert.True(t, IsFatal(err))
}

func TestFaultWrappers(t *testing.T) {
	cause := errors.New("broken pipe")

	err := EncoderFault(cause)
	assert.True(t, errors.Is(err, ErrEncoderFault))
	assert.True(t, errors.Is(err, cause))

	err = IOFault(cause)
	assert.True(t, errors.Is(err, ErrIOFault))

	assert.Nil(t, EncoderFault(nil))
	assert.False(t, IsFatal(fmt.Errorf("slot: %w", ErrResourceUnavailable)))
	assert.False(t, IsFatal(nil))
}
