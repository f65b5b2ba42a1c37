package encoder

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/camrec/internal/ffmpeg"
	"github.com/jmylchreest/camrec/internal/media"
)

func TestFFmpegBackend_Name(t *testing.T) {
	b := NewFFmpegBackend(FFmpegOptions{}, nil, nil)
	assert.Equal(t, "ffmpeg:libx264", b.Name())

	b = NewFFmpegBackend(FFmpegOptions{Codec: "h264_vaapi"}, nil, nil)
	assert.Equal(t, "ffmpeg:h264_vaapi", b.Name())
}

func TestFFmpegBackend_NotStarted(t *testing.T) {
	b := NewFFmpegBackend(FFmpegOptions{}, nil, nil)

	_, err := b.DequeueInput(0)
	assert.Error(t, err)
	_, err = b.DequeueOutput(0)
	assert.Error(t, err)
	assert.NoError(t, b.Close())
}

func TestFFmpegBackend_BuildCommand(t *testing.T) {
	b := NewFFmpegBackend(FFmpegOptions{Binary: "/usr/bin/ffmpeg", Preset: "ultrafast", Tune: "zerolatency"}, nil, nil)
	require.NoError(t, b.Configure(Config{Width: 640, Height: 480, FrameRate: 24, Bitrate: 1_000_000, IFrameIntervalSeconds: 2}))

	cmd := b.buildCommand().String()
	assert.Contains(t, cmd, "-f rawvideo -pix_fmt nv12 -s 640x480 -r 24 -i pipe:0")
	assert.Contains(t, cmd, "-c:v libx264")
	assert.Contains(t, cmd, "-b:v 1000000")
	assert.Contains(t, cmd, "-g 48")
	assert.Contains(t, cmd, "-bf 0")
	assert.Contains(t, cmd, "-preset ultrafast")
	assert.Contains(t, cmd, "-tune zerolatency")
	assert.Contains(t, cmd, "-f h264 pipe:1")
}

func TestFFmpegBackend_Encode(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}
	detector := ffmpeg.NewBinaryDetector("")
	info, err := detector.Detect(context.Background())
	if err != nil || !info.HasEncoder("libx264") {
		t.Skip("ffmpeg without libx264")
	}

	backend := NewFFmpegBackend(FFmpegOptions{Preset: "ultrafast", Tune: "zerolatency"}, detector, nil)
	s := NewSession(backend, nil, WithInputTimeout(time.Second))
	require.NoError(t, s.Configure(Config{Width: 64, Height: 48, FrameRate: 10, IFrameIntervalSeconds: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Release()

	const frames = 10
	var (
		track   media.TrackDescriptor
		samples []media.EncodedSample
		eos     bool
	)
	drain := func() {
		for {
			ev, err := s.PollOutput(10 * time.Millisecond)
			require.NoError(t, err)
			switch ev.Kind {
			case EventNoData:
				return
			case EventFormatReady:
				track = ev.Track
			case EventSample:
				if ev.Sample.IsEndOfStream() {
					eos = true
					return
				}
				sample := ev.Sample
				sample.Data = append([]byte(nil), sample.Data...)
				samples = append(samples, sample)
			}
		}
	}

	ts := NewTimestamps(DefaultPTSBaseUs, 10)
	for i := 0; i < frames; i++ {
		ok, err := s.SubmitInput(gradientNV12(64, 48, i), ts.Next(), false)
		require.NoError(t, err)
		require.True(t, ok)
		ts.Advance()
		drain()
	}
	ok, err := s.SubmitInput(nil, ts.Next(), true)
	require.NoError(t, err)
	require.True(t, ok)

	deadline := time.Now().Add(20 * time.Second)
	for !eos && time.Now().Before(deadline) {
		drain()
	}
	require.True(t, eos, "no end of stream from ffmpeg")

	assert.Equal(t, 64, track.Width)
	assert.Equal(t, 48, track.Height)
	require.Len(t, samples, frames)
	assert.True(t, samples[0].IsKeyFrame())
	for i, sample := range samples {
		assert.Equal(t, DefaultPTSBaseUs+int64(i)*100000, sample.PTS)

		var au h264.AnnexB
		require.NoError(t, au.Unmarshal(sample.Data))
		for _, nalu := range au {
			typ := h264.NALUType(nalu[0] & 0x1F)
			assert.NotEqual(t, h264.NALUTypeSPS, typ)
			assert.NotEqual(t, h264.NALUTypePPS, typ)
		}
	}
}
