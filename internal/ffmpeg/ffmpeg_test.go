package ffmpeg

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

const sampleVersionOutput = `ffmpeg version n7.1-3-g1234abcd Copyright (c) 2000-2024 the FFmpeg developers
built with gcc 14.2.1 (GCC) 20240910
configuration: --prefix=/usr --enable-libx264 --enable-vaapi
libavutil      59. 39.100 / 59. 39.100
`

const sampleEncodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

const sampleHWAccelsOutput = `Hardware acceleration methods:
vdpau
cuda
vaapi

`

func TestParseVersion(t *testing.T) {
	info, err := parseVersion(sampleVersionOutput)
	require.NoError(t, err)

	assert.Equal(t, "n7.1-3-g1234abcd", info.Version)
	assert.Equal(t, 7, info.Major)
	assert.Equal(t, 1, info.Minor)
	assert.Equal(t, "gcc 14.2.1 (GCC) 20240910", info.Compiler)
	assert.Equal(t, []string{"--prefix=/usr", "--enable-libx264", "--enable-vaapi"}, info.Configuration)

	_, err = parseVersion("not ffmpeg")
	assert.Error(t, err)
}

func TestParseEncoders_VideoOnly(t *testing.T) {
	encoders := parseEncoders(sampleEncodersOutput)
	assert.Equal(t, []string{"libx264", "h264_vaapi"}, encoders)
	assert.Nil(t, parseEncoders("no legend here"))

	info := &BinaryInfo{VideoEncoders: encoders}
	assert.True(t, info.HasEncoder("libx264"))
	assert.False(t, info.HasEncoder("aac"))
	assert.False(t, info.HasEncoder("h264_nvenc"))
}

func TestParseHWAccels(t *testing.T) {
	accels := parseHWAccels(sampleHWAccelsOutput)
	assert.Equal(t, []string{"vdpau", "cuda", "vaapi"}, accels)

	info := &BinaryInfo{HWAccels: accels}
	assert.True(t, info.HasHWAccel("vaapi"))
	assert.False(t, info.HasHWAccel("qsv"))
}

func TestLookupBinary(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	plain := filepath.Join(dir, "not-executable")
	require.NoError(t, os.WriteFile(plain, nil, 0o644))

	t.Setenv("CAMREC_TEST_FFMPEG", bin)
	path, err := LookupBinary("definitely-not-on-path", "CAMREC_TEST_FFMPEG")
	require.NoError(t, err)
	assert.Equal(t, bin, path)

	t.Setenv("CAMREC_TEST_FFMPEG", plain)
	_, err = LookupBinary("definitely-not-on-path", "CAMREC_TEST_FFMPEG")
	assert.Error(t, err)

	_, err = LookupBinary("definitely-not-on-path", "")
	assert.ErrorContains(t, err, "definitely-not-on-path binary not found")
}

func TestBinaryDetector_MissingBinary(t *testing.T) {
	d := NewBinaryDetector(filepath.Join(t.TempDir(), "ffmpeg"))
	_, err := d.Detect(context.Background())
	assert.Error(t, err)
}

func TestCommandBuilder_EncoderPipeline(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		NoStats().
		RawVideoInput("nv12", 640, 480, 24).
		Input(PipeStdin).
		VideoCodec("libx264").
		VideoBitrate(1228800).
		VideoPreset("ultrafast").
		Tune("zerolatency").
		GOPSize(48).
		NoBFrames().
		OutputFormat("h264").
		Output(PipeStdout).
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	str := cmd.String()
	assert.Contains(t, str, "-loglevel error -hide_banner -nostats")
	assert.Contains(t, str, "-f rawvideo -pix_fmt nv12 -s 640x480 -r 24 -i pipe:0")
	assert.Contains(t, str, "-c:v libx264 -b:v 1228800 -preset ultrafast -tune zerolatency -g 48 -bf 0 -f h264")
	assert.Equal(t, PipeStdout, cmd.Args[len(cmd.Args)-1])
}

func TestCommandBuilder_SkipsEmptyOptions(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Input("in").
		VideoBitrate(0).
		VideoPreset("").
		Tune("").
		GOPSize(0).
		InputFormat("").
		Output("out").
		Build()

	assert.Equal(t, []string{"-loglevel", "error", "-i", "in", "out"}, cmd.Args)
}

func TestCommandBuilder_HardwareUpload(t *testing.T) {
	tests := []struct {
		hwType string
		filter string
	}{
		{"vaapi", "-vf format=nv12,hwupload"},
		{"cuda", "-vf format=nv12,hwupload_cuda"},
		{"qsv", "-vf format=nv12,hwupload=extra_hw_frames=64"},
	}

	for _, tt := range tests {
		t.Run(tt.hwType, func(t *testing.T) {
			cmd := NewCommandBuilder("ffmpeg").
				InitHWDevice(tt.hwType, "").
				HWUploadFilter(tt.hwType).
				Input(PipeStdin).
				Output(PipeStdout).
				Build()

			str := cmd.String()
			assert.Contains(t, str, "-init_hw_device "+tt.hwType+"=hw -filter_hw_device hw")
			assert.Contains(t, str, tt.filter)
		})
	}

	cmd := NewCommandBuilder("ffmpeg").InitHWDevice("auto", "").HWUploadFilter("none").Input("a").Output("b").Build()
	assert.NotContains(t, cmd.String(), "hw")
}

func TestCommandBuilder_InitHWDeviceWithPath(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		InitHWDevice("vaapi", "/dev/dri/renderD128").
		Input("a").
		Output("b").
		Build()

	assert.Contains(t, cmd.String(), "-init_hw_device vaapi=hw:/dev/dri/renderD128")
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"-x264-params keyint=48", []string{"-x264-params", "keyint=48"}},
		{`-metadata title="my camera"`, []string{"-metadata", "title=my camera"}},
		{`-vf 'scale=640:480'`, []string{"-vf", "scale=640:480"}},
		{`a\ b c`, []string{"a b", "c"}},
		{"  -an\t-sn  ", []string{"-an", "-sn"}},
		{`-metadata comment=''`, []string{"-metadata", "comment="}},
		{`""`, []string{""}},
		{"", nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, splitArgs(tt.in), tt.in)
	}
}

func TestCommand_NotStarted(t *testing.T) {
	cmd := &Command{Binary: "/usr/bin/ffmpeg", Args: []string{"-version"}}

	assert.Equal(t, 0, cmd.PID())
	assert.Nil(t, cmd.StderrLines())
	_, ok := cmd.Usage()
	assert.False(t, ok)
	assert.Error(t, cmd.Wait())
	assert.NoError(t, cmd.Kill())
}

func TestLineRing(t *testing.T) {
	r := newLineRing(3)
	_, ok := r.last()
	assert.False(t, ok)
	assert.Empty(t, r.lines())

	r.add("a")
	r.add("b")
	assert.Equal(t, []string{"a", "b"}, r.lines())

	r.add("c")
	r.add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.lines())
	last, ok := r.last()
	assert.True(t, ok)
	assert.Equal(t, "d", last)
}

func TestCommandBuilder_ExtraOutputArgs(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Input("in").
		VideoCodec("libx264").
		ExtraOutputArgs(`-x264-params "keyint=48:scenecut=0"`).
		Scale(0, 480).
		Output("out").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "error", "-i", "in",
		"-c:v", "libx264", "-x264-params", "keyint=48:scenecut=0", "out",
	}, cmd.Args)
}

func TestUsageSampler_MetersPipes(t *testing.T) {
	s := StartUsageSampler(os.Getpid(), 10*time.Millisecond)
	defer s.Stop()

	_, err := s.MeterInput(io.Discard).Write(make([]byte, 300))
	require.NoError(t, err)
	_, err = s.MeterOutput(strings.NewReader(strings.Repeat("x", 100))).Read(make([]byte, 64))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return s.Snapshot().Samples >= 2
	}, time.Second, 10*time.Millisecond)

	u := s.Snapshot()
	assert.Equal(t, os.Getpid(), u.PID)
	assert.Equal(t, uint64(300), u.BytesIn)
	assert.Equal(t, uint64(64), u.BytesOut)
	assert.InDelta(t, 300.0/64.0, u.CompressionRatio(), 1e-9)
	assert.Greater(t, u.PeakRSSBytes, uint64(0))
	assert.GreaterOrEqual(t, u.PeakRSSBytes, u.RSSBytes)
	assert.Greater(t, u.InputRate(), 0.0)

	s.Stop()
}

func TestUsage_ZeroOutput(t *testing.T) {
	u := Usage{BytesIn: 10}
	assert.Zero(t, u.CompressionRatio())
	assert.Zero(t, u.InputRate())
}

func TestIntegration_BinaryDetector_Detect(t *testing.T) {
	path := skipIfNoFFmpeg(t)

	detector := NewBinaryDetector(path).WithCacheTTL(time.Hour)
	info, err := detector.Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, path, info.Path)
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.VideoEncoders)
	assert.Positive(t, info.Major)

	again, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info, again)

	detector.Invalidate()
	fresh, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, info, fresh)
}

func TestIntegration_Command_StdoutPipe(t *testing.T) {
	path := skipIfNoFFmpeg(t)

	cmd := NewCommandBuilder(path).
		HideBanner().
		InputFormat("lavfi").
		Input("testsrc=size=64x48:rate=10:duration=0.5").
		PixelFormat("nv12").
		OutputFormat("rawvideo").
		Output(PipeStdout).
		SampleUsage(50 * time.Millisecond).
		Build()

	pipes, err := cmd.Start(context.Background())
	require.NoError(t, err)
	require.Nil(t, pipes.Stdin)
	require.NotNil(t, pipes.Stdout)

	data, err := io.ReadAll(pipes.Stdout)
	require.NoError(t, err)
	require.NoError(t, cmd.Wait())

	u, ok := cmd.Usage()
	require.True(t, ok)
	assert.Equal(t, uint64(len(data)), u.BytesOut)

	frameSize := 64 * 48 * 3 / 2
	assert.Equal(t, 0, len(data)%frameSize)
	assert.Equal(t, 5, len(data)/frameSize)
}
