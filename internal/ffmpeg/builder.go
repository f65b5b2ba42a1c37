package ffmpeg

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// PipeStdin and PipeStdout are the FFmpeg URLs for the child's standard
// streams.
const (
	PipeStdin  = "pipe:0"
	PipeStdout = "pipe:1"
)

// CommandBuilder assembles an argument list in FFmpeg's positional order:
// global options, input options, -i, filters, output options, output.
type CommandBuilder struct {
	binary        string
	logger        *slog.Logger
	usageInterval time.Duration

	global  []string
	in      []string
	filters []string
	out     []string

	input  string
	output string
}

// NewCommandBuilder starts a command for binary at -loglevel error.
func NewCommandBuilder(binary string) *CommandBuilder {
	return &CommandBuilder{
		binary: binary,
		global: []string{"-loglevel", "error"},
	}
}

// opt appends flag and value unless value is empty.
func opt(args []string, flag, value string) []string {
	if value == "" {
		return args
	}
	return append(args, flag, value)
}

// positive formats n, or returns "" when n is not positive.
func positive(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// hwType normalizes an hwaccel name; "", "none" and "auto" mean no device.
func hwType(name string) string {
	switch name {
	case "none", "auto":
		return ""
	}
	return name
}

// Logger receives the child's stderr lines at debug level.
func (b *CommandBuilder) Logger(logger *slog.Logger) *CommandBuilder {
	b.logger = logger
	return b
}

// SampleUsage polls the child with gopsutil at interval and meters its
// piped stdin and stdout.
func (b *CommandBuilder) SampleUsage(interval time.Duration) *CommandBuilder {
	b.usageInterval = interval
	return b
}

func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.global = append(b.global, "-hide_banner")
	return b
}

// NoStats disables the periodic progress line on stderr.
func (b *CommandBuilder) NoStats() *CommandBuilder {
	b.global = append(b.global, "-nostats")
	return b
}

// InitHWDevice opens a hardware device named hw and routes filters to it.
// device may be empty to let FFmpeg pick the default node.
func (b *CommandBuilder) InitHWDevice(accel, device string) *CommandBuilder {
	accel = hwType(accel)
	if accel == "" {
		return b
	}
	hwSpec := accel + "=hw"
	if device != "" {
		hwSpec += ":" + device
	}
	b.global = append(b.global, "-init_hw_device", hwSpec, "-filter_hw_device", "hw")
	return b
}

// HWUploadFilter moves NV12 frames from system memory onto the device so a
// hardware encoder can read them.
func (b *CommandBuilder) HWUploadFilter(accel string) *CommandBuilder {
	switch hwType(accel) {
	case "":
	case "cuda", "nvenc":
		b.filters = append(b.filters, "format=nv12,hwupload_cuda")
	case "qsv":
		b.filters = append(b.filters, "format=nv12,hwupload=extra_hw_frames=64")
	default:
		b.filters = append(b.filters, "format=nv12,hwupload")
	}
	return b
}

// RawVideoInput declares the input as headerless frames of the given
// geometry.
func (b *CommandBuilder) RawVideoInput(pixFmt string, width, height, frameRate int) *CommandBuilder {
	b.in = append(b.in, "-f", "rawvideo", "-pix_fmt", pixFmt)
	b.in = opt(b.in, "-s", size(width, height))
	b.in = opt(b.in, "-r", positive(frameRate))
	return b
}

// InputFormat forces the demuxer, e.g. v4l2 or lavfi.
func (b *CommandBuilder) InputFormat(format string) *CommandBuilder {
	b.in = opt(b.in, "-f", format)
	return b
}

func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.in = append(b.in, args...)
	return b
}

func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.out = opt(b.out, "-c:v", codec)
	return b
}

// VideoBitrate sets the target rate in bits per second.
func (b *CommandBuilder) VideoBitrate(bps int) *CommandBuilder {
	b.out = opt(b.out, "-b:v", positive(bps))
	return b
}

func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.out = opt(b.out, "-preset", preset)
	return b
}

// Tune is libx264 only, e.g. zerolatency.
func (b *CommandBuilder) Tune(tune string) *CommandBuilder {
	b.out = opt(b.out, "-tune", tune)
	return b
}

// GOPSize sets the key frame distance in frames.
func (b *CommandBuilder) GOPSize(frames int) *CommandBuilder {
	b.out = opt(b.out, "-g", positive(frames))
	return b
}

// NoBFrames keeps decode order equal to capture order.
func (b *CommandBuilder) NoBFrames() *CommandBuilder {
	b.out = append(b.out, "-bf", "0")
	return b
}

func (b *CommandBuilder) PixelFormat(pixFmt string) *CommandBuilder {
	b.out = opt(b.out, "-pix_fmt", pixFmt)
	return b
}

// Scale resizes output frames.
func (b *CommandBuilder) Scale(width, height int) *CommandBuilder {
	b.out = opt(b.out, "-s", size(width, height))
	return b
}

// OutputFormat forces the muxer, e.g. h264 for a bare Annex-B stream.
func (b *CommandBuilder) OutputFormat(format string) *CommandBuilder {
	b.out = opt(b.out, "-f", format)
	return b
}

// ExtraOutputArgs appends a user supplied option string, split like a
// shell would split it.
func (b *CommandBuilder) ExtraOutputArgs(s string) *CommandBuilder {
	b.out = append(b.out, splitArgs(s)...)
	return b
}

func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build returns the command. The builder may be reused afterwards.
func (b *CommandBuilder) Build() *Command {
	args := make([]string, 0, len(b.global)+len(b.in)+len(b.out)+6)
	args = append(args, b.global...)
	args = append(args, b.in...)
	args = append(args, "-i", b.input)
	if len(b.filters) > 0 {
		args = append(args, "-vf", strings.Join(b.filters, ","))
	}
	args = append(args, b.out...)
	args = append(args, b.output)

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{
		Binary:        b.binary,
		Args:          args,
		Input:         b.input,
		Output:        b.output,
		logger:        logger,
		usageInterval: b.usageInterval,
		stderr:        newLineRing(stderrTailLines),
	}
}

func size(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", width, height)
}

// splitArgs splits s on unquoted whitespace. Single and double quotes group
// words and a backslash escapes the next rune.
func splitArgs(s string) []string {
	var (
		args  []string
		word  strings.Builder
		quote rune
		esc   bool
		open  bool
	)
	for _, r := range s {
		switch {
		case esc:
			word.WriteRune(r)
			esc = false
		case r == '\\':
			esc, open = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, open = r, true
		case unicode.IsSpace(r):
			if open {
				args = append(args, word.String())
				word.Reset()
				open = false
			}
		default:
			word.WriteRune(r)
			open = true
		}
	}
	if open {
		args = append(args, word.String())
	}
	return args
}
