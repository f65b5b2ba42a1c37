package ffmpeg

import (
	"path/filepath"
	"strings"
)

// SoftwareH264Encoder is the encoder used when no hardware encoder applies.
const SoftwareH264Encoder = "libx264"

// AutoCodec asks SelectH264Encoder to choose the encoder.
const AutoCodec = "auto"

// h264Encoders maps hardware acceleration types to their H.264 encoder.
var h264Encoders = map[string]string{
	"cuda":         "h264_nvenc",
	"nvenc":        "h264_nvenc",
	"qsv":          "h264_qsv",
	"vaapi":        "h264_vaapi",
	"videotoolbox": "h264_videotoolbox",
	"amf":          "h264_amf",
	"v4l2m2m":      "h264_v4l2m2m",
}

// hwAccelPreference is the probe order for automatic selection.
var hwAccelPreference = []string{"cuda", "qsv", "vaapi", "videotoolbox", "v4l2m2m"}

var hwEncoderSuffixes = []string{
	"_nvenc", "_qsv", "_vaapi", "_videotoolbox", "_amf", "_mf", "_omx", "_v4l2m2m",
}

// H264Encoder returns the H.264 encoder for a hardware acceleration type.
// Unknown or empty types get the software encoder.
func H264Encoder(hwaccel string) string {
	if enc, ok := h264Encoders[strings.ToLower(hwaccel)]; ok {
		return enc
	}
	return SoftwareH264Encoder
}

// IsHardwareEncoder reports whether name is a hardware-backed encoder.
func IsHardwareEncoder(name string) bool {
	name = strings.ToLower(name)
	for _, suffix := range hwEncoderSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// SelectH264Encoder picks an H.264 encoder the binary supports. An explicit
// hwaccel is honoured when both the acceleration and its encoder exist;
// "auto" walks the preference list. Anything else falls back to the
// software encoder with no acceleration.
func SelectH264Encoder(info *BinaryInfo, hwaccel string) (codec, accel string) {
	hwaccel = strings.ToLower(hwaccel)
	candidates := []string{hwaccel}
	switch hwaccel {
	case "", "none":
		return SoftwareH264Encoder, ""
	case "auto":
		candidates = hwAccelPreference
	}

	for _, candidate := range candidates {
		enc, ok := h264Encoders[candidate]
		if !ok {
			continue
		}
		if info.HasHWAccel(candidate) && info.HasEncoder(enc) {
			return enc, candidate
		}
	}
	return SoftwareH264Encoder, ""
}

// VAAPIDevice returns the first DRI render node, or "" when there is none.
func VAAPIDevice() string {
	matches, _ := filepath.Glob("/dev/dri/renderD*")
	if len(matches) == 0 {
		return ""
	}
	return matches[0]
}
