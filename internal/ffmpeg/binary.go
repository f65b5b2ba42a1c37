// Package ffmpeg locates the FFmpeg binary, builds child commands and
// samples their resource use.
package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryEnvVar overrides the FFmpeg binary location.
const BinaryEnvVar = "CAMREC_FFMPEG_BINARY"

// BinaryInfo describes an FFmpeg build.
type BinaryInfo struct {
	Path     string `json:"path"`
	Version  string `json:"version"`
	Major    int    `json:"major"`
	Minor    int    `json:"minor"`
	Compiler string `json:"compiler,omitempty"`
	// Configuration holds the ./configure flags the build was made with.
	Configuration []string `json:"configuration,omitempty"`
	VideoEncoders []string `json:"video_encoders,omitempty"`
	HWAccels      []string `json:"hwaccels,omitempty"`
}

// HasEncoder reports whether name is one of the build's video encoders.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.VideoEncoders, name)
}

// HasHWAccel reports whether the build lists the hwaccel method.
func (info *BinaryInfo) HasHWAccel(name string) bool {
	return slices.Contains(info.HWAccels, name)
}

// BinaryDetector probes an FFmpeg binary and caches the result.
type BinaryDetector struct {
	path string
	ttl  time.Duration

	mu      sync.Mutex
	info    *BinaryInfo
	expires time.Time
}

// NewBinaryDetector probes path, or the result of LookupBinary when path is
// empty. Results are cached for five minutes.
func NewBinaryDetector(path string) *BinaryDetector {
	return &BinaryDetector{path: path, ttl: 5 * time.Minute}
}

// WithCacheTTL changes how long a probe result is reused.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.ttl = ttl
	return d
}

// Detect returns the cached probe result or runs a new probe. Concurrent
// callers share one probe.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Now().Before(d.expires) {
		return d.info, nil
	}
	info, err := probeBinary(ctx, d.path)
	if err != nil {
		return nil, err
	}
	d.info, d.expires = info, time.Now().Add(d.ttl)
	return info, nil
}

// Invalidate drops the cached result.
func (d *BinaryDetector) Invalidate() {
	d.mu.Lock()
	d.info = nil
	d.mu.Unlock()
}

func probeBinary(ctx context.Context, path string) (*BinaryInfo, error) {
	if path == "" {
		found, err := LookupBinary("ffmpeg", BinaryEnvVar)
		if err != nil {
			return nil, err
		}
		path = found
	}

	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("running %s -version: %w", path, err)
	}
	info, err := parseVersion(string(out))
	if err != nil {
		return nil, err
	}
	info.Path = path

	// Older builds may lack -hwaccels; the version alone is enough to run.
	if out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output(); err == nil {
		info.VideoEncoders = parseEncoders(string(out))
	}
	if out, err := exec.CommandContext(ctx, path, "-hide_banner", "-hwaccels").Output(); err == nil {
		info.HWAccels = parseHWAccels(string(out))
	}
	return info, nil
}

var (
	versionLine = regexp.MustCompile(`^ffmpeg version (\S+)`)
	versionNum  = regexp.MustCompile(`^n?(\d+)\.(\d+)`)
	encoderLine = regexp.MustCompile(`^\s*V[A-Z.]{5}\s+(\S+)`)
)

func parseVersion(output string) (*BinaryInfo, error) {
	info := &BinaryInfo{}
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		if m := versionLine.FindStringSubmatch(line); m != nil {
			info.Version = m[1]
			if n := versionNum.FindStringSubmatch(m[1]); n != nil {
				info.Major, _ = strconv.Atoi(n[1])
				info.Minor, _ = strconv.Atoi(n[2])
			}
		} else if rest, ok := strings.CutPrefix(line, "built with "); ok {
			info.Compiler = rest
		} else if rest, ok := strings.CutPrefix(line, "configuration:"); ok {
			info.Configuration = strings.Fields(rest)
		}
	}
	if info.Version == "" {
		return nil, fmt.Errorf("unrecognised ffmpeg -version output")
	}
	return info, nil
}

// parseEncoders returns the video encoder names listed after the legend.
func parseEncoders(output string) []string {
	_, list, ok := strings.Cut(output, "------")
	if !ok {
		return nil
	}
	var names []string
	sc := bufio.NewScanner(strings.NewReader(list))
	for sc.Scan() {
		if m := encoderLine.FindStringSubmatch(sc.Text()); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}

func parseHWAccels(output string) []string {
	_, list, ok := strings.Cut(output, "Hardware acceleration methods:")
	if !ok {
		return nil
	}
	return strings.Fields(list)
}

// LookupBinary finds an executable named name. $envVar wins when it points
// at an executable, then ./name, then $PATH.
func LookupBinary(name, envVar string) (string, error) {
	candidates := []string{"./" + name}
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" {
			candidates = slices.Insert(candidates, 0, p)
		}
	}
	for _, p := range candidates {
		if executable(p) {
			return p, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%s binary not found", name)
}

func executable(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular() && st.Mode().Perm()&0o111 != 0
}
