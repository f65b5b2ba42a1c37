// Package version reports build information of camrec.
//
// Version, Commit and Date are set at build time:
//
//	go build -ldflags "-X github.com/jmylchreest/camrec/internal/version.Version=1.2.3 \
//	                   -X github.com/jmylchreest/camrec/internal/version.Commit=$(git rev-parse HEAD)"
//
// Without ldflags, Commit and Date fall back to the VCS stamp of the build.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "camrec"

// Info is the structured build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build information.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyVCS(&info, bi.Settings)
	}
	return info
}

func applyVCS(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

func (i Info) shortCommit() string {
	if len(i.Commit) >= 8 && i.Commit != "unknown" {
		return i.Commit[:8]
	}
	return ""
}

// String returns a human-readable version line.
func (i Info) String() string {
	if c := i.shortCommit(); c != "" {
		dirty := ""
		if i.Modified {
			dirty = "-dirty"
		}
		return fmt.Sprintf("%s version %s (commit: %s%s, built: %s, %s, %s)",
			ApplicationName, i.Version, c, dirty, i.Date, i.GoVersion, i.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, i.Version, i.GoVersion, i.Platform)
}

// String returns the version line of this binary.
func String() string {
	return GetInfo().String()
}

// Short returns the version for cobra's --version output.
func Short() string {
	info := GetInfo()
	if c := info.shortCommit(); c != "" {
		return fmt.Sprintf("%s (%s)", info.Version, c)
	}
	return info.Version
}

// JSON returns the build information as indented JSON.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
