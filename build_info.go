package taskapp

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const develVersion = "(devel)"

// BuildInfo describes the binary the library is linked into. `taskapp version`
// prints it, with ldflags values taking precedence over the VCS stamp.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
	Modified  bool
	GoVersion string
}

// ReadBuildInfo reports the module version and VCS stamp of the running binary.
func ReadBuildInfo() BuildInfo {
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return buildInfoFrom(nil)
	}

	return buildInfoFrom(build)
}

func buildInfoFrom(build *debug.BuildInfo) BuildInfo {
	info := BuildInfo{
		Version:   "dev",
		GoVersion: runtime.Version(),
	}

	if build == nil {
		return info
	}

	if build.Main.Version != "" && build.Main.Version != develVersion {
		info.Version = build.Main.Version
	}

	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.Commit = setting.Value
		case "vcs.time":
			info.BuildTime = setting.Value
		case "vcs.modified":
			info.Modified = setting.Value == "true"
		default:
			continue
		}
	}

	return info
}

// WithStamp returns a copy where the non-empty arguments replace the values
// read from the binary.
func (b BuildInfo) WithStamp(version, commit, buildTime string) BuildInfo {
	if version != "" {
		b.Version = version
	}

	if commit != "" {
		b.Commit = commit
	}

	if buildTime != "" {
		b.BuildTime = buildTime
	}

	return b
}

func (b BuildInfo) String() string {
	commit := orUnknown(b.Commit)
	if b.Modified && b.Commit != "" {
		commit += "-dirty"
	}

	return fmt.Sprintf("%s (commit=%s, date=%s, go=%s, os=%s/%s)",
		b.Version, commit, orUnknown(b.BuildTime), b.GoVersion, runtime.GOOS, runtime.GOARCH)
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}

	return value
}
