package version

import (
	"runtime/debug"
	"strings"
)

// Version is the agent version injected at build time via -ldflags.
var Version = ""

// Value returns the most useful version string available, in order: the
// injected Version, the module version, the VCS tag, the VCS revision, "dev".
func Value() string {
	if Version != "" {
		return Version
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	var vcsTag, vcsRev string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.tag":
			vcsTag = setting.Value
		case "vcs.revision":
			vcsRev = setting.Value
		}
	}
	if vcsTag != "" {
		return vcsTag
	}
	if vcsRev != "" {
		return vcsRev
	}
	return "dev"
}

// AppID identifies the agent to backend APIs, e.g. "tenant-usage-agent/1.2.0".
// Characters outside the AWS app id alphabet are replaced.
func AppID() string {
	v := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, Value())
	return "tenant-usage-agent/" + v
}
