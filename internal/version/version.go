// Package version reports the build version shared by the CLI and the
// daemon. The daemon health endpoint exposes it and the CLI compares it
// against a running daemon to decide whether a restart is needed.
package version

import "runtime/debug"

// Version is stamped via -ldflags on release builds. Unstamped builds
// derive a short commit hash from the binary's VCS metadata instead,
// so a daemon built from source still gets a comparable version.
var Version = "dev"

func init() {
	if Version == "dev" {
		Version = fromBuildInfo()
	}
}

func fromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	revision, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return "dev"
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		revision += "-dirty"
	}
	return revision
}

// Full returns the version plus the VCS commit time when the binary
// carries one. Used by `reviewer version -v`.
func Full() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.time" {
			return Version + " " + s.Value
		}
	}
	return Version
}
