package core

import (
	"fmt"
	"runtime/debug"
	"strings"
)

var Version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		Version = "devel"
		return
	}

	// Use module version for tagged releases (set by go install or goreleaser).
	// Skip pseudo-versions — we use VCS info for local builds instead.
	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		Version = v
		return
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if revision == "" {
		Version = "devel"
		return
	}

	if len(revision) > 12 {
		revision = revision[:12]
	}
	Version = revision
	if dirty {
		Version += "-dirty"
	}
}

// isPseudoVersion reports whether v looks like a Go pseudo-version
// (vX.Y.Z-yyyymmddhhmmss-abcdefabcdef).
func isPseudoVersion(v string) bool {
	parts := strings.Split(v, "-")
	if len(parts) < 3 {
		return false
	}
	stamp := parts[len(parts)-2]
	// Pre-release pseudo-versions carry a "0." (or "pre.0.") prefix
	// before the timestamp
	if idx := strings.LastIndex(stamp, "."); idx >= 0 {
		stamp = stamp[idx+1:]
	}
	return len(stamp) == 14 && !strings.ContainsFunc(stamp, func(r rune) bool {
		return r < '0' || r > '9'
	})
}

// FormatVersion renders a version for display
func FormatVersion(v string) string {
	if v == "" {
		return "unknown"
	}
	if v == "devel" || strings.HasSuffix(v, "-dirty") {
		return fmt.Sprintf("%s (local build)", v)
	}
	return v
}
