// Package version reports the version of memedit and the modules it was
// built from.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of memedit.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// MemeditVersion is the current version of memedit.
var MemeditVersion = Version{
	Major: "0", Minor: "3", Patch: "0",
	Build: "$Id$",
}

func (v Version) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		sb.WriteString("-" + v.Metadata)
	}
	build := v.Build
	if strings.HasPrefix(build, "$Id") {
		build = vcsRevision()
	}
	fmt.Fprintf(&sb, "\nBuild: %s", build)
	return sb.String()
}

// vcsRevision returns the commit recorded by the go tool, or "unknown".
func vcsRevision() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}
	return "unknown"
}

// BuildInfo lists the Go version and every module linked into the binary,
// one per line.
func BuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return runtime.Version() + "\nnot built in module mode"
	}
	lines := []string{runtime.Version(), module(info.Main)}
	for _, dep := range info.Deps {
		lines = append(lines, module(*dep))
	}
	return strings.Join(lines, "\n")
}

func module(m debug.Module) string {
	s := fmt.Sprintf("%s %s", m.Path, m.Version)
	if m.Replace != nil {
		s += " => " + module(*m.Replace)
	}
	return s
}
