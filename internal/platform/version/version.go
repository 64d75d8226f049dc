// Package version exposes build information injected via ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Build information, injected via ldflags at build time
var (
	// Version is the git tag or semantic version
	Version = "dev"
	// Commit is the git commit SHA
	Commit = "unknown"
	// BuildTime is the ISO 8601 build timestamp
	BuildTime = "unknown"
)

// Info holds complete build information
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build information
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// UserAgent renders the outbound User-Agent, substituting the build version
// for a "%s" verb in template. Templates without a verb are returned as is.
func UserAgent(template string) string {
	if !strings.Contains(template, "%s") {
		return template
	}
	return fmt.Sprintf(template, Version)
}
