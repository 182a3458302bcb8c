package buildinfo

import (
	"runtime"
	"runtime/debug"
)

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/tala/pkg/buildinfo.Version=v2.1.0
// -X github.com/otherjamesbrown/tala/pkg/buildinfo.Commit=b806fe7
// -X github.com/otherjamesbrown/tala/pkg/buildinfo.BuildTime=2026-02-07T10:30:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information for a program.
type Info struct {
	Program   string `json:"program" yaml:"program"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns build info for the named program.
func Get(program string) Info {
	return Info{
		Program:   program,
		Version:   version(),
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String returns a human-readable one-liner like "v2.1.0 (b806fe7, 2026-02-07T10:30:00Z)"
func String() string {
	return version() + " (" + Commit + ", " + BuildTime + ")"
}

// version falls back to the module version recorded by "go install" when
// no version was set at link time.
func version() string {
	if Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return Version
}
