package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/lexfront/connkit/version.Version=v0.3.0"
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info is the build identity served by the status API and logged at startup.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

var readBuildInfo = sync.OnceValues(debug.ReadBuildInfo)

// Get returns build information. Linker-set values win over VCS stamps.
func Get() Info {
	info := Info{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	info.Module = bi.Main.Path
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// Short renders "<version>[-<commit7>][-dirty]".
func (i Info) Short() string {
	parts := []string{i.Version}
	if i.GitCommit != "" {
		parts = append(parts, shortCommit(i.GitCommit))
	}
	if i.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "-")
}

// String renders Short plus the build time.
func (i Info) String() string {
	if i.BuildTime == "" {
		return i.Short()
	}
	return fmt.Sprintf("%s (built %s)", i.Short(), i.BuildTime)
}

// Fields returns the info as structured log fields.
func (i Info) Fields() map[string]any {
	return map[string]any{
		"version":    i.Version,
		"git_commit": shortCommit(i.GitCommit),
		"go_version": i.GoVersion,
	}
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
