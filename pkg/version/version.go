// Package version carries build metadata. Release builds set the variables
// with -ldflags "-X github.com/Sumatoshi-tech/defectminer/pkg/version.Version=...".
package version

import (
	"fmt"
	"runtime/debug"
)

const unknown = "<unknown>"

var (
	// Version is the release version.
	Version = "dev"
	// Commit is the git hash the binary was built from.
	Commit = unknown
	// Date is the build time.
	Date = unknown
)

// Init fills Commit and Date from the module's VCS stamp when the linker did
// not set them.
func Init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == unknown {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == unknown {
				Date = s.Value
			}
		}
	}
}

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("defectminer %s (commit: %s, built: %s)", Version, Commit, Date)
}
