package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBuildInfo_FillsUnsetFields(t *testing.T) {
	saved := [3]string{Version, Commit, Date}
	t.Cleanup(func() { Version, Commit, Date = saved[0], saved[1], saved[2] })

	Version, Commit, Date = "dev", unknown, "2026-01-01"

	fromBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-02-02T00:00:00Z"},
		},
	})

	assert.Equal(t, "v0.3.0", Version)
	assert.Equal(t, "abc123", Commit)
	assert.Equal(t, "2026-01-01", Date)
	assert.Equal(t, "defectminer v0.3.0 (commit: abc123, built: 2026-01-01)", String())
}

func TestFromBuildInfo_IgnoresDevelVersion(t *testing.T) {
	saved := Version
	t.Cleanup(func() { Version = saved })

	Version = "dev"

	fromBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	assert.Equal(t, "dev", Version)
}
