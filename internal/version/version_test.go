package version

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withVars(t *testing.T, version, commit, built string) {
	t.Helper()
	oldV, oldC, oldB := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = version, commit, built
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldV, oldC, oldB })
}

func TestReleaseBuildInfo(t *testing.T) {
	withVars(t, "v1.2.3", "0123456789abcdef", "2025-01-02T03:04:05Z")

	info := GetBuildInfo("typst 0.13.1 (8ace67d9)\n")
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), info.BuildTime.UTC())
	assert.Equal(t, "typst 0.13.1 (8ace67d9)", info.Engine)
	assert.Equal(t, "v1.2.3 (0123456)", info.Short())
	assert.True(t, IsRelease())

	detailed := info.Detailed()
	assert.Contains(t, detailed, "Version: v1.2.3")
	assert.Contains(t, detailed, "Built: 2025-01-02T03:04:05Z")
	assert.Contains(t, detailed, "Engine: typst 0.13.1")
	assert.True(t, strings.HasPrefix(detailed, "Version:"))
}

func TestParseBuildTime(t *testing.T) {
	tests := []struct {
		in   string
		zero bool
	}{
		{"unknown", true},
		{"", true},
		{"yesterday", true},
		{"2025-01-02T03:04:05Z", false},
		{"2025-01-02T03:04:05", false},
		{"2025-01-02 03:04:05", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.zero, parseBuildTime(tt.in).IsZero(), tt.in)
	}
}

func TestDetailedOmitsUnknowns(t *testing.T) {
	info := &BuildInfo{Version: "dev", GitCommit: "unknown", GoVersion: "go1.24", Platform: "linux/amd64"}
	assert.Equal(t, "Version: dev\nGo: go1.24\nPlatform: linux/amd64", info.Detailed())
	assert.Equal(t, "dev", info.Short())
}
