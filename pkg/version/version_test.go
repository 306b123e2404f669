package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semver.MatchString(Version), "got %s", Version)
}

func TestString(t *testing.T) {
	s := String()
	assert.Contains(t, s, "amanrecall "+Version)
	assert.Contains(t, s, runtime.Version())
	assert.Equal(t, Version, Short())
}

func TestGetInfo_JSON(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	for _, k := range []string{"version", "commit", "date", "go_version", "os", "arch"} {
		assert.Contains(t, got, k)
	}
}

func TestWithVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	t.Run("fills unset fields", func(t *testing.T) {
		info := withVCS(BuildInfo{Commit: "unknown", Date: "unknown"}, settings)

		assert.Equal(t, "0123456789ab", info.Commit)
		assert.Equal(t, "2026-03-01T10:00:00Z", info.Date)
		assert.True(t, info.Dirty)
	})

	t.Run("ldflags win", func(t *testing.T) {
		info := withVCS(BuildInfo{Commit: "abc1234", Date: "2026-01-01"}, settings)

		assert.Equal(t, "abc1234", info.Commit)
		assert.Equal(t, "2026-01-01", info.Date)
	})

	t.Run("no vcs stamp", func(t *testing.T) {
		info := withVCS(BuildInfo{Commit: "unknown", Date: "unknown"}, nil)

		assert.Equal(t, "unknown", info.Commit)
		assert.False(t, info.Dirty)
	})
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "amanrecall/"+Version, UserAgent())
}
