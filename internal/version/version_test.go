package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetStampedCommit(t *testing.T) {
	old := GitCommit
	GitCommit = "0123456789abcdef"
	defer func() { GitCommit = old }()

	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, "0123456789abcdef", info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Contains(t, info.String(), "commit 0123456789ab,")
}

func TestGetUnstamped(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Commit)
	assert.Contains(t, info.String(), Version)
}
