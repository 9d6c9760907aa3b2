package petgateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionInfo(t *testing.T) {
	defer func(c, d string) { GitCommit, BuildDate = c, d }(GitCommit, BuildDate)

	GitCommit, BuildDate = "", ""
	assert.Equal(t, "pet-gateway "+Version, VersionInfo("pet-gateway"))

	GitCommit, BuildDate = "0123456789abcdef", "2026-03-01"
	assert.Equal(t, "pet-core "+Version+" (01234567) built 2026-03-01", VersionInfo("pet-core"))

	GitCommit = "abc"
	assert.Contains(t, VersionInfo("x"), "(abc)")
}
